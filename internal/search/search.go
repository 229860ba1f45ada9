// Package search ranks documents against a free-text query using a BM25-style
// score over title and extracted full text.
package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	k1 = 1.2
	b  = 0.75

	titleWeight     = 2.0
	exactTitleBonus = 5.0
)

// Doc is a ranking candidate.
type Doc struct {
	ID        string
	Title     string
	Text      string
	CreatedAt time.Time
}

// Result is a scored candidate.
type Result struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Score     float64
}

// Terms lowercases the query and splits it on anything that is not a letter
// or digit. Duplicates are dropped; order of first appearance is kept.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

type prepared struct {
	doc   Doc
	title string
	text  string
	len   float64
}

// Rank scores docs against query and returns those with a positive score,
// best first. Ties break on newer CreatedAt, then ID. limit <= 0 means no limit.
func Rank(query string, docs []Doc, limit int) []Result {
	terms := Terms(query)
	if len(terms) == 0 || len(docs) == 0 {
		return []Result{}
	}

	items := make([]prepared, len(docs))
	var totalLen float64
	for i, d := range docs {
		text := strings.ToLower(d.Text)
		items[i] = prepared{
			doc:   d,
			title: strings.ToLower(d.Title),
			text:  text,
			len:   float64(len(strings.Fields(text))),
		}
		totalLen += items[i].len
	}
	avgLen := totalLen / float64(len(items))

	n := float64(len(items))
	idf := make(map[string]float64, len(terms))
	for _, term := range terms {
		var df float64
		for _, it := range items {
			if strings.Contains(it.title, term) || strings.Contains(it.text, term) {
				df++
			}
		}
		idf[term] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}

	normalizedQuery := strings.Join(terms, " ")
	results := make([]Result, 0, len(items))
	for _, it := range items {
		var score float64
		for _, term := range terms {
			var termScore float64
			if tf := float64(strings.Count(it.text, term)); tf > 0 {
				norm := 1.0
				if avgLen > 0 {
					norm = 1 - b + b*it.len/avgLen
				}
				termScore += tf * (k1 + 1) / (tf + k1*norm)
			}
			if strings.Contains(it.title, term) {
				termScore += titleWeight
			}
			score += idf[term] * termScore
		}
		if score <= 0 {
			continue
		}
		if strings.Join(Terms(it.doc.Title), " ") == normalizedQuery {
			score += exactTitleBonus
		}
		results = append(results, Result{
			ID:        it.doc.ID,
			Title:     it.doc.Title,
			CreatedAt: it.doc.CreatedAt,
			Score:     math.Round(score*10000) / 10000,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
