package documents

import (
	"sort"
	"strings"
)

// candidateRank is the coarse relevance used to choose which matches reach
// the ranker when a search matches more documents than the candidate cap.
type candidateRank struct {
	exactTitle bool
	titleHits  int
	textHits   int
}

func rankCandidate(d Document, terms []string, phrase string) candidateRank {
	title := strings.ToLower(d.Title)
	text := strings.ToLower(d.FullText)
	r := candidateRank{exactTitle: strings.TrimSpace(title) == phrase}
	for _, term := range terms {
		if strings.Contains(title, term) {
			r.titleHits++
		}
		if strings.Contains(text, term) {
			r.textHits++
		}
	}
	return r
}

// titlePhrase is the form an exact title match is compared against.
func titlePhrase(terms []string) string {
	return strings.ToLower(strings.Join(terms, " "))
}

// sortCandidates orders docs the way every Repo orders search candidates.
func sortCandidates(docs []Document, terms []string) {
	phrase := titlePhrase(terms)
	ranks := make(map[string]candidateRank, len(docs))
	for _, d := range docs {
		ranks[d.ID] = rankCandidate(d, terms, phrase)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ri, rj := ranks[docs[i].ID], ranks[docs[j].ID]
		if ri.exactTitle != rj.exactTitle {
			return ri.exactTitle
		}
		if ri.titleHits != rj.titleHits {
			return ri.titleHits > rj.titleHits
		}
		if ri.textHits != rj.textHits {
			return ri.textHits > rj.textHits
		}
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
