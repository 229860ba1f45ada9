package util

import (
	"path"
	"strings"
	"unicode"
)

const maxFileNameLen = 200

// SanitizeFileName reduces an uploaded file name to a single safe path segment.
// Separators, control characters and ".." sequences are replaced; an empty
// result falls back to "file".
func SanitizeFileName(name string) string {
	s := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	s = path.Base(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == ':' || unicode.IsControl(r):
			return '_'
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, "._")
	if len(s) > maxFileNameLen {
		s = truncateKeepExt(s, maxFileNameLen)
	}
	if s == "" {
		return "file"
	}
	return s
}

func truncateKeepExt(s string, limit int) string {
	ext := path.Ext(s)
	if len(ext) >= limit {
		ext = ""
	}
	base := strings.TrimSuffix(s, ext)
	cut := limit - len(ext)
	for cut > 0 && !utf8Boundary(base, cut) {
		cut--
	}
	return base[:cut] + ext
}

func utf8Boundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
