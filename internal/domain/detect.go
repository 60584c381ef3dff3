package domain

import (
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`(?i)^https?://\S+$|^www\.\S+$|\bhttps?://\S+`)

	doiPattern = regexp.MustCompile(`(?i)(?:doi[:\s]*)?(10\.\d{4,}/\S+)`)

	// authorYearPattern matches parenthetical and bare author-date
	// fragments: "(Smith, 2020)", "Smith & Jones, 2020",
	// "Endler, Rushton, & Roediger, 1978", "Smith et al., 2020".
	authorYearPattern = regexp.MustCompile(
		`^\(?\s*([A-Z][\w'\-]+)` +
			`(?:\s*,\s*([A-Z][\w'\-]+))?` +
			`(?:\s*,?\s*(?:&|and)\s*([A-Z][\w'\-]+))?` +
			`(\s+et\s+al\.?)?` +
			`\s*,\s*(\d{4}[a-z]?)\s*\)?$`)

	yearSuffixPattern = regexp.MustCompile(`[a-z]$`)
)

// Detect classifies a raw citation fragment and extracts lookup hints.
// It recognizes DOIs, URLs and author-date fragments; anything else is
// returned as-is with empty hints for downstream free-text search.
func Detect(raw string) CitationHints {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CitationHints{}
	}

	if m := doiPattern.FindStringSubmatch(raw); m != nil {
		return CitationHints{DOI: strings.TrimRight(m[1], ".,;")}
	}

	if urlPattern.MatchString(raw) {
		return CitationHints{URL: raw}
	}

	if m := authorYearPattern.FindStringSubmatch(raw); m != nil {
		year := yearSuffixPattern.ReplaceAllString(m[5], "")
		second, third := m[2], m[3]
		if second == "" && third != "" {
			// "Smith & Jones, 2020" binds Jones to the ampersand group.
			second, third = third, ""
		}
		return CitationHints{
			Author:       m[1],
			SecondAuthor: second,
			ThirdAuthor:  third,
			EtAl:         m[4] != "",
			Year:         year,
		}
	}

	return CitationHints{}
}
