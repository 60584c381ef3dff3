package domain

import (
	"sort"
	"strings"
)

// etAlToken is the marker used in "et al." alias keys.
const etAlToken = "et_al"

// NormalizeSurname lowers an author surname and strips every non-letter
// character, so "O'Brien" becomes "obrien" and "van der Berg" becomes
// "vanderberg". Returns the empty string when nothing survives.
func NormalizeSurname(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PrimaryKey builds the canonical lookup key for a set of author surnames
// and a year. Surnames are normalized and sorted alphabetically so author
// order in the source text does not affect the key:
//
//	PrimaryKey([]string{"Endler", "Rushton", "Roediger"}, "1978")
//	  == "endler_roediger_rushton_1978"
//
// PrimaryKey is a pure function; it performs no I/O.
func PrimaryKey(authors []string, year string) string {
	normalized := make([]string, 0, len(authors))
	for _, a := range authors {
		if n := NormalizeSurname(a); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return ""
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "_") + "_" + year
}

// LookupKeys returns every key a citation may be addressed by, primary key
// first. A citation "(Endler, Rushton, & Roediger, 1978)" is also reachable
// as "endler_et_al_1978" and "endler_1978", because later references in a
// document commonly collapse to those forms.
func LookupKeys(hints CitationHints) []string {
	authors := hints.Authors()
	primary := PrimaryKey(authors, hints.Year)
	if primary == "" {
		return nil
	}

	keys := []string{primary}
	first := NormalizeSurname(hints.Author)
	if first == "" {
		return keys
	}

	if len(authors) > 1 || hints.EtAl {
		keys = appendUnique(keys, first+"_"+etAlToken+"_"+hints.Year)
	}
	if len(authors) > 1 {
		keys = appendUnique(keys, first+"_"+hints.Year)
	}
	return keys
}

func appendUnique(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}
