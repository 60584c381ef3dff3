package cache

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/citategenie/resolution-service/internal/domain"
)

// ClassifyEdit compares a user's saved citation text against the
// recommendation it started from. At or above the accept threshold the user
// kept the recommendation; at or above the minor-edit threshold they tweaked
// it; below that they replaced it with their own citation.
func (c *TieredCache) ClassifyEdit(saved, recommended string) domain.EditClassification {
	ratio := Similarity(saved, recommended)
	switch {
	case ratio >= c.cfg.AcceptThreshold:
		return domain.EditAcceptedOriginal
	case ratio >= c.cfg.MinorEditThreshold:
		return domain.EditMinor
	default:
		return domain.EditUserProvided
	}
}

// Similarity returns the normalized edit similarity of two strings in [0,1]:
// 1 minus the Levenshtein distance divided by the longer length. Whitespace
// is collapsed first so reflowed text does not register as an edit.
func Similarity(a, b string) float64 {
	a = collapseWhitespace(a)
	b = collapseWhitespace(b)

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
