package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSurname(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Endler", "endler"},
		{"apostrophe", "O'Brien", "obrien"},
		{"particles", "van der Berg", "vanderberg"},
		{"hyphenated", "Smith-Jones", "smithjones"},
		{"digits stripped", "Smith2", "smith"},
		{"empty", "", ""},
		{"punctuation only", "...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSurname(tt.input))
		})
	}
}

func TestPrimaryKey(t *testing.T) {
	t.Run("sorts authors alphabetically", func(t *testing.T) {
		key := PrimaryKey([]string{"Endler", "Rushton", "Roediger"}, "1978")
		assert.Equal(t, "endler_roediger_rushton_1978", key)
	})

	t.Run("order invariant", func(t *testing.T) {
		a := PrimaryKey([]string{"Roediger", "Endler", "Rushton"}, "1978")
		b := PrimaryKey([]string{"Endler", "Rushton", "Roediger"}, "1978")
		assert.Equal(t, a, b)
	})

	t.Run("single author", func(t *testing.T) {
		assert.Equal(t, "simonton_1992", PrimaryKey([]string{"Simonton"}, "1992"))
	})

	t.Run("empty authors yield empty key", func(t *testing.T) {
		assert.Empty(t, PrimaryKey(nil, "1992"))
		assert.Empty(t, PrimaryKey([]string{"..."}, "1992"))
	})
}

func TestLookupKeys(t *testing.T) {
	t.Run("three authors produce full alias set", func(t *testing.T) {
		keys := LookupKeys(CitationHints{
			Author:       "Endler",
			SecondAuthor: "Rushton",
			ThirdAuthor:  "Roediger",
			Year:         "1978",
		})

		require.Len(t, keys, 3)
		assert.Equal(t, "endler_roediger_rushton_1978", keys[0])
		assert.Contains(t, keys, "endler_et_al_1978")
		assert.Contains(t, keys, "endler_1978")
	})

	t.Run("single author has no aliases", func(t *testing.T) {
		keys := LookupKeys(CitationHints{Author: "Simonton", Year: "1992"})
		assert.Equal(t, []string{"simonton_1992"}, keys)
	})

	t.Run("explicit et al adds alias for single author", func(t *testing.T) {
		keys := LookupKeys(CitationHints{Author: "Smith", Year: "2020", EtAl: true})
		assert.Equal(t, []string{"smith_2020", "smith_et_al_2020"}, keys)
	})

	t.Run("no author means no keys", func(t *testing.T) {
		assert.Nil(t, LookupKeys(CitationHints{Year: "2020"}))
	})

	t.Run("primary key comes first", func(t *testing.T) {
		keys := LookupKeys(CitationHints{
			Author:       "Smith",
			SecondAuthor: "Adams",
			Year:         "2019",
		})
		require.NotEmpty(t, keys)
		// Sorting puts adams before smith in the primary key, while the
		// aliases are always first-author based.
		assert.Equal(t, "adams_smith_2019", keys[0])
		assert.Contains(t, keys, "smith_et_al_2019")
		assert.Contains(t, keys, "smith_2019")
	})
}
