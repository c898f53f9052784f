package aggregate

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/eunmann/tabx/pkg/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Stopwords are the words TopWords leaves out.
var Stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "into": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "was": true, "were": true, "which": true, "with": true,
}

// TopWords counts the words of a text column, most frequent first with
// ties ordered alphabetically. Words are NFKC-normalized and case-folded;
// hyphens and apostrophes inside a word are kept ("covid-19"). Single
// characters and Stopwords are skipped. top <= 0 returns every word.
func TopWords(t *table.Table, column string, top int) ([]ValueCount, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if col.Kind() != table.KindText {
		return nil, fmt.Errorf("%w: word counts need text, %q is %s", table.ErrTypeMismatch, column, col.Kind())
	}

	fold := cases.Fold()
	counts := make(map[string]int)
	for i := 0; i < col.Len(); i++ {
		s, ok := col.Text(i)
		if !ok {
			continue
		}
		for _, w := range splitWords(fold.String(norm.NFKC.String(s))) {
			if utf8.RuneCountInString(w) < 2 || Stopwords[w] {
				continue
			}
			counts[w]++
		}
	}

	out := make([]ValueCount, 0, len(counts))
	for w, n := range counts {
		out = append(out, ValueCount{Value: table.TextValue(w), Count: n})
	}
	slices.SortFunc(out, func(a, b ValueCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Value.Str, b.Value.Str)
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out, nil
}

func splitWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	words := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "-'"); f != "" {
			words = append(words, f)
		}
	}
	return words
}
