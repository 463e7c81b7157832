package catalog

import (
	"strings"
	"unicode"

	"github.com/upb/mdm-catalog/models"
	"golang.org/x/text/unicode/norm"
)

// CompareVersions orders two version labels. Labels are split into runs of
// digits and runs of anything else. Digit runs compare numerically, other
// runs case-insensitively, and a digit run sorts after a non-digit run at
// the same position. When one label is a prefix of the other the shorter
// one sorts first.
func CompareVersions(a, b string) int {
	ta, tb := tokenize(a), tokenize(b)
	for i := 0; i < len(ta) && i < len(tb); i++ {
		if c := compareTokens(ta[i], tb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ta) < len(tb):
		return -1
	case len(ta) > len(tb):
		return 1
	}
	return 0
}

type token struct {
	text    string
	numeric bool
}

func tokenize(s string) []token {
	var tokens []token
	start := 0
	for i := 1; i <= len(s); i++ {
		if i == len(s) || isDigit(s[i]) != isDigit(s[i-1]) {
			tokens = append(tokens, token{text: s[start:i], numeric: isDigit(s[start])})
			start = i
		}
	}
	return tokens
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func compareTokens(a, b token) int {
	switch {
	case a.numeric && b.numeric:
		return compareNumeric(a.text, b.text)
	case a.numeric:
		return 1
	case b.numeric:
		return -1
	}
	return strings.Compare(strings.ToLower(a.text), strings.ToLower(b.text))
}

// compareNumeric compares digit strings of any length without parsing them
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// NormalizeVersion folds a label for duplicate detection: "V 1.2.0",
// "1.2" and "1-2" all normalize to "1.2".
func NormalizeVersion(label string) string {
	s := strings.ToLower(norm.NFKC.String(label))
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '-' || r == '_':
			return '.'
		}
		return r
	}, s)
	if len(s) > 1 && s[0] == 'v' && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}
	for strings.HasSuffix(s, ".0") && len(s) > 2 {
		s = strings.TrimSuffix(s, ".0")
	}
	return s
}

// pickLatest returns the greatest version. Equal labels resolve to the most
// recently inserted one, then to the greater id so the result never depends
// on input order.
func pickLatest(versions []*models.ApplicationVersion) *models.ApplicationVersion {
	var latest *models.ApplicationVersion
	for _, v := range versions {
		if latest == nil || newer(v, latest) {
			latest = v
		}
	}
	return latest
}

func newer(a, b *models.ApplicationVersion) bool {
	if c := CompareVersions(a.Version, b.Version); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}
