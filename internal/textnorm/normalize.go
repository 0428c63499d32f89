// Package textnorm canonicalizes extracted text before parsing: numeral
// systems, locale separators and whitespace.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	arabicDecimalSep   = '٫' // ٫
	arabicThousandsSep = '٬' // ٬
	arabicComma        = '،' // ،
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reHSpace     = regexp.MustCompile(`[ \t\f\v]+`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// westernDigit maps Arabic-Indic and Persian digits to ASCII.
func westernDigit(r rune) (rune, bool) {
	switch {
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠'), true
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰'), true
	}
	return r, false
}

// ToWestern rewrites Arabic-Indic and Persian digits only.
func ToWestern(s string) string {
	return strings.Map(func(r rune) rune {
		w, _ := westernDigit(r)
		return w
	}, s)
}

// Normalize returns s with canonical digits, a single decimal convention and
// collapsed whitespace. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)
	s = canonicalSeparators(ToWestern(s))

	s = reCRLF.ReplaceAllString(s, "\n")
	s = reHSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// canonicalSeparators turns Arabic decimal marks into '.', drops Arabic
// thousands separators and treats an Arabic comma between digits as decimal.
func canonicalSeparators(s string) string {
	if !strings.ContainsAny(s, string([]rune{arabicDecimalSep, arabicThousandsSep, arabicComma})) {
		return s
	}
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch r {
		case arabicDecimalSep:
			b.WriteRune('.')
		case arabicThousandsSep:
			if !(digitAt(rs, i-1) && digitAt(rs, i+1)) {
				b.WriteRune(' ')
			}
		case arabicComma:
			if digitAt(rs, i-1) && digitAt(rs, i+1) {
				b.WriteRune('.')
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitAt(rs []rune, i int) bool {
	return i >= 0 && i < len(rs) && rs[i] >= '0' && rs[i] <= '9'
}

// ContainsArabic reports whether any rune is in the Arabic script.
func ContainsArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// ArabicRatio is the share of Arabic letters among all letters in s.
func ArabicRatio(s string) float64 {
	var letters, arabic int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Arabic, r) {
			arabic++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(arabic) / float64(letters)
}
