package ocr

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/invoice-extractor/internal/textnorm"
)

type TextClass string

const (
	TextUsable  TextClass = "usable"
	TextGarbled TextClass = "garbled"
	TextEmpty   TextClass = "empty"
)

// Garbled-ratio ceilings. Invoice vocabulary or Arabic script legitimately
// produces dense numeric/punctuation runs, so those texts get the lenient one.
const (
	StrictGarbledThreshold  = 0.05
	LenientGarbledThreshold = 0.8
)

const minNoisyRunLen = 12

var (
	reDigitPunctRun = regexp.MustCompile(`[\p{N}\p{P}\p{S}]{12,}`)
	reCurrencyCode  = regexp.MustCompile(`\b(usd|eur|gbp|sar|aed|egp|kwd|qar|bhd|omr|jod|inr)\b`)
	reEntitySuffix  = regexp.MustCompile(`\b(llc|ltd|inc|gmbh|plc|corp|co\.|s\.a\.|w\.l\.l|est\.)`)
	reInvoiceWords  = regexp.MustCompile(`\b(total|subtotal|vat|tax|invoice|amount|qty|quantity|price|balance)\b`)
)

var arabicInvoiceWords = []string{"فاتورة", "المجموع", "الإجمالي", "الاجمالي", "ضريبة", "المبلغ", "شركة", "مؤسسة", "ريال", "درهم"}

// HasInvoiceSignals reports currency symbols/codes, invoice vocabulary or
// business-entity suffixes.
func HasInvoiceSignals(text string) bool {
	if strings.ContainsAny(text, "$€£¥₹﷼") {
		return true
	}
	lower := strings.ToLower(text)
	if reCurrencyCode.MatchString(lower) || reInvoiceWords.MatchString(lower) || reEntitySuffix.MatchString(lower) {
		return true
	}
	for _, w := range arabicInvoiceWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// GarbledRatio is the share of runes that are noise: members of long
// digit/punctuation runs plus non-printable or out-of-script runes.
func GarbledRatio(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0
	}
	noisy := 0
	for _, m := range reDigitPunctRun.FindAllString(text, -1) {
		if isMixedNoise(m) {
			noisy += utf8.RuneCountInString(m)
		}
	}
	for _, r := range text {
		if isGarbageRune(r) {
			noisy++
		}
	}
	ratio := float64(noisy) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// isMixedNoise keeps runs that mix digits with several punctuation marks.
func isMixedNoise(run string) bool {
	var digits, punct int
	for _, r := range run {
		if unicode.IsDigit(r) {
			digits++
		} else {
			punct++
		}
	}
	return utf8.RuneCountInString(run) >= minNoisyRunLen && digits >= 3 && punct >= 3
}

func isGarbageRune(r rune) bool {
	switch {
	case r == '\n' || r == '\r' || r == '\t' || r == '\f':
		return false
	case r == utf8.RuneError:
		return true
	case unicode.Is(unicode.Co, r): // private use, typical of broken font maps
		return true
	case !unicode.IsPrint(r) && !unicode.IsSpace(r):
		return true
	case unicode.IsLetter(r):
		return !unicode.In(r, unicode.Latin, unicode.Arabic)
	}
	return false
}

// GarbledThreshold picks the ceiling for text.
func GarbledThreshold(text string) float64 {
	if HasInvoiceSignals(text) || textnorm.ContainsArabic(text) {
		return LenientGarbledThreshold
	}
	return StrictGarbledThreshold
}

// ClassifyText labels text as usable, garbled or empty.
func ClassifyText(text string) (TextClass, float64) {
	if strings.TrimSpace(text) == "" {
		return TextEmpty, 0
	}
	ratio := GarbledRatio(text)
	if ratio > GarbledThreshold(text) {
		return TextGarbled, ratio
	}
	return TextUsable, ratio
}
