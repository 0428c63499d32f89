package lineitems

import (
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/internal/textnorm"
)

// Metadata holds the document-level fields found alongside the items.
type Metadata struct {
	InvoiceNumber string
	Date          string // ISO 2006-01-02, empty when not found
	Currency      string
	DeclaredTotal *float64
	VATRate       *float64 // stated rate as a fraction
}

var (
	reInvoiceNumber = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:invoice|inv|bill|receipt)\s*(?:no\.?|number|num|#)?\s*[:#.]?\s*([A-Z0-9][A-Z0-9\-/]*\d[A-Z0-9\-/]*)`),
		regexp.MustCompile(`(?:رقم الفاتورة|فاتورة رقم)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`),
	}
	reDateISO     = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	reDateDMY     = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})\b`)
	reDateWritten = regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+\d{4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})\b`)
	reVATRate     = regexp.MustCompile(`(?i)(?:\b(?:vat|tax|gst)\b|ضريبة|الضريبة)[^\n%٪]{0,30}?(\d{1,2}(?:\.\d{1,2})?)\s*[%٪]`)
	reTrailingNum = regexp.MustCompile(`(\d+(?:[.,]\d+)*)\D*$`)
)

var currencySignals = []struct {
	code string
	re   *regexp.Regexp
}{
	{"SAR", regexp.MustCompile(`(?i)\bSAR\b|﷼|ر\.س|ر[يی]ال`)},
	{"AED", regexp.MustCompile(`(?i)\bAED\b|د\.إ|درهم`)},
	{"EGP", regexp.MustCompile(`(?i)\bEGP\b|ج\.م|جنيه`)},
	{"KWD", regexp.MustCompile(`(?i)\bKWD\b|د\.ك`)},
	{"QAR", regexp.MustCompile(`(?i)\bQAR\b|ر\.ق`)},
	{"BHD", regexp.MustCompile(`(?i)\bBHD\b|د\.ب`)},
	{"OMR", regexp.MustCompile(`(?i)\bOMR\b|ر\.ع`)},
	{"JOD", regexp.MustCompile(`(?i)\bJOD\b|د\.أ`)},
	{"EUR", regexp.MustCompile(`(?i)\bEUR\b|€`)},
	{"GBP", regexp.MustCompile(`(?i)\bGBP\b|£`)},
	{"INR", regexp.MustCompile(`(?i)\bINR\b|₹`)},
	{"USD", regexp.MustCompile(`(?i)\bUSD\b|US\$|\$`)},
}

var dateLayouts = []string{
	"2 Jan 2006", "2 January 2006", "2 Jan, 2006", "2 January, 2006",
	"Jan 2 2006", "January 2 2006", "Jan 2, 2006", "January 2, 2006",
}

// ExtractMetadata reads invoice number, date, currency, declared total and
// stated VAT rate. Currency is resolved once for the whole document.
func ExtractMetadata(text string, cfg Config) Metadata {
	cfg = cfg.withDefaults()
	text = textnorm.Normalize(text)
	return Metadata{
		InvoiceNumber: invoiceNumber(text),
		Date:          invoiceDate(text),
		Currency:      ResolveCurrency(text, cfg),
		DeclaredTotal: declaredTotal(text),
		VATRate:       statedVATRate(text),
	}
}

func invoiceNumber(text string) string {
	for _, re := range reInvoiceNumber {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimRight(m[1], "-/")
		}
	}
	return ""
}

func invoiceDate(text string) string {
	if m := reDateISO.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2006-1-2", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	if m := reDateDMY.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2-1-2006", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return t.Format(time.DateOnly)
		}
		// month-first when the day-first reading is impossible
		if t, err := time.Parse("1-2-2006", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	if m := reDateWritten.FindString(text); m != "" {
		s := strings.Join(strings.Fields(strings.ReplaceAll(m, ".", "")), " ")
		s = titleMonth(s)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(time.DateOnly)
			}
		}
	}
	return ""
}

// titleMonth capitalizes month words so time.Parse accepts "05 JAN 2024".
func titleMonth(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w[0] >= '0' && w[0] <= '9' {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// ResolveCurrency picks the most frequent currency signal, earliest on ties.
// Without any signal, Arabic script selects cfg.ArabicCurrency.
func ResolveCurrency(text string, cfg Config) string {
	cfg = cfg.withDefaults()
	best, bestCount, bestPos := "", 0, len(text)+1
	for _, c := range currencySignals {
		locs := c.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		if len(locs) > bestCount || (len(locs) == bestCount && locs[0][0] < bestPos) {
			best, bestCount, bestPos = c.code, len(locs), locs[0][0]
		}
	}
	switch {
	case best != "":
		return best
	case textnorm.ContainsArabic(text):
		return cfg.ArabicCurrency
	}
	return cfg.DefaultCurrency
}

// declaredTotal returns the amount on the last grand-total line.
func declaredTotal(text string) *float64 {
	var found *float64
	for _, line := range strings.Split(text, "\n") {
		if !isGrandTotalLine(line) {
			continue
		}
		m := reTrailingNum.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, ok := ParseAmount(m[1]); ok && v > 0 {
			found = &v
		}
	}
	return found
}

func statedVATRate(text string) *float64 {
	m := reVATRate.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, ok := ParseAmount(m[1])
	if !ok || v <= 0 || v >= 100 {
		return nil
	}
	rate := v / 100
	return &rate
}
