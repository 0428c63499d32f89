package lineitems

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/textnorm"
)

// Plausible magnitude for a mined amount.
const (
	MinMinedAmount = 1.0
	MaxMinedAmount = 1_000_000.0
)

var (
	reCommaGrouped = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reDotGrouped   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)

	// numeric token; separators are only taken between digits
	reNumberToken = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

	amountFamilies = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d{1,3})?$`), // 1,234,567.89
		regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?$`), // 1.234.567,89
		regexp.MustCompile(`^\d+[.,]\d{1,3}$`),                   // 1234.50
		regexp.MustCompile(`^\d{1,7}$`),                          // 500
	}

	reBoilerplateLine = regexp.MustCompile(`(?i)\b(tel|phone|fax|mobile|p\.?\s?o\.?\s?box|iban|swift|account|a/c|vat\s*(no|number|reg\w*)|tax\s*(id|no|number)|trn|cr\s*no|zip|postal)\b|هاتف|جوال|فاكس|ص\.ب|الرقم الضريبي|سجل تجاري|رقم الحساب`)
	reDateContext     = regexp.MustCompile(`(?i)\b(date|dated|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\w*|تاريخ|التاريخ`)
)

// ParseAmount parses a numeric token written with either separator
// convention. When both separators appear the later one is the decimal
// point; a lone comma is a thousands separator only in strict groups of
// three ("1,234"), otherwise a decimal comma ("12,5"). A lone dot is always
// decimal.
func ParseAmount(token string) (float64, bool) {
	s := textnorm.ToWestern(strings.TrimSpace(token))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		case r == '٫':
			return '.'
		}
		return -1
	}, s)
	if s == "" || !unicode.IsDigit(rune(s[0])) {
		return 0, false
	}

	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		switch {
		case reCommaGrouped.MatchString(s):
			s = strings.ReplaceAll(s, ",", "")
		case strings.Count(s, ",") == 1:
			s = strings.Replace(s, ",", ".", 1)
		default:
			return 0, false
		}
	case strings.Count(s, ".") > 1:
		if !reDotGrouped.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ".", "")
	}
	if strings.Count(s, ".") > 1 {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func matchesAmountFamily(tok string) bool {
	for _, re := range amountFamilies {
		if re.MatchString(tok) {
			return true
		}
	}
	return false
}

// MineAmounts returns plausible monetary amounts from text, largest first,
// one candidate per distinct value, at most limit (0 = no limit).
func MineAmounts(text string, limit int) []entity.RawAmountCandidate {
	text = textnorm.Normalize(text)
	var out []entity.RawAmountCandidate
	seen := make(map[float64]bool)

	offset := 0
	for _, line := range strings.Split(text, "\n") {
		lineStart := offset
		offset += len(line) + 1
		if reBoilerplateLine.MatchString(line) {
			continue
		}
		dateLine := reDateContext.MatchString(line)
		for _, loc := range reNumberToken.FindAllStringIndex(line, -1) {
			tok := line[loc[0]:loc[1]]
			if !matchesAmountFamily(tok) || excludedByContext(line, loc[0], loc[1]) {
				continue
			}
			v, ok := ParseAmount(tok)
			if !ok || v < MinMinedAmount || v > MaxMinedAmount {
				continue
			}
			if dateLine && isYear(tok) {
				continue
			}
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, entity.RawAmountCandidate{Value: v, Token: tok, Offset: lineStart + loc[0]})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// excludedByContext drops percentages, date/time parts, identifiers glued
// to letters and zero-padded codes.
func excludedByContext(line string, start, end int) bool {
	tok := line[start:end]
	if len(tok) > 1 && tok[0] == '0' && !strings.ContainsAny(tok[:2], ".,") {
		return true
	}
	before, _ := utf8.DecodeLastRuneInString(line[:start])
	after, _ := utf8.DecodeRuneInString(line[end:])
	if start > 0 && (before == '#' || unicode.IsLetter(before)) {
		return true
	}
	if end < len(line) && unicode.IsLetter(after) {
		return true
	}
	switch after {
	case '%', '/', ':':
		return true
	case '-':
		if end+1 < len(line) && isASCIIDigit(line[end+1]) {
			return true
		}
	}
	switch before {
	case '/', ':':
		return true
	case '-':
		if start >= 2 && isASCIIDigit(line[start-2]) {
			return true
		}
	}
	rest := strings.TrimLeft(line[end:], " ")
	return strings.HasPrefix(rest, "%")
}

func isASCIIDigit(b byte) bool { return b >= '0' && b <= '9' }

func isYear(tok string) bool {
	if len(tok) != 4 {
		return false
	}
	n, err := strconv.Atoi(tok)
	return err == nil && n >= 1900 && n <= 2100
}

var stopwords = map[string]bool{
	"invoice": true, "tax": true, "vat": true, "total": true, "subtotal": true, "sub": true,
	"amount": true, "due": true, "balance": true, "date": true, "no": true, "number": true,
	"qty": true, "quantity": true, "price": true, "unit": true, "description": true, "item": true,
	"items": true, "bill": true, "to": true, "from": true, "page": true, "of": true, "the": true,
	"and": true, "for": true, "ltd": true, "llc": true, "inc": true, "co": true, "company": true,
	"customer": true, "client": true, "paid": true, "payment": true, "thank": true, "you": true,
	"sar": true, "usd": true, "eur": true, "aed": true, "gbp": true, "egp": true, "kwd": true,
	"فاتورة": true, "ضريبية": true, "ضريبة": true, "الضريبة": true, "المجموع": true, "الإجمالي": true,
	"الاجمالي": true, "المبلغ": true, "التاريخ": true, "تاريخ": true, "رقم": true, "الكمية": true,
	"السعر": true, "الوصف": true, "شركة": true, "مؤسسة": true, "ريال": true, "درهم": true,
	"العميل": true, "القيمة": true, "المضافة": true, "صفحة": true, "شكرا": true,
}

var (
	reArabicRun = regexp.MustCompile(`\p{Arabic}+(?:[ \t]+\p{Arabic}+)*`)
	reLatinRun  = regexp.MustCompile(`[A-Za-z][A-Za-z&'\-]*(?:[ \t]+[A-Za-z][A-Za-z&'\-]*)*`)
)

// DescriptionTokens returns candidate descriptions: contiguous runs of one
// script with boilerplate words removed, in reading order.
func DescriptionTokens(text string) []string {
	text = textnorm.Normalize(text)
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		if reBoilerplateLine.MatchString(line) {
			continue
		}
		type run struct {
			start int
			text  string
		}
		var runs []run
		for _, re := range []*regexp.Regexp{reArabicRun, reLatinRun} {
			for _, loc := range re.FindAllStringIndex(line, -1) {
				runs = append(runs, run{start: loc[0], text: line[loc[0]:loc[1]]})
			}
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].start < runs[j].start })
		for _, r := range runs {
			desc := stripStopwords(r.text)
			if utf8.RuneCountInString(desc) < 3 || seen[desc] {
				continue
			}
			seen[desc] = true
			out = append(out, desc)
		}
	}
	return out
}

func stripStopwords(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		if stopwords[strings.ToLower(strings.Trim(w, "&'-"))] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
