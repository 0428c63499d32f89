// Package lineitems turns normalized document text into validated invoice
// line items: pattern and amount-mining extraction, a heuristic cross-check,
// arithmetic validation, totals and reconciliation.
package lineitems

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/textnorm"
)

type Config struct {
	Tolerance       float64 // relative q×p vs total, clamped to [0.05, 0.10]
	DefaultVATRate  float64 // default 0.15
	DefaultCurrency string  // default USD
	ArabicCurrency  string  // default SAR
	MaxMinedItems   int     // default 10
}

const (
	MinTolerance     = 0.05
	MaxTolerance     = 0.10
	defaultVATRate   = 0.15
	defaultMaxMined  = 10
	defaultCurrency  = "USD"
	defaultArabicCur = "SAR"
)

func (c Config) withDefaults() Config {
	switch {
	case c.Tolerance <= 0:
		c.Tolerance = MinTolerance
	case c.Tolerance < MinTolerance:
		c.Tolerance = MinTolerance
	case c.Tolerance > MaxTolerance:
		c.Tolerance = MaxTolerance
	}
	if c.DefaultVATRate <= 0 {
		c.DefaultVATRate = defaultVATRate
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = defaultCurrency
	}
	if c.ArabicCurrency == "" {
		c.ArabicCurrency = defaultArabicCur
	}
	if c.MaxMinedItems <= 0 {
		c.MaxMinedItems = defaultMaxMined
	}
	return c
}

const num = `(\d+(?:[.,]\d+)*)`

// desc must hold at least one letter; it is checked after matching.
var structuredPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	// "Widget A 2 x 15.00 = 30.00", "Widget A 2 @ 15.00 30.00"
	{"qty-x-price", regexp.MustCompile(`^(.+?)\s*[:\-]?\s+` + num + `\s*[x×*@]\s*` + num + `\s*=?\s*` + num + `$`)},
	// "Widget A | 2 | 15.00 | 30.00", "Widget A: 2: 15.00: 30.00"
	{"delimited", regexp.MustCompile(`^\|?\s*(.+?)\s*[|:;]\s*` + num + `\s*[|:;]\s*` + num + `\s*[|:;]\s*` + num + `\s*\|?$`)},
	// "Widget A - 2 - 15.00 - 30.00"
	{"dash", regexp.MustCompile(`^(.+?)\s+-\s+` + num + `\s+-\s+` + num + `\s+-\s+` + num + `$`)},
	// "Widget A 2 15.00 30.00"
	{"space", regexp.MustCompile(`^(.+?)\s+` + num + `\s+` + num + `\s+` + num + `$`)},
}

var (
	reSummaryLine    = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total|vat|tax|balance|amount\s+due|grand\s+total|discount|rounding)\b|المجموع|الإجمالي|الاجمالي|ضريبة|الضريبة|الخصم|المستحق`)
	reGrandTotalLine = regexp.MustCompile(`(?i)\b(grand\s+total|total\s+due|amount\s+due|total\s+amount|invoice\s+total|net\s+payable|total)\b|الإجمالي|الاجمالي|المبلغ المستحق`)
	reNotGrandTotal  = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|vat|tax|before)\b|ضريبة|الضريبة|قبل`)
)

// reMetadataLine matches document identifiers and page furniture, which
// never carry a priced item.
var reMetadataLine = regexp.MustCompile(`(?i)^[\s|:#*•\-]*(?:` +
	`(?:invoice|inv|bill|receipt|order|ref|reference|po|p\.o\.|purchase\s+order)\s*(?:no\b\.?|num\b|number\b|#|id\b|ref\b)` +
	`|(?:customer|client|account|cust|acct)\s*(?:id\b|no\b\.?|num\b|number\b|code\b|#)` +
	`|page\b|(?:issue\s+|due\s+|invoice\s+)?date\b|(?:cr|trn|vat\s*reg\w*)\b` +
	`)|رقم\s*الفاتورة|فاتورة\s*رقم|رقم\s*العميل|رمز\s*العميل|رقم\s*الطلب|رقم\s*المرجع|أمر\s*الشراء|صفحة|^[\s|:#*•\-]*(?:ال)?تاريخ|السجل\s*التجاري|الرقم\s*الضريبي`)

// Extractor is the primary line-item extractor: structured patterns first,
// amount mining when no line matches.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg.withDefaults(), logger: logger}
}

// Extract returns candidate items and the source that produced them.
func (x *Extractor) Extract(text string) ([]entity.LineItem, string) {
	text = textnorm.Normalize(text)
	if items := x.matchPatterns(text); len(items) > 0 {
		x.logger.Debug("lineitems.extract.patterns", "items", len(items))
		return items, constants.SourcePattern
	}
	items := x.mineAmounts(text)
	x.logger.Debug("lineitems.extract.amounts", "items", len(items))
	return items, constants.SourceAmounts
}

func (x *Extractor) matchPatterns(text string) []entity.LineItem {
	var items []entity.LineItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || reSummaryLine.MatchString(line) || reMetadataLine.MatchString(line) {
			continue
		}
		if item, ok := matchLine(line); ok {
			items = append(items, item)
		}
	}
	return items
}

// matchLine tries each layout in order and returns the first match whose
// description holds a letter and whose numbers all parse.
func matchLine(line string) (entity.LineItem, bool) {
	for _, p := range structuredPatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := cleanDescription(m[1])
		if !hasLetter(desc) {
			continue
		}
		q, ok1 := ParseAmount(m[2])
		up, ok2 := ParseAmount(m[3])
		total, ok3 := ParseAmount(m[4])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		return entity.LineItem{
			Description: desc,
			Quantity:    entity.Float(q),
			UnitPrice:   entity.Float(up),
			Total:       total,
			Source:      constants.SourcePattern,
		}, true
	}
	return entity.LineItem{}, false
}

func (x *Extractor) mineAmounts(text string) []entity.LineItem {
	amounts := MineAmounts(text, x.cfg.MaxMinedItems)
	if len(amounts) == 0 {
		return nil
	}
	descs := DescriptionTokens(text)
	items := make([]entity.LineItem, 0, len(amounts))
	for i, a := range amounts {
		desc := fmt.Sprintf("Item %d", i+1)
		if i < len(descs) {
			desc = descs[i]
		}
		items = append(items, entity.LineItem{
			Description: desc,
			Quantity:    entity.Float(1),
			UnitPrice:   entity.Float(a.Value),
			Total:       a.Value,
			Source:      constants.SourceAmounts,
		})
	}
	return items
}

func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "|:;-–•*. \t")
	return strings.Join(strings.Fields(s), " ")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isGrandTotalLine reports a document-level total row such as "Grand Total"
// or "الإجمالي", excluding subtotal and VAT rows.
func isGrandTotalLine(line string) bool {
	return reGrandTotalLine.MatchString(line) && !reNotGrandTotal.MatchString(line)
}
