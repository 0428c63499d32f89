package lineitems

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/textnorm"
)

var (
	reInlineQtyPrice = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*[x×*@]\s*(\d+(?:[.,]\d+)*)`)
	reTrailingNums   = regexp.MustCompile(`^(.*?[^\d\s.,][^\d]*?)((?:\s+\d+(?:[.,]\d+)*){1,3})\s*(?:[A-Za-z]{3}|ر\.س|﷼|ريال)?\s*$`)
	reHeaderLine     = regexp.MustCompile(`(?i)^\s*(description|item|الوصف|البيان)\b.*\b(qty|quantity|price|amount|الكمية|السعر)`)
	reMoneyShape     = regexp.MustCompile(`^\d{1,3}(?:[.,]\d{3})*[.,]\d{1,2}$|^\d+[.,]\d{1,2}$`)
)

// HeuristicExtractor reads one candidate per line: a description followed by
// up to three trailing numbers, or an inline "qty x price". It is the
// independent cross-check for the primary extractor.
type HeuristicExtractor struct {
	logger *slog.Logger
}

func NewHeuristicExtractor(logger *slog.Logger) *HeuristicExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeuristicExtractor{logger: logger}
}

func (h *HeuristicExtractor) Extract(text string) []entity.LineItem {
	text = textnorm.Normalize(text)
	var items []entity.LineItem
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || reBoilerplateLine.MatchString(line) || reHeaderLine.MatchString(line) {
			continue
		}
		if isGrandTotalLine(line) {
			if m := reTrailingNum.FindStringSubmatch(line); m != nil {
				if v, ok := ParseAmount(m[1]); ok && v > 0 {
					items = append(items, entity.LineItem{
						Description:  cleanDescription(reTrailingNum.ReplaceAllString(line, "")),
						Total:        v,
						Source:       constants.SourceHeuristic,
						IsGrandTotal: true,
					})
				}
			}
			continue
		}
		if reSummaryLine.MatchString(line) || reMetadataLine.MatchString(line) {
			continue
		}
		if item, ok := heuristicLine(line); ok {
			items = append(items, item)
		}
	}
	h.logger.Debug("lineitems.heuristic.extract", "items", len(items))
	return items
}

func heuristicLine(line string) (entity.LineItem, bool) {
	if m := reInlineQtyPrice.FindStringSubmatchIndex(line); m != nil {
		desc := cleanDescription(line[:m[0]])
		q, ok1 := ParseAmount(line[m[2]:m[3]])
		p, ok2 := ParseAmount(line[m[4]:m[5]])
		if hasLetter(desc) && ok1 && ok2 {
			total := q * p
			if rest := strings.TrimSpace(line[m[1]:]); rest != "" {
				if tm := reTrailingNum.FindStringSubmatch(rest); tm != nil {
					if v, ok := ParseAmount(tm[1]); ok {
						total = v
					}
				}
			}
			return entity.LineItem{
				Description: desc,
				Quantity:    entity.Float(q),
				UnitPrice:   entity.Float(p),
				Total:       total,
				Source:      constants.SourceHeuristic,
			}, true
		}
	}

	m := reTrailingNums.FindStringSubmatch(line)
	if m == nil {
		return entity.LineItem{}, false
	}
	desc := cleanDescription(m[1])
	if !hasLetter(desc) {
		return entity.LineItem{}, false
	}
	var nums []float64
	for _, f := range strings.Fields(m[2]) {
		v, ok := ParseAmount(f)
		if !ok {
			return entity.LineItem{}, false
		}
		nums = append(nums, v)
	}

	item := entity.LineItem{Description: desc, Source: constants.SourceHeuristic}
	switch len(nums) {
	case 3:
		item.Quantity = entity.Float(nums[0])
		item.UnitPrice = entity.Float(nums[1])
		item.Total = nums[2]
	case 2:
		// "qty total" when the first reads as a count, otherwise "price total"
		if isCount(nums[0]) && nums[0] <= nums[1] {
			item.Quantity = entity.Float(nums[0])
		} else {
			item.UnitPrice = entity.Float(nums[0])
		}
		item.Total = nums[1]
	case 1:
		// a lone integer is more often an id or a count than a price
		if !looksLikeMoney(strings.Fields(m[2])[0], line) {
			return entity.LineItem{}, false
		}
		item.Total = nums[0]
	default:
		return entity.LineItem{}, false
	}
	if item.Total <= 0 {
		return entity.LineItem{}, false
	}
	return item, true
}

// looksLikeMoney reports whether a lone amount token carries cents or its
// line names a currency.
func looksLikeMoney(token, line string) bool {
	if reMoneyShape.MatchString(token) {
		return true
	}
	for _, sig := range currencySignals {
		if sig.re.MatchString(line) {
			return true
		}
	}
	return false
}

func isCount(v float64) bool {
	return v >= MinQuantity && v <= MaxQuantity && v == float64(int64(v))
}
