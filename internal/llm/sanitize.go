package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/lineitems"
)

var reISODate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (items -> line_items, qty -> quantity, ...)
// - Drops null/empty optionals
// - Coerces money strings ("1,234.50", "١٢٣") to numbers
// - Removes unknown keys (strict additionalProperties = false friendliness)
// - Drops line items that still lack a description or a positive total
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	rename(m, &dropped, "", map[string]string{
		"items":        "line_items",
		"lineItems":    "line_items",
		"lines":        "line_items",
		"invoice_no":   "invoice_number",
		"invoiceNo":    "invoice_number",
		"number":       "invoice_number",
		"date":         "invoice_date",
		"currency":     "currency_code",
		"total":        "declared_total",
		"grand_total":  "declared_total",
		"total_amount": "declared_total",
		"vat":          "vat_rate",
	})

	for _, k := range []string{"declared_total", "vat_rate", "confidence"} {
		coerceNumber(m, k, "", &dropped)
	}
	if r, ok := m["vat_rate"].(float64); ok && r >= 1 {
		m["vat_rate"] = r / 100 // "15" meaning 15%
	}
	if c, ok := m["confidence"].(float64); ok && c > 1 {
		m["confidence"] = c / 100
	}

	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := m["invoice_date"].(string); ok && !reISODate.MatchString(strings.TrimSpace(v)) {
		delete(m, "invoice_date")
		dropped = append(dropped, "invoice_date(format)")
	}
	for _, k := range []string{"invoice_number", "invoice_date", "currency_code"} {
		trimOrDrop(m, k, &dropped)
	}

	items, _ := m["line_items"].([]any)
	kept := make([]any, 0, len(items))
	for i, v := range items {
		it, ok := v.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("line_items[%d](type)", i))
			continue
		}
		prefix := fmt.Sprintf("line_items[%d].", i)
		rename(it, &dropped, prefix, map[string]string{
			"name":       "description",
			"item":       "description",
			"qty":        "quantity",
			"price":      "unit_price",
			"unitPrice":  "unit_price",
			"amount":     "total",
			"line_total": "total",
			"lineTotal":  "total",
		})
		for _, k := range []string{"quantity", "unit_price", "total"} {
			coerceNumber(it, k, prefix, &dropped)
		}
		trimOrDrop(it, "description", &dropped)
		dropUnknown(it, itemKeys, prefix, &dropped)

		total, _ := it["total"].(float64)
		if _, hasDesc := it["description"]; !hasDesc || total <= 0 {
			dropped = append(dropped, fmt.Sprintf("line_items[%d](incomplete)", i))
			continue
		}
		kept = append(kept, it)
	}
	m["line_items"] = kept

	dropUnknown(m, invoiceKeys, "", &dropped)

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

var (
	invoiceKeys = map[string]struct{}{
		"invoice_number": {}, "invoice_date": {}, "currency_code": {}, "line_items": {},
		"declared_total": {}, "vat_rate": {}, "confidence": {},
	}
	itemKeys = map[string]struct{}{
		"description": {}, "quantity": {}, "unit_price": {}, "total": {},
	}
)

// rename moves synonym keys to their schema name without overwriting.
func rename(m map[string]any, dropped *[]string, prefix string, synonyms map[string]string) {
	for from, to := range synonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		*dropped = append(*dropped, prefix+from+"->"+to)
	}
}

func coerceNumber(m map[string]any, k, prefix string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
		if t < 0 {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(negative)")
		}
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimLeft(s, "$€£")
		if f, ok := lineitems.ParseAmount(s); ok && s != "" {
			m[k] = f
			return
		}
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(unparsable)")
	case nil:
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(null)")
	default:
		delete(m, k)
		*dropped = append(*dropped, prefix+k+"(type)")
	}
}

func trimOrDrop(m map[string]any, k string, dropped *[]string) {
	switch v := m[k].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			m[k] = s
			return
		}
		delete(m, k)
		*dropped = append(*dropped, k+"(empty)")
	case nil:
		if _, ok := m[k]; ok {
			delete(m, k)
			*dropped = append(*dropped, k+"(null)")
		}
	}
}

func dropUnknown(m map[string]any, allowed map[string]struct{}, prefix string, dropped *[]string) {
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			*dropped = append(*dropped, prefix+k+"(unknown)")
		}
	}
}
