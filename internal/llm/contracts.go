package llm

import (
	"context"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// ItemFields is one line item as returned by the model.
type ItemFields struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Total       float64  `json:"total"`
}

// InvoiceFields is the normalized shape we want from the LLM.
type InvoiceFields struct {
	InvoiceNumber   string       `json:"invoice_number,omitempty"`
	InvoiceDate     string       `json:"invoice_date,omitempty"` // YYYY-MM-DD
	CurrencyCode    string       `json:"currency_code,omitempty"`
	LineItems       []ItemFields `json:"line_items"`
	DeclaredTotal   *float64     `json:"declared_total,omitempty"`
	VATRate         *float64     `json:"vat_rate,omitempty"` // fraction, 0.15
	ModelConfidence float64      `json:"confidence,omitempty"`
}

type ExtractRequest struct {
	Text            string
	FilenameHint    string
	DefaultCurrency string
	IsArabic        bool

	// Confidence of Text (0..100). Below ImageConfidenceThreshold the page
	// image at ImagePath is attached when present.
	Confidence float64
	ImagePath  string
}

// ItemExtractor is the interface the pipeline depends on.
type ItemExtractor interface {
	ExtractItems(ctx context.Context, req ExtractRequest) (InvoiceFields, []byte /*rawJSON*/, error)
}

// ToLineItems converts model output into unvalidated line items.
func (f InvoiceFields) ToLineItems() []entity.LineItem {
	items := make([]entity.LineItem, 0, len(f.LineItems))
	for _, it := range f.LineItems {
		items = append(items, entity.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.Total,
			Source:      constants.SourceLLM,
		})
	}
	return items
}
