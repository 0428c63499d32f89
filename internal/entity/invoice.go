package entity

// RawAmountCandidate is a numeric token found while mining amounts.
type RawAmountCandidate struct {
	Value  float64
	Token  string
	Offset int
}

// LineItem is one extracted (description, quantity, unit price, total) record.
// Quantity and UnitPrice stay nil until known or derived from the other two.
type LineItem struct {
	Description      string   `json:"description"`
	Quantity         *float64 `json:"quantity"`
	UnitPrice        *float64 `json:"unitPrice"`
	Total            float64  `json:"total"`
	IsValid          bool     `json:"isValid"`
	Confidence       float64  `json:"confidence"`
	ValidationDetail string   `json:"validationDetail,omitempty"`
	Source           string   `json:"source,omitempty"`
	IsGrandTotal     bool     `json:"-"`
}

type Totals struct {
	Net     float64 `json:"net"`
	VAT     float64 `json:"vat"`
	VATRate float64 `json:"vatRate"`
	Gross   float64 `json:"gross"`
}

type ValidationSummary struct {
	TotalItems  int     `json:"totalItems"`
	ValidItems  int     `json:"validItems"`
	SuccessRate float64 `json:"successRate"`
}

// InvoiceExtraction is the public artifact handed to downstream consumers.
type InvoiceExtraction struct {
	InvoiceNumber string            `json:"invoiceNumber"`
	Date          string            `json:"date"`
	Currency      string            `json:"currency"`
	DeclaredTotal *float64          `json:"declaredTotal,omitempty"`
	LineItems     []LineItem        `json:"lineItems"`
	Totals        Totals            `json:"totals"`
	Validation    ValidationSummary `json:"validation"`
	Source        string            `json:"source,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
