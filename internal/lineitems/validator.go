package lineitems

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Range limits applied to every candidate item.
const (
	MaxLineTotal = 1_000_000.0
	MinUnitPrice = 0.01
	MaxUnitPrice = 100_000.0
	MinQuantity  = 1.0
	MaxQuantity  = 10_000.0
)

// Validator range-checks items and cross-validates quantity × unit price
// against the stated total.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg.withDefaults(), logger: logger}
}

func (v *Validator) Tolerance() float64 { return v.cfg.Tolerance }

// ValidateItem returns a copy of item with quantity/unit price completed,
// IsValid, Confidence and ValidationDetail set.
func (v *Validator) ValidateItem(item entity.LineItem) entity.LineItem {
	item = fillMissing(item)
	item.IsValid = false
	item.Confidence = 0

	q, p, total := *item.Quantity, *item.UnitPrice, item.Total
	switch {
	case total > MaxLineTotal && !item.IsGrandTotal:
		item.ValidationDetail = fmt.Sprintf("total %.2f exceeds %.0f", total, MaxLineTotal)
		return item
	case !item.IsGrandTotal && (p < MinUnitPrice || p > MaxUnitPrice):
		item.ValidationDetail = fmt.Sprintf("unit price %.2f outside [%.2f, %.0f]", p, MinUnitPrice, MaxUnitPrice)
		return item
	case q < MinQuantity || q > MaxQuantity:
		item.ValidationDetail = fmt.Sprintf("quantity %g outside [%.0f, %.0f]", q, MinQuantity, MaxQuantity)
		return item
	}

	expected := q * p
	if expected <= 0 || total <= 0 {
		item.ValidationDetail = "non-positive amount"
		return item
	}
	diff := math.Abs(total - expected)
	deviation := diff / expected
	item.Confidence = entity.ClampConfidence(100 - deviation*100)

	// measured against the smaller side so the bound also holds relative
	// to the stated total
	if diff > v.cfg.Tolerance*math.Min(expected, total)+1e-9 {
		item.ValidationDetail = fmt.Sprintf("quantity × unit price = %.2f, total %.2f (%.1f%% off)", expected, total, deviation*100)
		return item
	}
	item.IsValid = true
	item.ValidationDetail = fmt.Sprintf("quantity × unit price matches total within %.0f%%", v.cfg.Tolerance*100)
	return item
}

// fillMissing derives the missing one of quantity / unit price from the
// other two. A bare amount becomes quantity 1 at that price.
func fillMissing(item entity.LineItem) entity.LineItem {
	switch {
	case item.Quantity == nil && item.UnitPrice == nil:
		item.Quantity = entity.Float(1)
		item.UnitPrice = entity.Float(item.Total)
	case item.Quantity == nil:
		q := 1.0
		if *item.UnitPrice > 0 {
			q = round(item.Total / *item.UnitPrice, 4)
		}
		item.Quantity = entity.Float(q)
	case item.UnitPrice == nil:
		p := item.Total
		if *item.Quantity > 0 {
			p = round(item.Total / *item.Quantity, 4)
		}
		item.UnitPrice = entity.Float(p)
	}
	return item
}

// Validate checks every item and summarizes the outcome.
func (v *Validator) Validate(items []entity.LineItem) ([]entity.LineItem, entity.ValidationSummary) {
	out := make([]entity.LineItem, len(items))
	valid := 0
	for i, it := range items {
		out[i] = v.ValidateItem(it)
		if out[i].IsValid {
			valid++
		} else {
			v.logger.Debug("lineitems.validate.rejected",
				"description", out[i].Description, "total", out[i].Total, "detail", out[i].ValidationDetail)
		}
	}
	sum := entity.ValidationSummary{TotalItems: len(out), ValidItems: valid}
	if len(out) > 0 {
		sum.SuccessRate = round(float64(valid)/float64(len(out)), 4)
	}
	return out, sum
}

// Totals computes net from valid items only, then VAT at the stated rate
// or the configured default.
func (v *Validator) Totals(items []entity.LineItem, statedRate *float64) entity.Totals {
	net := decimal.Zero
	for _, it := range items {
		if it.IsValid && !it.IsGrandTotal {
			net = net.Add(decimal.NewFromFloat(it.Total))
		}
	}
	net = net.Round(2)

	rate := v.cfg.DefaultVATRate
	if statedRate != nil {
		rate = *statedRate
	}
	vat := net.Mul(decimal.NewFromFloat(rate)).Round(2)
	gross := net.Add(vat)

	return entity.Totals{
		Net:     net.InexactFloat64(),
		VAT:     vat.InexactFloat64(),
		VATRate: rate,
		Gross:   gross.InexactFloat64(),
	}
}

// Assemble validates items and builds the public artifact. Grand-total rows
// are lifted out of the item list into DeclaredTotal.
func (v *Validator) Assemble(meta Metadata, items []entity.LineItem, source string) entity.InvoiceExtraction {
	declared := meta.DeclaredTotal
	lines := make([]entity.LineItem, 0, len(items))
	for _, it := range items {
		if it.IsGrandTotal {
			if checked := v.ValidateItem(it); declared == nil && checked.Total > 0 && checked.IsValid {
				declared = entity.Float(checked.Total)
			}
			continue
		}
		lines = append(lines, it)
	}

	validated, summary := v.Validate(lines)
	return entity.InvoiceExtraction{
		InvoiceNumber: meta.InvoiceNumber,
		Date:          meta.Date,
		Currency:      meta.Currency,
		DeclaredTotal: declared,
		LineItems:     validated,
		Totals:        v.Totals(validated, meta.VATRate),
		Validation:    summary,
		Source:        source,
	}
}

func round(x float64, places int32) float64 {
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}
