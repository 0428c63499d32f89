package lineitems

import (
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func TestExtractStructuredLine(t *testing.T) {
	x := NewExtractor(Config{}, nil)
	v := NewValidator(Config{}, nil)

	items, source := x.Extract("T3 Transaction Fees 162 1.50 243.00")
	if source != constants.SourcePattern {
		t.Fatalf("source = %q", source)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	got := v.ValidateItem(items[0])
	if got.Description != "T3 Transaction Fees" || *got.Quantity != 162 || *got.UnitPrice != 1.5 || got.Total != 243 {
		t.Fatalf("item = %+v", got)
	}
	if !got.IsValid || got.Confidence != 100 {
		t.Fatalf("valid = %v confidence = %v (%s)", got.IsValid, got.Confidence, got.ValidationDetail)
	}
}

func TestExtractLayouts(t *testing.T) {
	tests := []struct {
		line  string
		desc  string
		q, p  float64
		total float64
	}{
		{"Widget A 2 x 15.00 = 30.00", "Widget A", 2, 15, 30},
		{"Widget A | 2 | 15.00 | 30.00", "Widget A", 2, 15, 30},
		{"Widget A - 2 - 15.00 - 30.00", "Widget A", 2, 15, 30},
		{"Widget A 2 15.00 30.00", "Widget A", 2, 15, 30},
		{"خدمة صيانة ٣ ١٠٠ ٣٠٠", "خدمة صيانة", 3, 100, 300},
	}
	x := NewExtractor(Config{}, nil)
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			items, _ := x.Extract(tt.line)
			if len(items) != 1 {
				t.Fatalf("items = %+v", items)
			}
			it := items[0]
			if it.Description != tt.desc || *it.Quantity != tt.q || *it.UnitPrice != tt.p || it.Total != tt.total {
				t.Fatalf("got %+v (q=%v p=%v)", it, *it.Quantity, *it.UnitPrice)
			}
		})
	}
}

func TestExtractSkipsSummaryLines(t *testing.T) {
	x := NewExtractor(Config{}, nil)
	items, source := x.Extract("Widget A 2 15.00 30.00\nSubtotal 1 30.00 30.00\nVAT 15 1 4.50\nTotal 1 34.50 34.50")
	if source != constants.SourcePattern || len(items) != 1 {
		t.Fatalf("source %q items %+v", source, items)
	}
}

func TestExtractArabicDigitsByMining(t *testing.T) {
	x := NewExtractor(Config{}, nil)
	v := NewValidator(Config{}, nil)

	items, source := x.Extract("٥٠٠")
	if source != constants.SourceAmounts {
		t.Fatalf("source = %q", source)
	}
	validated, summary := v.Validate(items)
	if len(validated) != 1 || summary.ValidItems != 1 {
		t.Fatalf("validated = %+v summary = %+v", validated, summary)
	}
	if validated[0].Total != 500 || *validated[0].Quantity != 1 || *validated[0].UnitPrice != 500 {
		t.Fatalf("item = %+v", validated[0])
	}
	if validated[0].Description != "Item 1" {
		t.Errorf("description = %q", validated[0].Description)
	}
}

func TestExtractMiningUsesDescriptions(t *testing.T) {
	x := NewExtractor(Config{}, nil)
	items, _ := x.Extract("Annual maintenance 1,500.00\nخدمات استشارية 250")
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Description != "Annual maintenance" || items[0].Total != 1500 {
		t.Errorf("first = %+v", items[0])
	}
	if items[1].Description != "خدمات استشارية" || items[1].Total != 250 {
		t.Errorf("second = %+v", items[1])
	}
}

func TestExtractNothing(t *testing.T) {
	x := NewExtractor(Config{}, nil)
	items, _ := x.Extract("Thank you for your business")
	if len(items) != 0 {
		t.Fatalf("items = %+v", items)
	}
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0.05},
		{0.01, 0.05},
		{0.07, 0.07},
		{0.5, 0.10},
	}
	for _, tt := range tests {
		if got := (Config{Tolerance: tt.in}).withDefaults().Tolerance; got != tt.want {
			t.Errorf("tolerance %v -> %v, want %v", tt.in, got, tt.want)
		}
	}
	c := Config{}.withDefaults()
	if c.DefaultVATRate != 0.15 || c.DefaultCurrency != "USD" || c.ArabicCurrency != "SAR" || c.MaxMinedItems != 10 {
		t.Fatalf("defaults = %+v", c)
	}
}

func item(desc string, q, p *float64, total float64) entity.LineItem {
	return entity.LineItem{Description: desc, Quantity: q, UnitPrice: p, Total: total}
}
