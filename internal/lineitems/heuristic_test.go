package lineitems

import (
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func TestHeuristicExtract(t *testing.T) {
	text := "Description Qty Price Amount\n" +
		"Coffee beans 2 x 12.50\n" +
		"Delivery fee 15.00\n" +
		"Printer paper 3 45.00\n" +
		"Phone: 0501234567\n" +
		"Subtotal 85.00\n" +
		"Grand Total 1,200,000.00"

	items := NewHeuristicExtractor(nil).Extract(text)
	if len(items) != 4 {
		t.Fatalf("items = %+v", items)
	}

	coffee := items[0]
	if coffee.Description != "Coffee beans" || *coffee.Quantity != 2 || *coffee.UnitPrice != 12.5 || coffee.Total != 25 {
		t.Errorf("coffee = %+v", coffee)
	}
	delivery := items[1]
	if delivery.Description != "Delivery fee" || delivery.Quantity != nil || delivery.UnitPrice != nil || delivery.Total != 15 {
		t.Errorf("delivery = %+v", delivery)
	}
	paper := items[2]
	if paper.Description != "Printer paper" || *paper.Quantity != 3 || paper.UnitPrice != nil || paper.Total != 45 {
		t.Errorf("paper = %+v", paper)
	}
	gt := items[3]
	if !gt.IsGrandTotal || gt.Total != 1_200_000 || gt.Description != "Grand Total" {
		t.Errorf("grand total = %+v", gt)
	}
	for _, it := range items {
		if it.Source != constants.SourceHeuristic {
			t.Errorf("source = %q", it.Source)
		}
	}
}

func TestHeuristicThreeNumbers(t *testing.T) {
	items := NewHeuristicExtractor(nil).Extract("T3 Transaction Fees 162 1.50 243.00 SAR")
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	got := NewValidator(Config{}, nil).ValidateItem(items[0])
	if got.Description != "T3 Transaction Fees" || !got.IsValid || got.Total != 243 {
		t.Fatalf("item = %+v", got)
	}
}

func TestHeuristicIgnoresNumbersWithoutText(t *testing.T) {
	items := NewHeuristicExtractor(nil).Extract("12 34 56\n2024-01-05\n")
	if len(items) != 0 {
		t.Fatalf("items = %+v", items)
	}
}

func TestHeuristicAssembledWithPrimary(t *testing.T) {
	f := entity.Float
	v := NewValidator(Config{}, nil)
	meta := Metadata{Currency: "USD"}
	h := v.Assemble(meta, []entity.LineItem{
		{Description: "Widget", Quantity: f(2), UnitPrice: f(15), Total: 30, Source: constants.SourceHeuristic},
		{Description: "Total", Total: 30, IsGrandTotal: true, Source: constants.SourceHeuristic},
	}, constants.SourceHeuristic)
	if h.DeclaredTotal == nil || *h.DeclaredTotal != 30 || h.Validation.TotalItems != 1 {
		t.Fatalf("assembled = %+v", h)
	}
}

func TestHeuristicSkipsDocumentFields(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{"invoice number", "Invoice No 10234", 0},
		{"invoice hash", "Invoice # 10234", 0},
		{"customer id", "Customer ID 5521", 0},
		{"account number", "Account No. 88812", 0},
		{"page footer", "Page 1", 0},
		{"order ref", "PO Number 4471", 0},
		{"arabic invoice number", "رقم الفاتورة 10234", 0},
		{"arabic page", "صفحة 1", 0},
		{"bare integer", "Warranty card 2024", 0},
		{"integer with currency", "Installation 150 SAR", 1},
		{"decimal amount", "Delivery fee 15.00", 1},
		{"dates item", "Dates box 2 10.00 20.00", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewHeuristicExtractor(nil).Extract(tt.line); len(got) != tt.want {
				t.Fatalf("Extract(%q) = %+v, want %d items", tt.line, got, tt.want)
			}
		})
	}
}

func TestReconcileInvoiceWithHeaderLines(t *testing.T) {
	text := "Invoice No 10234\n" +
		"Customer ID 5521\n" +
		"Date: 15/03/2024\n" +
		"T3 Transaction Fees 162 1.50 243.00\n" +
		"Card Issuance 2 25.00 50.00\n" +
		"Page 1\n" +
		"Total 293.00"
	cfg := Config{}
	v := NewValidator(cfg, nil)
	meta := ExtractMetadata(text, cfg)

	items, source := NewExtractor(cfg, nil).Extract(text)
	primary := v.Assemble(meta, items, source)
	heuristic := v.Assemble(meta, NewHeuristicExtractor(nil).Extract(text), constants.SourceHeuristic)
	if heuristic.Validation.TotalItems != 2 {
		t.Fatalf("heuristic items = %+v", heuristic.LineItems)
	}

	got, reason := Reconcile(primary, heuristic)
	if got.Totals.Net != 293 {
		t.Fatalf("net = %.2f (%s), want 293.00", got.Totals.Net, reason)
	}
	if got.DeclaredTotal == nil || *got.DeclaredTotal != 293 {
		t.Fatalf("declared = %v", got.DeclaredTotal)
	}
	for _, it := range got.LineItems {
		if it.Description == "Invoice No" || it.Description == "Customer ID" || it.Description == "Page" {
			t.Errorf("document field taken as item: %+v", it)
		}
	}
}
