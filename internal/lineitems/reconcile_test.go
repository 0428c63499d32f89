package lineitems

import (
	"strings"
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func extraction(source string, items, valid int, net float64, declared *float64) entity.InvoiceExtraction {
	inv := entity.InvoiceExtraction{
		Source:        source,
		DeclaredTotal: declared,
		Totals:        entity.Totals{Net: net},
		Validation:    entity.ValidationSummary{TotalItems: items, ValidItems: valid},
	}
	for i := 0; i < items; i++ {
		inv.LineItems = append(inv.LineItems, entity.LineItem{Description: "x", IsValid: i < valid})
	}
	return inv
}

func TestReconcile(t *testing.T) {
	p, h := constants.SourcePattern, constants.SourceHeuristic
	tests := []struct {
		name       string
		primary    entity.InvoiceExtraction
		heuristic  entity.InvoiceExtraction
		wantSource string
		reason     string
	}{
		{"primary empty", extraction(p, 0, 0, 0, nil), extraction(h, 2, 1, 10, nil), h, "primary empty"},
		{"heuristic empty", extraction(p, 2, 1, 10, nil), extraction(h, 0, 0, 0, nil), p, "heuristic empty"},
		{"more valid primary", extraction(p, 3, 3, 90, nil), extraction(h, 3, 2, 90, nil), p, "more valid"},
		{"more valid heuristic", extraction(p, 3, 1, 90, nil), extraction(h, 2, 2, 90, nil), h, "more valid"},
		{"closer to declared", extraction(p, 2, 2, 80, entity.Float(100)), extraction(h, 2, 2, 99, nil), h, "closer"},
		{"primary closer", extraction(p, 2, 2, 100, entity.Float(100)), extraction(h, 2, 2, 60, nil), p, "closer"},
		{"diverging", extraction(p, 2, 2, 100, nil), extraction(h, 2, 2, 200, nil), h, "diverge"},
		{"agreeing", extraction(p, 2, 2, 100, nil), extraction(h, 2, 2, 100.5, nil), p, "agrees"},
		{"small absolute gap", extraction(p, 1, 1, 10, nil), extraction(h, 1, 1, 10.9, nil), p, "agrees"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Reconcile(tt.primary, tt.heuristic)
			if got.Source != tt.wantSource {
				t.Fatalf("picked %q (%s), want %q", got.Source, reason, tt.wantSource)
			}
			if !strings.Contains(reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", reason, tt.reason)
			}
		})
	}
}

func TestReconcileCarriesDeclaredTotal(t *testing.T) {
	primary := extraction(constants.SourcePattern, 1, 1, 50, nil)
	primary.InvoiceNumber = "INV-7"
	heuristic := extraction(constants.SourceHeuristic, 0, 0, 0, entity.Float(57.5))

	got, _ := Reconcile(primary, heuristic)
	if got.DeclaredTotal == nil || *got.DeclaredTotal != 57.5 || got.InvoiceNumber != "INV-7" {
		t.Fatalf("got %+v", got)
	}
}
