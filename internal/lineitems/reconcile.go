package lineitems

import (
	"fmt"
	"math"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Divergence bounds between primary and heuristic net totals.
const (
	DivergenceAbs = 1.00
	DivergenceRel = 0.05
)

// Reconcile chooses between the primary and heuristic extractions and
// returns the pick with a short reason.
func Reconcile(primary, heuristic entity.InvoiceExtraction) (entity.InvoiceExtraction, string) {
	pv, hv := primary.Validation.ValidItems, heuristic.Validation.ValidItems
	switch {
	case len(primary.LineItems) == 0 && len(heuristic.LineItems) == 0:
		return primary, "no items from either extractor"
	case len(primary.LineItems) == 0:
		return withDeclared(heuristic, primary), "primary empty"
	case len(heuristic.LineItems) == 0:
		return withDeclared(primary, heuristic), "heuristic empty"
	case pv > hv:
		return withDeclared(primary, heuristic), fmt.Sprintf("primary has more valid items (%d > %d)", pv, hv)
	case hv > pv:
		return withDeclared(heuristic, primary), fmt.Sprintf("heuristic has more valid items (%d > %d)", hv, pv)
	}

	declared := primary.DeclaredTotal
	if declared == nil {
		declared = heuristic.DeclaredTotal
	}
	pn, hn := primary.Totals.Net, heuristic.Totals.Net
	if declared != nil {
		pd, hd := math.Abs(pn-*declared), math.Abs(hn-*declared)
		switch {
		case hd < pd:
			return withDeclared(heuristic, primary), fmt.Sprintf("heuristic net %.2f closer to declared %.2f", hn, *declared)
		case pd < hd:
			return withDeclared(primary, heuristic), fmt.Sprintf("primary net %.2f closer to declared %.2f", pn, *declared)
		}
	}

	limit := math.Max(DivergenceAbs, DivergenceRel*math.Max(math.Abs(pn), math.Abs(hn)))
	if math.Abs(pn-hn) > limit {
		return withDeclared(heuristic, primary), fmt.Sprintf("net totals diverge (%.2f vs %.2f)", pn, hn)
	}
	return withDeclared(primary, heuristic), "primary agrees with heuristic"
}

// withDeclared fills document-level fields the chosen side missed.
func withDeclared(chosen, other entity.InvoiceExtraction) entity.InvoiceExtraction {
	if chosen.DeclaredTotal == nil {
		chosen.DeclaredTotal = other.DeclaredTotal
	}
	if chosen.InvoiceNumber == "" {
		chosen.InvoiceNumber = other.InvoiceNumber
	}
	if chosen.Date == "" {
		chosen.Date = other.Date
	}
	return chosen
}
