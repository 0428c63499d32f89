package pipeline

import (
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Pipeline states, in the order a run moves through them.
const (
	StateNativeText   = "native-text"
	StateRasterizeOCR = "rasterize-ocr"
	StateCloudOCR     = "cloud-ocr"
	StateExtract      = "extract"
	StateReconcile    = "reconcile"
	StateGuidance     = "guidance"
	StateDone         = "done"
)

// ManualEntryGuidance is returned when no strategy produced usable text.
const ManualEntryGuidance = "The document text could not be read with enough confidence. " +
	"Enter the line items manually, or re-submit a clearer scan (300 DPI, upright, even lighting)."

// Failure is one recovered problem, tagged with its taxonomy class.
type Failure struct {
	Stage   string `json:"stage"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

// Step is one state transition recorded in the trace.
type Step struct {
	State      string  `json:"state"`
	Detail     string  `json:"detail,omitempty"`
	Confidence float64 `json:"confidence"`
	ElapsedMS  int64   `json:"elapsed_ms"`
}

// Result is everything a run produced. Status is EXTRACTED or GUIDANCE;
// Guidance is set whenever text confidence stayed below the usable floor.
type Result struct {
	RunID      string                   `json:"run_id"`
	Document   string                   `json:"document"`
	Status     constants.RunStatus      `json:"status"`
	Extraction entity.ExtractionResult  `json:"extraction"`
	Invoice    entity.InvoiceExtraction `json:"invoice"`
	Guidance   string                   `json:"guidance,omitempty"`
	Failures   []Failure                `json:"failures,omitempty"`
	Trace      []Step                   `json:"trace"`
	Elapsed    time.Duration            `json:"-"`
}

// HasFailure reports whether any recorded failure carries class.
func (r *Result) HasFailure(class string) bool {
	for _, f := range r.Failures {
		if f.Class == class {
			return true
		}
	}
	return false
}
