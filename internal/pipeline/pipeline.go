// Package pipeline runs one document through text acquisition, line-item
// extraction, validation and reconciliation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/cloudocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/lineitems"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

// TimeoutGuidance is attached when the run deadline expired before every
// strategy finished.
const TimeoutGuidance = "Processing stopped at the time limit; the result may be incomplete. " +
	"Submit fewer pages at once or raise PIPELINE_TIMEOUT."

// ErrClosed is returned by Extract after Close.
var ErrClosed = errors.New("pipeline closed")

type Config struct {
	AcceptConfidence    float64       // short-circuit floor, default 50
	MinUsableConfidence float64       // below this the run ends in guidance, default 30
	ArabicHeavyRatio    float64       // native PDF text at or above this ratio is checked by OCR, default 0.3
	Timeout             time.Duration // whole run, 0 = none
	WorkDir             string        // workspace base, "" = os.TempDir

	OCR       ocr.Config
	LineItems lineitems.Config
}

func (c Config) withDefaults() Config {
	if c.AcceptConfidence <= 0 {
		c.AcceptConfidence = 50
	}
	if c.MinUsableConfidence <= 0 {
		c.MinUsableConfidence = 30
	}
	if c.ArabicHeavyRatio <= 0 {
		c.ArabicHeavyRatio = 0.3
	}
	if c.OCR.AcceptConfidence <= 0 {
		c.OCR.AcceptConfidence = c.AcceptConfidence
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Nil Cloud disables the
// cloud strategy; nil LLM leaves the pattern extractor as primary.
type Deps struct {
	TextLayer  *ocr.TextLayerExtractor
	Rasterizer *ocr.Rasterizer
	Local      *ocr.LocalEngineAdapter
	Cloud      *cloudocr.Adapter
	LLM        llm.ItemExtractor
}

// Orchestrator holds no per-document state; one instance may serve
// concurrent Extract calls.
type Orchestrator struct {
	cfg        Config
	strategies []Strategy
	extractor  *lineitems.Extractor
	heuristic  *lineitems.HeuristicExtractor
	validator  *lineitems.Validator
	llm        llm.ItemExtractor
	logger     *slog.Logger
	closed     atomic.Bool
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if deps.TextLayer == nil {
		deps.TextLayer = ocr.NewTextLayerExtractor(cfg.OCR, nil, logger)
	}

	strategies := []Strategy{
		&nativeTextStrategy{extractor: deps.TextLayer, arabicHeavy: cfg.ArabicHeavyRatio},
	}
	if deps.Rasterizer != nil && deps.Local != nil {
		strategies = append(strategies, &localOCRStrategy{
			cfg:        cfg.OCR,
			rasterizer: deps.Rasterizer,
			local:      deps.Local,
			cloud:      deps.Cloud,
		})
	}
	strategies = append(strategies, &cloudDocumentStrategy{cloud: deps.Cloud})

	return &Orchestrator{
		cfg:        cfg,
		strategies: strategies,
		extractor:  lineitems.NewExtractor(cfg.LineItems, logger),
		heuristic:  lineitems.NewHeuristicExtractor(logger),
		validator:  lineitems.NewValidator(cfg.LineItems, logger),
		llm:        deps.LLM,
		logger:     logger,
	}
}

// Close makes later Extract calls fail. In-flight runs finish normally.
func (o *Orchestrator) Close() error {
	o.closed.Store(true)
	return nil
}

// Extract processes doc. Unreadable documents, missing engines and provider
// faults end up in Result.Failures; the error return is reserved for
// invalid input and workspace faults. A run id already on ctx is reused.
func (o *Orchestrator) Extract(ctx context.Context, doc entity.Document) (*Result, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if len(doc.Content) == 0 {
		return nil, common.NewAppError("EMPTY_DOCUMENT", "document content is empty", common.ErrInvalidInput)
	}
	if doc.Format() == "" {
		return nil, common.NewAppError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("unsupported document type %q (%s)", doc.MIMEType, doc.Filename), common.ErrInvalidInput)
	}

	runID := common.RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.New().String()
		ctx = common.WithRunID(ctx, runID)
	}
	logger := common.LoggerWithContext(ctx, o.logger)
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	ws, err := ocr.NewWorkspace(o.cfg.WorkDir, logger)
	if err != nil {
		return nil, common.NewAppError("WORKSPACE", "create workspace", errors.Join(common.ErrInternal, err))
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Warn("pipeline.workspace.cleanup_failed", "error", cerr)
		}
	}()

	run := &Run{ID: runID, Doc: doc, Workspace: ws, logger: logger, start: time.Now()}
	logger.Info("pipeline.start", "document", doc.Filename, "format", doc.Format(), "bytes", len(doc.Content))

	best, found := o.acquire(ctx, run)

	res := &Result{RunID: runID, Document: doc.Filename}
	timedOut := ctx.Err() != nil
	if timedOut {
		run.addFailure("deadline", ctx.Err())
	}

	if !found || best.Confidence < o.cfg.MinUsableConfidence || strings.TrimSpace(best.Text) == "" {
		o.guidance(run, res, best)
	} else {
		res.Status = constants.RunStatusExtracted
		res.Extraction = best
		res.Invoice = o.extract(ctx, run, best)
		if timedOut {
			res.Guidance = TimeoutGuidance
		}
	}

	run.step(StateDone, string(res.Status), res.Extraction.Confidence)
	res.Failures = run.failures
	res.Trace = run.trace
	res.Elapsed = time.Since(run.start)

	logger.Info("pipeline.done",
		"status", res.Status,
		"method", res.Extraction.Method,
		"confidence", res.Extraction.Confidence,
		"items", len(res.Invoice.LineItems),
		"valid", res.Invoice.Validation.ValidItems,
		"failures", len(res.Failures),
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, nil
}

// acquire runs the strategies in order and keeps the most confident result.
func (o *Orchestrator) acquire(ctx context.Context, run *Run) (entity.ExtractionResult, bool) {
	var best entity.ExtractionResult
	found := false

	for _, s := range o.strategies {
		if ctx.Err() != nil {
			run.logger.Warn("pipeline.deadline", "skipped", s.Name())
			break
		}
		res, err := s.Attempt(ctx, run)
		switch {
		case errors.Is(err, errNotApplicable):
			continue
		case err != nil:
			run.addFailure(s.Name(), err)
			run.step(s.Name(), "failed: "+err.Error(), 0)
			if errors.Is(err, common.ErrEngineUnavailable) {
				run.logger.Error("pipeline.engine_unavailable", "strategy", s.Name(), "error", err)
			} else {
				run.logger.Warn("pipeline.strategy.failed", "strategy", s.Name(), "error", err)
			}
			continue
		}

		run.step(s.Name(), res.Method, res.Confidence)
		run.logger.Info("pipeline.strategy.done",
			"strategy", s.Name(), "method", res.Method, "confidence", res.Confidence,
			"pages", res.Pages, "text_len", len(res.Text))

		if !found || res.Confidence > best.Confidence {
			if found {
				res.Warnings = append(res.Warnings, best.Warnings...)
			}
			best, found = res, true
		} else {
			best.Warnings = append(best.Warnings, res.Warnings...)
		}

		if s.Name() == StateNativeText && run.escalate {
			continue
		}
		if best.Confidence >= o.cfg.AcceptConfidence {
			break
		}
	}
	return best, found
}

// guidance finalizes a run whose text was too weak to extract from.
func (o *Orchestrator) guidance(run *Run, res *Result, best entity.ExtractionResult) {
	res.Status = constants.RunStatusGuidance
	res.Guidance = run.guidance
	if res.Guidance == "" {
		res.Guidance = ManualEntryGuidance
	}

	best.Method = constants.MethodGuidance
	best.Text = ""
	best.PageDetails = nil
	if best.Pages == 0 {
		best.Pages = 1
	}
	res.Extraction = best
	res.Invoice = entity.InvoiceExtraction{
		Currency:  lineitems.ResolveCurrency("", o.cfg.LineItems),
		LineItems: []entity.LineItem{},
		Totals:    o.validator.Totals(nil, nil),
	}

	run.failures = append(run.failures, Failure{
		Stage:   StateGuidance,
		Class:   common.ClassNoTextExtracted,
		Message: fmt.Sprintf("best confidence %.1f below %.0f", best.Confidence, o.cfg.MinUsableConfidence),
	})
	run.step(StateGuidance, "manual entry or provider setup", best.Confidence)
	run.logger.Warn("pipeline.guidance", "confidence", best.Confidence, "failures", len(run.failures))
}
