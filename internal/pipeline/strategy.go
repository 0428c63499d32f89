package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/cloudocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/textnorm"
)

// errNotApplicable tells the orchestrator to skip a strategy for this document.
var errNotApplicable = errors.New("strategy not applicable")

// Strategy is one text acquisition path. Strategies are tried in priority
// order; the first result at or above the accept confidence ends the search.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, run *Run) (entity.ExtractionResult, error)
}

// Run is the state of one pipeline invocation. Nothing in it outlives the
// call to Orchestrator.Extract.
type Run struct {
	ID        string
	Doc       entity.Document
	Workspace *ocr.Workspace

	logger   *slog.Logger
	start    time.Time
	failures []Failure
	trace    []Step
	guidance string

	// set by the native strategy when usable text must still be checked by OCR
	escalate bool
	// set once any cloud provider has been asked about this document
	cloudConsulted atomic.Bool
}

func (r *Run) addFailure(stage string, err error) {
	r.failures = append(r.failures, Failure{Stage: stage, Class: common.Classify(err), Message: err.Error()})
}

func (r *Run) step(state, detail string, confidence float64) {
	r.trace = append(r.trace, Step{
		State:      state,
		Detail:     detail,
		Confidence: confidence,
		ElapsedMS:  time.Since(r.start).Milliseconds(),
	})
}

type nativeTextStrategy struct {
	extractor   *ocr.TextLayerExtractor
	arabicHeavy float64
}

func (s *nativeTextStrategy) Name() string { return StateNativeText }

func (s *nativeTextStrategy) Attempt(ctx context.Context, run *Run) (entity.ExtractionResult, error) {
	format := run.Doc.Format()
	if format == constants.IMAGE {
		return entity.ExtractionResult{}, errNotApplicable
	}

	tl := s.extractor.Extract(ctx, run.Doc, run.Workspace)
	out := entity.ExtractionResult{Method: constants.MethodNativeText, Pages: max(tl.Pages, 1)}
	if tl.Failure != nil {
		run.addFailure(StateNativeText, tl.Failure)
		out.Warnings = append(out.Warnings, "text layer: "+tl.Failure.Error())
		return out, nil
	}

	out.Text = textnorm.Normalize(tl.Text)
	out.IsArabic = textnorm.ContainsArabic(out.Text)

	switch tl.Class {
	case ocr.TextUsable:
		out.Confidence = ocr.NativeTextConfidence
		if ratio := textnorm.ArabicRatio(out.Text); format == constants.PDF && ratio >= s.arabicHeavy {
			// embedded Arabic is often stored in visual order; let OCR compete
			out.Confidence = ocr.HeuristicConfidence(out.Text)
			out.Warnings = append(out.Warnings, fmt.Sprintf("arabic-heavy text layer (%.2f), verifying with OCR", ratio))
			run.escalate = true
		}
	case ocr.TextGarbled:
		out.Warnings = append(out.Warnings, fmt.Sprintf("text layer garbled (ratio %.2f) via %s", tl.GarbledRatio, tl.Backend))
	}
	if out.Text != "" {
		out.PageDetails = []entity.PageDetail{{Page: 1, Text: out.Text, Confidence: out.Confidence, Engine: tl.Backend}}
	}
	return out, nil
}

type localOCRStrategy struct {
	cfg        ocr.Config
	rasterizer *ocr.Rasterizer
	local      *ocr.LocalEngineAdapter
	cloud      *cloudocr.Adapter
}

func (s *localOCRStrategy) Name() string { return StateRasterizeOCR }

func (s *localOCRStrategy) Attempt(ctx context.Context, run *Run) (entity.ExtractionResult, error) {
	if f := run.Doc.Format(); f != constants.PDF && f != constants.IMAGE {
		return entity.ExtractionResult{}, errNotApplicable
	}

	var esc ocr.Escalator
	if s.cloud != nil && s.cloud.Available() {
		esc = &trackingEscalator{inner: s.cloud, run: run}
	}
	resolver := ocr.NewOrientationResolver(s.cfg, s.rasterizer, s.local, esc, run.logger)
	res, err := resolver.ResolveDocument(ctx, run.Doc, run.Workspace)
	if err != nil {
		return res, err
	}
	res.Text = textnorm.Normalize(res.Text)
	res.IsArabic = textnorm.ContainsArabic(res.Text)
	return res, nil
}

// trackingEscalator records that the cloud was consulted for a page so the
// whole-document cloud strategy does not ask again.
type trackingEscalator struct {
	inner ocr.Escalator
	run   *Run
}

func (t *trackingEscalator) Escalate(ctx context.Context, imagePath string) (entity.OCRAttempt, bool) {
	t.run.cloudConsulted.Store(true)
	return t.inner.Escalate(ctx, imagePath)
}

type cloudDocumentStrategy struct {
	cloud *cloudocr.Adapter
}

func (s *cloudDocumentStrategy) Name() string { return StateCloudOCR }

func (s *cloudDocumentStrategy) Attempt(ctx context.Context, run *Run) (entity.ExtractionResult, error) {
	if s.cloud == nil || run.cloudConsulted.Load() {
		return entity.ExtractionResult{}, errNotApplicable
	}
	run.cloudConsulted.Store(true)

	out := s.cloud.RecognizeDocument(ctx, run.Doc)
	for _, f := range out.Failures {
		run.failures = append(run.failures, Failure{Stage: StateCloudOCR, Class: f.Class, Message: f.Provider + ": " + f.Message})
	}
	res := entity.ExtractionResult{Method: constants.MethodCloudOCR, Pages: 1}
	if out.Status != cloudocr.StatusOK {
		run.guidance = out.Guidance
		res.Warnings = append(res.Warnings, "cloud ocr: "+string(out.Status))
		return res, nil
	}

	res.Text = textnorm.Normalize(out.Text)
	res.Confidence = out.Confidence
	res.IsArabic = textnorm.ContainsArabic(res.Text)
	res.PageDetails = []entity.PageDetail{{
		Page:       1,
		Text:       res.Text,
		Confidence: out.Confidence,
		Language:   out.Language,
		Engine:     out.Provider,
	}}
	return res, nil
}
