package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"log/slog"
	"os/exec"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/cloudocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

// missingRunner behaves like a host with none of the external tools installed.
type missingRunner struct{}

func (missingRunner) Run(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
	return nil, nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
}

type fixedEngine struct {
	rec ocr.Recognition
}

func (fixedEngine) Name() string { return "fixed" }

func (e fixedEngine) Recognize(context.Context, string, []string) (ocr.Recognition, error) {
	return e.rec, nil
}

type textProvider struct {
	text  string
	calls int
}

func (p *textProvider) Name() string                 { return "fake-cloud" }
func (p *textProvider) Configured() bool             { return true }
func (p *textProvider) MaxPayloadBytes() int         { return 10 << 20 }
func (p *textProvider) Accepts(mimeType string) bool { return strings.HasPrefix(mimeType, "image/") }
func (p *textProvider) Languages() []string          { return []string{"ar,en"} }

func (p *textProvider) Recognize(context.Context, cloudocr.Payload, string) (cloudocr.Recognition, error) {
	p.calls++
	return cloudocr.Recognition{Text: p.text}, nil
}

type stubLLM struct {
	fields llm.InvoiceFields
	err    error
	reqs   []llm.ExtractRequest
}

func (s *stubLLM) ExtractItems(_ context.Context, req llm.ExtractRequest) (llm.InvoiceFields, []byte, error) {
	s.reqs = append(s.reqs, req)
	return s.fields, nil, s.err
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(120, 160, color.White), imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testConfig(t *testing.T) Config {
	return Config{WorkDir: t.TempDir(), OCR: ocr.Config{MaxAttempts: 1}}
}

// newTestOrchestrator wires the real ocr components over a host without
// binaries, with engine as the local recognizer.
func newTestOrchestrator(t *testing.T, engine ocr.Engine, providers []cloudocr.Provider, model llm.ItemExtractor) *Orchestrator {
	t.Helper()
	cfg := testConfig(t)
	runner := missingRunner{}
	if engine == nil {
		engine = ocr.NewTesseractEngine(cfg.OCR, runner, nil)
	}
	if providers == nil {
		providers = []cloudocr.Provider{}
	}
	return New(cfg, Deps{
		TextLayer:  ocr.NewTextLayerExtractor(cfg.OCR, runner, nil),
		Rasterizer: ocr.NewRasterizer(cfg.OCR, runner, nil),
		Local:      ocr.NewLocalEngineAdapter(engine, cfg.OCR, nil),
		Cloud:      cloudocr.NewAdapter(cloudocr.Config{}, providers, nil),
		LLM:        model,
	}, nil)
}

func TestExtractWithoutEngineOrCredentials(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, nil)
	doc := entity.Document{Content: pngBytes(t), Filename: "scan.png", MIMEType: "image/png"}

	res, err := o.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if res.Status != constants.RunStatusGuidance || res.Guidance != cloudocr.SetupGuidance {
		t.Fatalf("status %s guidance %q", res.Status, res.Guidance)
	}
	if res.Extraction.Method != constants.MethodGuidance || res.Extraction.Confidence >= 30 {
		t.Fatalf("extraction = %+v", res.Extraction)
	}
	for _, class := range []string{common.ClassEngineUnavailable, common.ClassNoTextExtracted} {
		if !res.HasFailure(class) {
			t.Errorf("missing %s failure in %+v", class, res.Failures)
		}
	}
	if len(res.Invoice.LineItems) != 0 || res.Invoice.Currency != "USD" {
		t.Errorf("invoice = %+v", res.Invoice)
	}
	if last := res.Trace[len(res.Trace)-1]; last.State != StateDone {
		t.Errorf("last step = %+v", last)
	}
}

func TestExtractPlainTextInvoice(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, nil)
	doc := entity.Document{Content: []byte("T3 Transaction Fees 162 1.50 243.00"), Filename: "fees.txt"}

	res, err := o.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Status != constants.RunStatusExtracted || res.Extraction.Method != constants.MethodNativeText {
		t.Fatalf("status %s method %s", res.Status, res.Extraction.Method)
	}
	if res.Extraction.Confidence != ocr.NativeTextConfidence {
		t.Errorf("confidence = %v", res.Extraction.Confidence)
	}

	inv := res.Invoice
	if len(inv.LineItems) != 1 || inv.Validation.ValidItems != 1 {
		t.Fatalf("invoice = %+v", inv)
	}
	it := inv.LineItems[0]
	if it.Description != "T3 Transaction Fees" || *it.Quantity != 162 || *it.UnitPrice != 1.5 || it.Total != 243 || !it.IsValid {
		t.Fatalf("item = %+v", it)
	}
	if inv.Totals.Net != 243 || inv.Totals.VAT != 36.45 || inv.Totals.Gross != 279.45 {
		t.Errorf("totals = %+v", inv.Totals)
	}

	var states []string
	for _, s := range res.Trace {
		states = append(states, s.State)
	}
	want := []string{StateNativeText, StateExtract, StateExtract, StateReconcile, StateDone}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("trace = %v", states)
	}
}

func TestExtractInvoiceWithHeaderLines(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, nil)
	text := "Invoice No 10234\n" +
		"Customer ID 5521\n" +
		"T3 Transaction Fees 162 1.50 243.00\n" +
		"Card Issuance 2 25.00 50.00\n" +
		"Total 293.00\n" +
		"Page 1"

	res, err := o.Extract(context.Background(), entity.Document{Content: []byte(text), Filename: "statement.txt"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	inv := res.Invoice
	if inv.Validation.TotalItems != 2 || inv.Validation.ValidItems != 2 {
		t.Fatalf("items = %+v", inv.LineItems)
	}
	if inv.Totals.Net != 293 {
		t.Errorf("net = %.2f, want 293.00", inv.Totals.Net)
	}
	if inv.DeclaredTotal == nil || *inv.DeclaredTotal != inv.Totals.Net {
		t.Errorf("declared = %v, net = %.2f", inv.DeclaredTotal, inv.Totals.Net)
	}
	if inv.InvoiceNumber != "10234" {
		t.Errorf("invoice number = %q", inv.InvoiceNumber)
	}
}

func TestExtractArabicDigitAmount(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, nil)
	res, err := o.Extract(context.Background(), entity.Document{Content: []byte("٥٠٠"), Filename: "amount.txt"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	inv := res.Invoice
	if inv.Source != constants.SourceAmounts || len(inv.LineItems) != 1 {
		t.Fatalf("invoice = %+v", inv)
	}
	if it := inv.LineItems[0]; it.Total != 500 || !it.IsValid || it.Description != "Item 1" {
		t.Fatalf("item = %+v", it)
	}
}

func TestExtractBlankTextNeedsManualEntry(t *testing.T) {
	o := New(testConfig(t), Deps{TextLayer: ocr.NewTextLayerExtractor(ocr.Config{}, missingRunner{}, nil)}, nil)
	res, err := o.Extract(context.Background(), entity.Document{Content: []byte("   \n  "), Filename: "blank.txt"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Status != constants.RunStatusGuidance || res.Guidance != ManualEntryGuidance {
		t.Fatalf("status %s guidance %q", res.Status, res.Guidance)
	}
}

func TestExtractEscalatesWeakPagesToCloud(t *testing.T) {
	cloudText := "Invoice INV-7 dated 2024-03-15 SAR\n" +
		"Widget A 2 15.00 30.00\n" +
		"Service fee 1 12.50 12.50\n" +
		"Thank you for your business, payment is due within thirty days."
	provider := &textProvider{text: cloudText}
	o := newTestOrchestrator(t, fixedEngine{rec: ocr.Recognition{Text: "~~", Confidence: 20}}, []cloudocr.Provider{provider}, nil)

	res, err := o.Extract(context.Background(), entity.Document{Content: pngBytes(t), Filename: "photo.png"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Extraction.Method != constants.MethodLocalOCRCloud || res.Extraction.Confidence <= 20 {
		t.Fatalf("extraction = %+v", res.Extraction)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want one page escalation and no document retry", provider.calls)
	}
	inv := res.Invoice
	if inv.InvoiceNumber != "INV-7" || inv.Currency != "SAR" || inv.Validation.ValidItems != 2 {
		t.Fatalf("invoice = %+v", inv)
	}
	if inv.Totals.Net != 42.5 {
		t.Errorf("net = %v", inv.Totals.Net)
	}
}

func TestExtractPrefersLLMAndFallsBack(t *testing.T) {
	text := "Invoice No: INV-2024-001\nWidget A 2 15.00 30.00"

	model := &stubLLM{fields: llm.InvoiceFields{
		InvoiceDate:   "2024-03-15",
		CurrencyCode:  "EUR",
		DeclaredTotal: entity.Float(34.5),
		LineItems: []llm.ItemFields{
			{Description: "Widget A", Quantity: entity.Float(2), UnitPrice: entity.Float(15), Total: 30},
		},
	}}
	o := newTestOrchestrator(t, nil, nil, model)
	res, err := o.Extract(context.Background(), entity.Document{Content: []byte(text), Filename: "inv.txt"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	inv := res.Invoice
	if inv.Source != constants.SourceLLM || inv.Date != "2024-03-15" || inv.InvoiceNumber != "INV-2024-001" {
		t.Fatalf("invoice = %+v", inv)
	}
	if inv.Currency == "EUR" {
		t.Errorf("currency taken from model instead of document text")
	}
	if inv.DeclaredTotal == nil || *inv.DeclaredTotal != 34.5 {
		t.Errorf("declared = %v", inv.DeclaredTotal)
	}
	if len(model.reqs) != 1 || model.reqs[0].FilenameHint != "inv.txt" || model.reqs[0].ImagePath != "" {
		t.Errorf("requests = %+v", model.reqs)
	}

	failing := &stubLLM{err: common.NewAppError("LLM", "rate limited", common.ErrProviderUnavailable)}
	o = newTestOrchestrator(t, nil, nil, failing)
	res, err = o.Extract(context.Background(), entity.Document{Content: []byte(text), Filename: "inv.txt"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Invoice.Source != constants.SourcePattern || res.Invoice.Validation.ValidItems != 1 {
		t.Fatalf("fallback invoice = %+v", res.Invoice)
	}
	if !res.HasFailure(common.ClassProviderUnavailable) {
		t.Errorf("failures = %+v", res.Failures)
	}
}

func TestExtractRejectsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, nil)
	tests := []struct {
		name string
		doc  entity.Document
	}{
		{"empty", entity.Document{Filename: "a.pdf"}},
		{"unsupported", entity.Document{Content: []byte("x"), Filename: "notes.docx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.Extract(context.Background(), tt.doc); !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("err = %v", err)
			}
		})
	}

	_ = o.Close()
	if _, err := o.Extract(context.Background(), entity.Document{Content: []byte("x"), Filename: "a.txt"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("after Close err = %v", err)
	}
}

type scriptedStrategy struct {
	name  string
	res   entity.ExtractionResult
	err   error
	calls int
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Attempt(context.Context, *Run) (entity.ExtractionResult, error) {
	s.calls++
	return s.res, s.err
}

func TestAcquireShortCircuit(t *testing.T) {
	newRun := func() *Run { return &Run{logger: slog.New(slog.DiscardHandler)} }

	t.Run("accepts first confident result", func(t *testing.T) {
		first := &scriptedStrategy{name: StateNativeText, res: entity.ExtractionResult{Text: "a", Confidence: 95}}
		second := &scriptedStrategy{name: StateRasterizeOCR, res: entity.ExtractionResult{Text: "b", Confidence: 99}}
		o := &Orchestrator{cfg: Config{}.withDefaults(), strategies: []Strategy{first, second}}
		best, ok := o.acquire(context.Background(), newRun())
		if !ok || best.Text != "a" || second.calls != 0 {
			t.Fatalf("best = %+v, second calls = %d", best, second.calls)
		}
	})

	t.Run("escalated native text competes with ocr", func(t *testing.T) {
		run := newRun()
		run.escalate = true
		first := &scriptedStrategy{name: StateNativeText, res: entity.ExtractionResult{Text: "visual order", Confidence: 60}}
		second := &scriptedStrategy{name: StateRasterizeOCR, res: entity.ExtractionResult{Text: "logical order", Confidence: 80}}
		third := &scriptedStrategy{name: StateCloudOCR}
		o := &Orchestrator{cfg: Config{}.withDefaults(), strategies: []Strategy{first, second, third}}
		best, _ := o.acquire(context.Background(), run)
		if best.Text != "logical order" || third.calls != 0 {
			t.Fatalf("best = %+v, third calls = %d", best, third.calls)
		}
	})

	t.Run("failures are recorded and skipped", func(t *testing.T) {
		run := newRun()
		broken := &scriptedStrategy{name: StateRasterizeOCR, err: common.NewAppError("OCR", "gone", common.ErrEngineUnavailable)}
		skipped := &scriptedStrategy{name: StateNativeText, err: errNotApplicable}
		cloud := &scriptedStrategy{name: StateCloudOCR, res: entity.ExtractionResult{Text: "c", Confidence: 40}}
		o := &Orchestrator{cfg: Config{}.withDefaults(), strategies: []Strategy{skipped, broken, cloud}}
		best, ok := o.acquire(context.Background(), run)
		if !ok || best.Text != "c" {
			t.Fatalf("best = %+v", best)
		}
		if len(run.failures) != 1 || run.failures[0].Class != common.ClassEngineUnavailable {
			t.Fatalf("failures = %+v", run.failures)
		}
	})
}
