package ocr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

type stubEscalator struct {
	att   entity.OCRAttempt
	ok    bool
	calls int
}

func (s *stubEscalator) Escalate(context.Context, string) (entity.OCRAttempt, bool) {
	s.calls++
	return s.att, s.ok
}

// pngBackend renders real blank pages so rotation can decode them.
type pngBackend struct {
	t     *testing.T
	pages int
	dpis  []int
}

func (b *pngBackend) Name() string { return "png" }

func (b *pngBackend) Supports(string, string) bool { return true }

func (b *pngBackend) Render(_ context.Context, _ string, dpi int, outDir string) ([]string, error) {
	b.dpis = append(b.dpis, dpi)
	var out []string
	for i := 1; i <= b.pages; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i))
		writePNG(b.t, p, 120, 160)
		out = append(out, p)
	}
	return out, nil
}

func newResolver(eng Engine, cloud Escalator, backend RasterBackend, cfg Config) *OrientationResolver {
	cfg.MaxAttempts = 1
	return NewOrientationResolver(cfg,
		NewRasterizerWithBackends(cfg, []RasterBackend{backend}, nil),
		NewLocalEngineAdapter(eng, cfg, nil),
		cloud, nil)
}

func pageFixture(t *testing.T) PageImage {
	p := filepath.Join(t.TempDir(), "page-1.png")
	writePNG(t, p, 120, 160)
	return PageImage{Page: 1, Path: p, DPI: 300}
}

func TestResolvePageNeverBelowBaseline(t *testing.T) {
	eng := &stubEngine{fn: func(path string, langs []string) (Recognition, error) {
		if !strings.Contains(filepath.Base(path), "-r") && len(langs) == 2 {
			return Recognition{Text: "baseline", Confidence: 42}, nil
		}
		return Recognition{Text: "worse", Confidence: 10}, nil
	}}
	r := newResolver(eng, nil, &pngBackend{t: t}, Config{})
	res, err := r.ResolvePage(context.Background(), pageFixture(t))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Best.Confidence != 42 || res.Best.Rotation != 0 || res.Best.Language != "ara+eng" {
		t.Fatalf("best = %+v", res.Best)
	}
	if res.Trials != 12 {
		t.Fatalf("trials = %d, want full grid of 12", res.Trials)
	}
}

func TestResolvePagePicksRotation(t *testing.T) {
	eng := &stubEngine{fn: func(path string, langs []string) (Recognition, error) {
		if strings.HasSuffix(path, "-r270.png") && len(langs) == 1 && langs[0] == "eng" {
			return Recognition{Text: "upright", Confidence: 93}, nil
		}
		return Recognition{Text: "sideways", Confidence: 15}, nil
	}}
	r := newResolver(eng, nil, &pngBackend{t: t}, Config{})
	res, err := r.ResolvePage(context.Background(), pageFixture(t))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Best.Rotation != 270 || res.Best.Language != "eng" || res.Best.Text != "upright" {
		t.Fatalf("best = %+v", res.Best)
	}
	if res.Trials != 12 {
		t.Fatalf("trials = %d", res.Trials)
	}
}

func TestResolvePageEarlyExit(t *testing.T) {
	eng := &stubEngine{fn: func(string, []string) (Recognition, error) {
		return Recognition{Text: "clean", Confidence: 96}, nil
	}}
	res, err := newResolver(eng, nil, &pngBackend{t: t}, Config{}).ResolvePage(context.Background(), pageFixture(t))
	if err != nil || res.Trials != 1 {
		t.Fatalf("trials=%d err=%v", res.Trials, err)
	}
}

func TestResolvePageSkipsMissingLanguage(t *testing.T) {
	eng := &stubEngine{fn: func(_ string, langs []string) (Recognition, error) {
		if len(langs) == 1 && langs[0] == "ara" {
			return Recognition{}, fmt.Errorf("%w: ara", ErrLanguageUnavailable)
		}
		return Recognition{Text: "x", Confidence: 20}, nil
	}}
	res, err := newResolver(eng, nil, &pngBackend{t: t}, Config{}).ResolvePage(context.Background(), pageFixture(t))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Trials != 8 {
		t.Fatalf("trials = %d, want 8", res.Trials)
	}
	if eng.callCount() != 9 {
		t.Fatalf("engine calls = %d, want 9 (ara tried once)", eng.callCount())
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestResolvePageCloudEscalation(t *testing.T) {
	low := &stubEngine{fn: func(string, []string) (Recognition, error) {
		return Recognition{Text: "??", Confidence: 20}, nil
	}}

	better := &stubEscalator{ok: true, att: entity.OCRAttempt{Engine: "ocr.space", Language: "ara", Text: "فاتورة", Confidence: 70}}
	res, err := newResolver(low, better, &pngBackend{t: t}, Config{}).ResolvePage(context.Background(), pageFixture(t))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Escalated || res.Best.Engine != "ocr.space" || res.Best.Confidence != 70 {
		t.Fatalf("escalated result = %+v", res)
	}

	worse := &stubEscalator{ok: true, att: entity.OCRAttempt{Engine: "ocr.space", Confidence: 5}}
	res, _ = newResolver(low, worse, &pngBackend{t: t}, Config{}).ResolvePage(context.Background(), pageFixture(t))
	if res.Escalated || res.Best.Confidence != 20 {
		t.Fatalf("worse cloud answer adopted: %+v", res)
	}

	high := &stubEngine{fn: func(string, []string) (Recognition, error) {
		return Recognition{Text: "ok", Confidence: 60}, nil
	}}
	unused := &stubEscalator{ok: true}
	if _, err := newResolver(high, unused, &pngBackend{t: t}, Config{}).ResolvePage(context.Background(), pageFixture(t)); err != nil {
		t.Fatal(err)
	}
	if unused.calls != 0 {
		t.Fatal("cloud consulted above the acceptance floor")
	}
}

func TestResolveDocumentDPISweep(t *testing.T) {
	eng := &stubEngine{fn: func(path string, _ []string) (Recognition, error) {
		if strings.Contains(path, "png-200-") {
			return Recognition{Text: "Total 243.00", Confidence: 60}, nil
		}
		return Recognition{Text: "T0ta1", Confidence: 30}, nil
	}}
	backend := &pngBackend{t: t, pages: 2}
	r := newResolver(eng, nil, backend, Config{})

	res, err := r.ResolveDocument(context.Background(), entity.Document{Content: []byte("%PDF"), Filename: "scan.pdf"}, newTestWorkspace(t))
	if err != nil {
		t.Fatalf("resolve document: %v", err)
	}
	if fmt.Sprint(backend.dpis) != "[300 200]" {
		t.Fatalf("dpis rendered = %v, want sweep to stop at 200", backend.dpis)
	}
	if res.Pages != 2 || len(res.PageDetails) != 2 {
		t.Fatalf("pages = %d details = %d", res.Pages, len(res.PageDetails))
	}
	for i, pd := range res.PageDetails {
		if pd.Page != i+1 || pd.DPI != 200 || pd.Confidence != 60 {
			t.Fatalf("page detail %d = %+v", i, pd)
		}
	}
	if res.Confidence != 60 || res.Method != constants.MethodLocalOCR {
		t.Fatalf("result = %+v", res)
	}
	if res.Text != "Total 243.00\n\nTotal 243.00" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestResolveDocumentImageSinglePass(t *testing.T) {
	eng := &stubEngine{fn: func(string, []string) (Recognition, error) {
		return Recognition{Text: "faint", Confidence: 12}, nil
	}}
	backend := &pngBackend{t: t, pages: 1}
	cloud := &stubEscalator{ok: true, att: entity.OCRAttempt{Engine: "google-vision", Text: "Invoice", Confidence: 80}}
	res, err := newResolver(eng, cloud, backend, Config{}).
		ResolveDocument(context.Background(), entity.Document{Content: []byte("img"), Filename: "photo.jpg"}, newTestWorkspace(t))
	if err != nil {
		t.Fatalf("resolve document: %v", err)
	}
	if len(backend.dpis) != 1 {
		t.Fatalf("images should render once, got %v", backend.dpis)
	}
	if res.Method != constants.MethodLocalOCRCloud || res.Confidence != 80 || cloud.calls != 1 {
		t.Fatalf("result = %+v calls=%d", res, cloud.calls)
	}
}

func TestResolveDocumentEngineUnavailable(t *testing.T) {
	eng := &stubEngine{fn: func(string, []string) (Recognition, error) {
		return Recognition{}, common.NewAppError("OCR_ENGINE", "tesseract not found", common.ErrEngineUnavailable)
	}}
	_, err := newResolver(eng, nil, &pngBackend{t: t, pages: 3}, Config{MaxPageWorkers: 2}).
		ResolveDocument(context.Background(), entity.Document{Content: []byte("%PDF"), Filename: "scan.pdf"}, newTestWorkspace(t))
	if !errors.Is(err, common.ErrEngineUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
