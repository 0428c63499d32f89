package cloudocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sunshineplan/imgconv"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

type fakeProvider struct {
	name       string
	configured bool
	maxBytes   int
	langs      []string
	texts      map[string]string
	err        error
	calls      []string
	sizes      []int
}

func (p *fakeProvider) Name() string         { return p.name }
func (p *fakeProvider) Configured() bool     { return p.configured }
func (p *fakeProvider) MaxPayloadBytes() int { return p.maxBytes }
func (p *fakeProvider) Languages() []string  { return p.langs }

func (p *fakeProvider) Accepts(mimeType string) bool { return isImage(mimeType) || isPDF(mimeType) }

func (p *fakeProvider) Recognize(_ context.Context, payload Payload, lang string) (Recognition, error) {
	p.calls = append(p.calls, lang)
	p.sizes = append(p.sizes, len(payload.Data))
	if p.err != nil {
		return Recognition{}, p.err
	}
	return Recognition{Text: p.texts[lang]}, nil
}

func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRecognizeNothingConfigured(t *testing.T) {
	a := NewAdapter(Config{}, []Provider{
		&fakeProvider{name: "a"},
		&fakeProvider{name: "b"},
	}, nil)
	out := a.Recognize(context.Background(), Payload{Data: []byte("x"), MIMEType: "image/png"})
	if out.Status != StatusNeedsExternalOCR || out.Guidance == "" || len(out.Failures) != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if a.Available() {
		t.Fatal("Available with no credentials")
	}
}

func TestRecognizePriorityAndLanguageFallback(t *testing.T) {
	down := &fakeProvider{name: "down", configured: true, maxBytes: 1 << 20, langs: []string{"ara", "eng"},
		err: errors.New("connection refused")}
	skipped := &fakeProvider{name: "nokey", langs: []string{"ara"}}
	good := &fakeProvider{name: "good", configured: true, maxBytes: 1 << 20, langs: []string{"ar", "en"},
		texts: map[string]string{"en": "Invoice 12 Total USD 243.00"}}
	never := &fakeProvider{name: "never", configured: true, maxBytes: 1 << 20, langs: []string{"ar"}}

	a := NewAdapter(Config{}, []Provider{down, skipped, good, never}, nil)
	out := a.Recognize(context.Background(), Payload{Data: []byte("img"), MIMEType: "image/png"})
	if out.Status != StatusOK || out.Provider != "good" || out.Language != "en" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Confidence <= 0 || out.Confidence > 100 {
		t.Fatalf("confidence = %v", out.Confidence)
	}
	if len(down.calls) != 1 {
		t.Fatalf("failed provider retried: %v", down.calls)
	}
	if len(skipped.calls) != 0 || len(never.calls) != 0 {
		t.Fatal("unexpected provider calls")
	}
	if len(out.Failures) != 1 || out.Failures[0].Class != common.ClassProviderUnavailable {
		t.Fatalf("failures = %+v", out.Failures)
	}
}

func TestRecognizeCompressesUnderLimit(t *testing.T) {
	data := noisePNG(t, 400, 400)
	limit := 120 << 10
	if len(data) <= limit {
		t.Fatalf("fixture too small: %d", len(data))
	}
	p := &fakeProvider{name: "small", configured: true, maxBytes: limit, langs: []string{"eng"},
		texts: map[string]string{"eng": "TOTAL 10.00"}}
	out := NewAdapter(Config{}, []Provider{p}, nil).Recognize(context.Background(), Payload{Data: data, MIMEType: "image/png", Filename: "scan.png"})
	if out.Status != StatusOK {
		t.Fatalf("outcome = %+v", out)
	}
	if p.sizes[0] > limit {
		t.Fatalf("sent %d bytes over limit %d", p.sizes[0], limit)
	}
}

func TestRecognizeFileTooLarge(t *testing.T) {
	p := &fakeProvider{name: "tiny", configured: true, maxBytes: 64, langs: []string{"eng"}}
	out := NewAdapter(Config{}, []Provider{p}, nil).
		Recognize(context.Background(), Payload{Data: noisePNG(t, 64, 64), MIMEType: "image/png"})
	if out.Status != StatusFileTooLarge || out.Guidance != FileTooLargeGuidance {
		t.Fatalf("outcome = %+v", out)
	}
	if len(p.calls) != 0 {
		t.Fatal("provider called with oversize payload")
	}
	if out.Failures[0].Class != common.ClassFileTooLarge {
		t.Fatalf("failure = %+v", out.Failures[0])
	}
}

func TestCompressorPasses(t *testing.T) {
	c := NewCompressor(4, nil)
	data := noisePNG(t, 300, 300)
	_, passes, err := c.Fit(Payload{Data: data, MIMEType: "image/png"}, 10)
	if !errors.Is(err, common.ErrFileTooLarge) || passes != 4 {
		t.Fatalf("passes=%d err=%v", passes, err)
	}

	small := Payload{Data: []byte("ok"), MIMEType: "image/png"}
	if got, passes, err := c.Fit(small, 10); err != nil || passes != 0 || !bytes.Equal(got.Data, small.Data) {
		t.Fatalf("under limit: passes=%d err=%v", passes, err)
	}

	_, _, err = c.Fit(Payload{Data: []byte("not a pdf at all"), MIMEType: "application/pdf"}, 4)
	if !errors.Is(err, common.ErrFileTooLarge) {
		t.Fatalf("broken pdf: %v", err)
	}
}

// noisePDF wraps a noise image in a one-page PDF, which neither trimming nor
// optimizing can shrink.
func noisePDF(t *testing.T, w, h int) []byte {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(noisePNG(t, w, h)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := imgconv.Write(&buf, img, &imgconv.FormatOption{Format: imgconv.PDF}); err != nil {
		t.Fatalf("encode pdf: %v", err)
	}
	return buf.Bytes()
}

func TestCompressorRendersScannedPDF(t *testing.T) {
	data := noisePDF(t, 300, 300)
	limit := len(data) * 2 / 5

	got, passes, err := NewCompressor(6, nil).Fit(Payload{Data: data, MIMEType: "application/pdf", Filename: "scan.pdf"}, limit)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if passes <= pdfPasses || got.MIMEType != "image/jpeg" || got.Filename != "scan.jpg" {
		t.Fatalf("passes=%d mime=%s name=%s", passes, got.MIMEType, got.Filename)
	}
	if len(got.Data) > limit {
		t.Fatalf("%d bytes over limit %d", len(got.Data), limit)
	}
}

func TestRecognizeScannedPDFOverLimit(t *testing.T) {
	data := noisePDF(t, 300, 300)
	limit := len(data) * 2 / 5
	p := &fakeProvider{name: "small", configured: true, maxBytes: limit, langs: []string{"eng"},
		texts: map[string]string{"eng": "TOTAL 10.00"}}

	out := NewAdapter(Config{MaxCompressionPasses: 6}, []Provider{p}, nil).
		Recognize(context.Background(), Payload{Data: data, MIMEType: "application/pdf", Filename: "scan.pdf"})
	if out.Status != StatusOK {
		t.Fatalf("outcome = %+v", out)
	}
	if p.sizes[0] > limit {
		t.Fatalf("sent %d bytes over limit %d", p.sizes[0], limit)
	}
}

func TestEscalate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page-1-r90.png")
	if err := os.WriteFile(path, noisePNG(t, 8, 8), 0o600); err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{name: "vision", configured: true, maxBytes: 1 << 20, langs: []string{"ar,en"},
		texts: map[string]string{"ar,en": "فاتورة 2024-01-05 SAR 500.00"}}
	a := NewAdapter(Config{Timeout: time.Second}, []Provider{p}, nil)
	att, ok := a.Escalate(context.Background(), path)
	if !ok || att.Engine != "vision" || att.Language != "ar,en" {
		t.Fatalf("attempt = %+v ok=%v", att, ok)
	}

	none := NewAdapter(Config{}, []Provider{&fakeProvider{name: "off"}}, nil)
	if _, ok := none.Escalate(context.Background(), path); ok {
		t.Fatal("escalated without providers")
	}

	out := a.RecognizeDocument(context.Background(), entity.Document{Content: []byte("x"), Filename: "a.png"})
	if out.Status != StatusOK {
		t.Fatalf("document outcome = %+v", out)
	}
}
