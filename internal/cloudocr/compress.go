package cloudocr

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sunshineplan/imgconv"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// JPEG quality per image pass; pass n also scales by 0.75^(n-1).
var jpegQualities = []int{85, 70, 55, 40}

const passDownscale = 0.75

// pdfPasses are the document-level passes (first page, optimize) tried
// before a PDF is rendered to JPEG.
const pdfPasses = 2

var pdfcpuInit sync.Once

// Compressor shrinks payloads under a provider limit in a bounded number of
// passes. Pass 0 is the original. PDFs are cut to their first page and then
// optimized; after that the first page is rendered and treated as an image.
// Images are re-encoded as JPEG at falling quality and size.
type Compressor struct {
	maxPasses int
	logger    *slog.Logger
}

func NewCompressor(maxPasses int, logger *slog.Logger) *Compressor {
	if maxPasses <= 0 {
		maxPasses = len(jpegQualities)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{maxPasses: maxPasses, logger: logger}
}

// compressionState carries the current candidate between passes.
type compressionState struct {
	pass    int
	payload Payload
	decoded image.Image // decoded once: the original image or the rendered first PDF page
}

// Fit returns a payload no larger than limit and the number of passes used.
// An error unwrapping to common.ErrFileTooLarge means every pass was spent.
func (c *Compressor) Fit(p Payload, limit int) (Payload, int, error) {
	if limit <= 0 || len(p.Data) <= limit {
		return p, 0, nil
	}
	st := compressionState{payload: p}
	for st.pass < c.maxPasses {
		st.pass++
		next, err := c.step(&st, p)
		if err != nil {
			c.logger.Info("cloudocr.compress.pass_failed", "pass", st.pass, "mime", p.MIMEType, "error", err)
			break
		}
		c.logger.Debug("cloudocr.compress.pass",
			"pass", st.pass, "bytes_before", len(st.payload.Data), "bytes_after", len(next.Data), "limit", limit)
		st.payload = next
		if len(next.Data) <= limit {
			return next, st.pass, nil
		}
	}
	return p, st.pass, common.NewAppError("FILE_TOO_LARGE",
		fmt.Sprintf("%d bytes does not fit %d after %d passes", len(p.Data), limit, st.pass), common.ErrFileTooLarge)
}

func (c *Compressor) step(st *compressionState, orig Payload) (Payload, error) {
	switch {
	case isPDF(orig.MIMEType):
		return c.pdfStep(st)
	case isImage(orig.MIMEType):
		return c.imageStep(st, orig)
	}
	return Payload{}, fmt.Errorf("no compression for %q", orig.MIMEType)
}

func (c *Compressor) pdfStep(st *compressionState) (Payload, error) {
	if st.pass > pdfPasses {
		return c.renderedPDFStep(st)
	}
	pdfcpuInit.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	var out bytes.Buffer
	switch st.pass {
	case 1:
		if err := api.Trim(bytes.NewReader(st.payload.Data), &out, []string{"1"}, conf); err != nil {
			return Payload{}, fmt.Errorf("first page: %w", err)
		}
	case 2:
		if err := api.Optimize(bytes.NewReader(st.payload.Data), &out, conf); err != nil {
			return Payload{}, fmt.Errorf("optimize: %w", err)
		}
	}
	return Payload{Data: out.Bytes(), MIMEType: st.payload.MIMEType, Filename: st.payload.Filename}, nil
}

// renderedPDFStep rasterizes the first page once and walks it down the
// JPEG ladder like any other image.
func (c *Compressor) renderedPDFStep(st *compressionState) (payload Payload, err error) {
	if st.decoded == nil {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("render first page: panic: %v", r)
			}
		}()
		img, derr := imgconv.Decode(bytes.NewReader(st.payload.Data))
		if derr != nil {
			return Payload{}, fmt.Errorf("render first page: %w", derr)
		}
		st.decoded = img
	}
	return encodeJPEG(st.decoded, st.pass-pdfPasses, st.payload.Filename)
}

func (c *Compressor) imageStep(st *compressionState, orig Payload) (Payload, error) {
	if st.decoded == nil {
		img, err := imaging.Decode(bytes.NewReader(orig.Data), imaging.AutoOrientation(true))
		if err != nil {
			return Payload{}, fmt.Errorf("decode: %w", err)
		}
		st.decoded = img
	}
	return encodeJPEG(st.decoded, st.pass, orig.Filename)
}

// encodeJPEG renders rung n (1-based) of the JPEG ladder: quality
// jpegQualities[n-1] at 0.75^(n-1) of the source width.
func encodeJPEG(img image.Image, n int, filename string) (Payload, error) {
	if n > len(jpegQualities) {
		return Payload{}, fmt.Errorf("lowest jpeg quality reached")
	}
	if scale := math.Pow(passDownscale, float64(n-1)); scale < 1 {
		w := int(math.Round(float64(img.Bounds().Dx()) * scale))
		if w < 1 {
			w = 1
		}
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(jpegQualities[n-1])); err != nil {
		return Payload{}, fmt.Errorf("encode jpeg: %w", err)
	}
	name := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg"
	return Payload{Data: out.Bytes(), MIMEType: "image/jpeg", Filename: name}, nil
}
