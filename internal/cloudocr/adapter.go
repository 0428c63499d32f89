package cloudocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

type Status string

const (
	StatusOK               Status = "ok"
	StatusNeedsExternalOCR Status = "needs_external_ocr"
	StatusFileTooLarge     Status = "file_too_large"
)

// SetupGuidance is returned when no provider produced text.
const SetupGuidance = "Cloud text recognition is not available for this document. " +
	"Configure OCR_SPACE_API_KEY, GOOGLE_VISION_API_KEY, or AZURE_VISION_KEY together with AZURE_VISION_ENDPOINT " +
	"to enable it, re-scan the page at 300 DPI with even lighting, or enter the line items manually."

// FileTooLargeGuidance is returned when every configured provider rejected the size.
const FileTooLargeGuidance = "The document is larger than every configured cloud provider accepts, even after compression. " +
	"Split the document into single pages or export it at a lower resolution, then submit it again."

// Failure is one recorded provider problem.
type Failure struct {
	Provider string `json:"provider"`
	Class    string `json:"class"`
	Message  string `json:"message"`
}

type Outcome struct {
	Status     Status    `json:"status"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence"`
	Provider   string    `json:"provider,omitempty"`
	Language   string    `json:"language,omitempty"`
	Guidance   string    `json:"guidance,omitempty"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Adapter walks the provider list in priority order.
type Adapter struct {
	providers  []Provider
	compressor *Compressor
	timeout    time.Duration
	logger     *slog.Logger
}

func NewAdapter(cfg Config, providers []Provider, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if providers == nil {
		providers = NewProviders(cfg, logger)
	}
	return &Adapter{
		providers:  providers,
		compressor: NewCompressor(cfg.MaxCompressionPasses, logger),
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

// Available reports whether at least one provider has credentials.
func (a *Adapter) Available() bool {
	for _, p := range a.providers {
		if p.Configured() {
			return true
		}
	}
	return false
}

// RecognizeDocument sends the whole document.
func (a *Adapter) RecognizeDocument(ctx context.Context, doc entity.Document) Outcome {
	mt := doc.MIMEType
	if mt == "" || mt == "application/octet-stream" {
		mt = constants.MIMEFor(doc.Filename)
	}
	return a.Recognize(ctx, Payload{Data: doc.Content, MIMEType: mt, Filename: doc.Filename})
}

// Escalate implements ocr.Escalator for one rendered page image.
func (a *Adapter) Escalate(ctx context.Context, imagePath string) (entity.OCRAttempt, bool) {
	if !a.Available() {
		return entity.OCRAttempt{}, false
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		a.logger.Warn("cloudocr.escalate.read_failed", "path", imagePath, "error", err)
		return entity.OCRAttempt{}, false
	}
	out := a.Recognize(ctx, Payload{Data: data, MIMEType: constants.MIMEFor(imagePath), Filename: filepath.Base(imagePath)})
	if out.Status != StatusOK {
		return entity.OCRAttempt{}, false
	}
	return entity.OCRAttempt{
		Engine:     out.Provider,
		Language:   out.Language,
		Text:       out.Text,
		Confidence: out.Confidence,
	}, true
}

// Recognize returns the first non-empty text from the highest-priority
// provider that can take the payload. It never returns an error: missing
// credentials, size limits and provider faults end up in the Outcome.
func (a *Adapter) Recognize(ctx context.Context, payload Payload) Outcome {
	var (
		out        = Outcome{Status: StatusNeedsExternalOCR}
		configured int
		tooLarge   int
	)

	for _, p := range a.providers {
		if !p.Configured() {
			a.logger.Debug("cloudocr.provider.skip", "provider", p.Name(), "reason", "no credentials")
			continue
		}
		configured++
		if !p.Accepts(payload.MIMEType) {
			a.logger.Debug("cloudocr.provider.skip", "provider", p.Name(), "reason", "unsupported type", "mime", payload.MIMEType)
			continue
		}

		fitted, passes, err := a.compressor.Fit(payload, p.MaxPayloadBytes())
		if err == nil && !p.Accepts(fitted.MIMEType) {
			err = common.NewAppError("FILE_TOO_LARGE",
				fmt.Sprintf("fits only as %s, which %s does not accept", fitted.MIMEType, p.Name()), common.ErrFileTooLarge)
		}
		if err != nil {
			tooLarge++
			out.Failures = append(out.Failures, failure(p.Name(), err))
			a.logger.Warn("cloudocr.provider.too_large",
				"provider", p.Name(), "bytes", len(payload.Data), "limit", p.MaxPayloadBytes(), "passes", passes)
			continue
		}

		for _, lang := range p.Languages() {
			rec, err := a.call(ctx, p, fitted, lang)
			if err != nil {
				out.Failures = append(out.Failures, failure(p.Name(), err))
				a.logger.Warn("cloudocr.provider.failed", "provider", p.Name(), "lang", lang, "error", err)
				break
			}
			text := strings.TrimSpace(rec.Text)
			if text == "" {
				continue
			}
			conf := rec.Confidence
			if !rec.Reported {
				conf = ocr.HeuristicConfidence(text)
			}
			a.logger.Info("cloudocr.provider.ok",
				"provider", p.Name(), "lang", lang, "passes", passes,
				"confidence", conf, "text_len", len(text))
			out.Status = StatusOK
			out.Text = text
			out.Confidence = entity.ClampConfidence(conf)
			out.Provider = p.Name()
			out.Language = lang
			return out
		}
		if ctx.Err() != nil {
			break
		}
		if n := len(out.Failures); n == 0 || out.Failures[n-1].Provider != p.Name() {
			out.Failures = append(out.Failures, failure(p.Name(),
				fmt.Errorf("%w: empty text for every language hint", common.ErrNoTextExtracted)))
		}
	}

	switch {
	case configured > 0 && tooLarge == configured:
		out.Status = StatusFileTooLarge
		out.Guidance = FileTooLargeGuidance
	default:
		out.Guidance = SetupGuidance
	}
	a.logger.Info("cloudocr.outcome", "status", out.Status, "configured", configured, "failures", len(out.Failures))
	return out
}

func (a *Adapter) call(ctx context.Context, p Provider, payload Payload, lang string) (Recognition, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	rec, err := p.Recognize(cctx, payload, lang)
	if err != nil && !errors.Is(err, common.ErrProviderUnavailable) {
		err = fmt.Errorf("%s: %w: %w", p.Name(), common.ErrProviderUnavailable, err)
	}
	return rec, err
}

func failure(provider string, err error) Failure {
	return Failure{Provider: provider, Class: common.Classify(err), Message: err.Error()}
}
