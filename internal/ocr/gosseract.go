//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// NewDefaultEngine returns the in-process libtesseract engine.
func NewDefaultEngine(cfg Config, _ Runner, logger *slog.Logger) Engine {
	return NewGosseractEngine(cfg, logger)
}

// GosseractEngine calls libtesseract through cgo. A client is created per
// call; gosseract clients are not safe for concurrent use.
type GosseractEngine struct {
	cfg    Config
	logger *slog.Logger
}

func NewGosseractEngine(cfg Config, logger *slog.Logger) *GosseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &GosseractEngine{cfg: cfg.withDefaults(), logger: logger}
}

func (e *GosseractEngine) Name() string { return "gosseract" }

func (e *GosseractEngine) Recognize(ctx context.Context, path string, langs []string) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	client := gosseract.NewClient()
	defer func() {
		if err := client.Close(); err != nil {
			e.logger.Warn("gosseract close failed", "error", err)
		}
	}()

	if e.cfg.TessdataDir != "" {
		if err := client.SetTessdataPrefix(e.cfg.TessdataDir); err != nil {
			return Recognition{}, common.NewAppError("OCR_ENGINE", "tessdata prefix", common.ErrEngineUnavailable)
		}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return Recognition{}, fmt.Errorf("%w: %s", ErrLanguageUnavailable, langKey(langs))
	}
	if e.cfg.PSM > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PSM)); err != nil {
			return Recognition{}, err
		}
	}
	if err := client.SetImage(path); err != nil {
		return Recognition{}, fmt.Errorf("gosseract: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		if strings.Contains(err.Error(), "language") {
			return Recognition{}, fmt.Errorf("%w: %s", ErrLanguageUnavailable, langKey(langs))
		}
		return Recognition{}, fmt.Errorf("gosseract: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return Recognition{}, fmt.Errorf("gosseract: %w", err)
	}

	var sum float64
	var n int
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		sum += b.Confidence
		n++
	}
	rec := Recognition{Text: text}
	if n > 0 {
		rec.Confidence = sum / float64(n)
	}
	return rec, nil
}
