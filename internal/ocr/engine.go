package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

const (
	downscaleStep    = 0.8
	enhanceAttempt   = 3
	enhanceContrast  = 60
	thresholdLevel   = 150
	minVariantPixels = 32
)

// LocalEngineAdapter runs an Engine on one image with a bounded
// retry-and-downscale policy.
type LocalEngineAdapter struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
}

func NewLocalEngineAdapter(engine Engine, cfg Config, logger *slog.Logger) *LocalEngineAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngineAdapter{engine: engine, cfg: cfg.withDefaults(), logger: logger}
}

func (a *LocalEngineAdapter) EngineName() string { return a.engine.Name() }

// attemptPlan holds the parameters for attempt n: scale is 0.8^(n-1) and
// enhancement switches on from the third attempt.
type attemptPlan struct {
	n       int
	scale   float64
	enhance bool
}

func planAttempt(n int) attemptPlan {
	return attemptPlan{
		n:       n,
		scale:   math.Pow(downscaleStep, float64(n-1)),
		enhance: n >= enhanceAttempt,
	}
}

// Recognize returns the best-confidence attempt. Low confidence is not an
// error; only an unavailable engine, missing language data or a cancelled
// context are returned as errors.
func (a *LocalEngineAdapter) Recognize(ctx context.Context, imagePath string, langs []string) (entity.OCRAttempt, error) {
	best := entity.OCRAttempt{Engine: a.engine.Name(), Language: langKey(langs)}
	var src image.Image

	for n := 1; n <= a.cfg.MaxAttempts; n++ {
		plan := planAttempt(n)
		path := imagePath
		if n > 1 {
			if src == nil {
				img, err := imaging.Open(imagePath)
				if err != nil {
					a.logger.Warn("ocr.local.variant.open_failed", "path", imagePath, "error", err)
					break
				}
				src = img
			}
			p, err := writeVariant(src, imagePath, plan)
			if err != nil {
				a.logger.Debug("ocr.local.variant.skipped", "attempt", n, "error", err)
				break
			}
			path = p
		}

		rec, err := a.engine.Recognize(ctx, path, langs)
		if err != nil {
			if isFatalEngineError(ctx, err) {
				return best, err
			}
			a.logger.Debug("ocr.local.attempt.failed", "attempt", n, "lang", best.Language, "error", err)
			rec = Recognition{}
		}
		conf := entity.ClampConfidence(rec.Confidence)
		if n == 1 || conf > best.Confidence {
			best.Text = rec.Text
			best.Confidence = conf
		}
		a.logger.Debug("ocr.local.attempt",
			"attempt", n, "scale", plan.scale, "enhance", plan.enhance,
			"lang", best.Language, "confidence", conf)
		if conf >= a.cfg.EarlyStopConfidence {
			break
		}
	}
	return best, nil
}

func isFatalEngineError(ctx context.Context, err error) bool {
	return errors.Is(err, common.ErrEngineUnavailable) ||
		errors.Is(err, ErrLanguageUnavailable) ||
		ctx.Err() != nil
}

// writeVariant renders the preprocessed image for plan next to imagePath.
func writeVariant(src image.Image, imagePath string, plan attemptPlan) (string, error) {
	img := preprocess(src, plan)
	if img.Bounds().Dx() < minVariantPixels || img.Bounds().Dy() < minVariantPixels {
		return "", fmt.Errorf("variant too small: %v", img.Bounds().Size())
	}
	out := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + fmt.Sprintf("-a%d.png", plan.n)
	if err := imaging.Save(img, out); err != nil {
		return "", err
	}
	return out, nil
}

func preprocess(src image.Image, plan attemptPlan) image.Image {
	img := src
	if plan.scale < 1 {
		w := int(math.Round(float64(src.Bounds().Dx()) * plan.scale))
		if w < 1 {
			w = 1
		}
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
	}
	if plan.enhance {
		g := imaging.Grayscale(img)
		g = imaging.AdjustContrast(g, enhanceContrast)
		g = imaging.Sharpen(g, 1.0)
		img = binarize(g, thresholdLevel)
	}
	return img
}

// binarize maps a grayscale image to pure black and white.
func binarize(img image.Image, level uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		if c.R >= level {
			return color.NRGBA{R: 255, G: 255, B: 255, A: c.A}
		}
		return color.NRGBA{A: c.A}
	})
}
