//go:build !gosseract

package ocr

import "log/slog"

// NewDefaultEngine returns the tesseract CLI engine. Build with
// -tags gosseract to link libtesseract in-process instead.
func NewDefaultEngine(cfg Config, runner Runner, logger *slog.Logger) Engine {
	return NewTesseractEngine(cfg, runner, logger)
}
