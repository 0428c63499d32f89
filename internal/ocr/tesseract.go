package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// Recognition is raw engine output for one image.
type Recognition struct {
	Text       string
	Confidence float64 // 0..100
}

// Engine is a local recognition engine.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string, langs []string) (Recognition, error)
}

// ErrLanguageUnavailable means the engine runs but lacks data for a hint set.
var ErrLanguageUnavailable = errors.New("ocr language data unavailable")

// TesseractEngine shells out to the tesseract CLI in TSV mode.
type TesseractEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractEngine(cfg Config, runner Runner, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &TesseractEngine{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Recognize(ctx context.Context, path string, langs []string) (Recognition, error) {
	args := []string{path, "stdout", "-l", langKey(langs)}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	// TSV output
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		stderr := string(errb)
		switch {
		case isNotFound(err):
			return Recognition{}, common.NewAppError("OCR_ENGINE", e.cfg.Tesseract+" not found", common.ErrEngineUnavailable)
		case strings.Contains(stderr, "Failed loading language") || strings.Contains(stderr, "Error opening data file"):
			return Recognition{}, fmt.Errorf("%w: %s", ErrLanguageUnavailable, langKey(langs))
		case ctx.Err() != nil:
			return Recognition{}, ctx.Err()
		}
		return Recognition{}, fmt.Errorf("tesseract: %w: %s", err, truncate(stderr, 512))
	}
	return parseTSV(string(out)), nil
}

// parseTSV rebuilds text line by line from tesseract TSV and averages the
// word confidences (rows with conf -1 are structural and skipped).
//
// Columns: level page_num block_num par_num line_num word_num left top width height conf text
func parseTSV(tsv string) Recognition {
	var (
		b       strings.Builder
		lineKey string
		lineBuf []string
		sum, n  float64
	)
	flush := func() {
		if len(lineBuf) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(lineBuf, " "))
		lineBuf = lineBuf[:0]
	}
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		} // skip header
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		} // word level only
		word := strings.TrimSpace(cols[11])
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 || word == "" {
			continue
		}
		key := strings.Join(cols[1:5], ".")
		if key != lineKey {
			flush()
			lineKey = key
		}
		lineBuf = append(lineBuf, word)
		sum += conf
		n++
	}
	flush()
	if n == 0 {
		return Recognition{}
	}
	return Recognition{Text: b.String(), Confidence: sum / n}
}
