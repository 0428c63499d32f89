package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sunshineplan/imgconv"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// PageImage is one rendered page on disk inside a Workspace.
type PageImage struct {
	Page    int
	Path    string
	DPI     int
	Backend string
}

// RasterBackend renders a source file into PNG pages under outDir.
type RasterBackend interface {
	Name() string
	Supports(format, ext string) bool
	Render(ctx context.Context, src string, dpi int, outDir string) ([]string, error)
}

// Rasterizer tries its backends in order; the first one that yields at least
// one image wins for the invocation.
type Rasterizer struct {
	cfg      Config
	backends []RasterBackend
	logger   *slog.Logger
}

func NewRasterizer(cfg Config, runner Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	cfg = cfg.withDefaults()
	return NewRasterizerWithBackends(cfg, []RasterBackend{
		&pdftoppmBackend{bin: cfg.Pdftoppm, runner: runner, maxPages: cfg.MaxPages},
		&magickBackend{bin: cfg.Magick, runner: runner, maxPages: cfg.MaxPages},
		imgconvBackend{},
		decodeBackend{},
	}, logger)
}

func NewRasterizerWithBackends(cfg Config, backends []RasterBackend, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{cfg: cfg.withDefaults(), backends: backends, logger: logger}
}

// Rasterize renders doc at dpi. DPI is ignored by backends that decode
// images directly.
func (r *Rasterizer) Rasterize(ctx context.Context, doc entity.Document, dpi int, ws *Workspace) ([]PageImage, error) {
	format := doc.Format()
	ext := constants.NormalizeExt(filepath.Ext(doc.Filename))
	src, err := ws.Materialize(sourceName(doc), doc.Content)
	if err != nil {
		return nil, fmt.Errorf("materialize source: %w", err)
	}

	var tried []string
	for _, b := range r.backends {
		if !b.Supports(format, ext) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outDir, err := ws.Sub(fmt.Sprintf("%s-%d", b.Name(), dpi))
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		paths, err := b.Render(ctx, src, dpi, outDir)
		if err != nil || len(paths) == 0 {
			if err == nil {
				err = fmt.Errorf("no images produced")
			}
			if !isNotFound(err) {
				r.logger.Info("ocr.raster.backend.failed", "backend", b.Name(), "dpi", dpi, "error", err)
			}
			tried = append(tried, b.Name()+": "+err.Error())
			continue
		}
		if r.cfg.MaxPages > 0 && len(paths) > r.cfg.MaxPages {
			paths = paths[:r.cfg.MaxPages]
		}
		pages := make([]PageImage, len(paths))
		for i, p := range paths {
			pages[i] = PageImage{Page: i + 1, Path: p, DPI: dpi, Backend: b.Name()}
		}
		r.logger.Debug("ocr.raster.ok", "backend", b.Name(), "dpi", dpi, "pages", len(pages))
		return pages, nil
	}

	msg := "no backend supports format " + format
	if len(tried) > 0 {
		msg = strings.Join(tried, "; ")
	}
	return nil, common.NewAppError("RASTERIZE", msg, common.ErrConversionFailure)
}

type pdftoppmBackend struct {
	bin      string
	runner   Runner
	maxPages int
}

func (b *pdftoppmBackend) Name() string { return "pdftoppm" }

func (b *pdftoppmBackend) Supports(format, _ string) bool { return format == constants.PDF }

func (b *pdftoppmBackend) Render(ctx context.Context, src string, dpi int, outDir string) ([]string, error) {
	prefix := filepath.Join(outDir, "page")
	// pdftoppm -r 300 -png [-l N] <in.pdf> <dir/page>
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if b.maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(b.maxPages))
	}
	args = append(args, src, prefix)
	if _, errb, err := b.runner.Run(ctx, b.bin, args...); err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}
	// prefix-1.png, prefix-2.png, ... (zero padded by page count)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	return matches, nil
}

type magickBackend struct {
	bin      string
	runner   Runner
	maxPages int
}

func (b *magickBackend) Name() string { return "magick" }

func (b *magickBackend) Supports(format, ext string) bool {
	return format == constants.PDF || constants.IsHEICExt(ext)
}

func (b *magickBackend) Render(ctx context.Context, src string, dpi int, outDir string) ([]string, error) {
	out := filepath.Join(outDir, "page-%03d.png")
	in := src
	if b.maxPages > 0 && strings.HasSuffix(src, ".pdf") {
		in = fmt.Sprintf("%s[0-%d]", src, b.maxPages-1)
	}
	args := []string{"-density", strconv.Itoa(dpi), in, "-background", "white", "-alpha", "remove", out}
	if _, errb, err := b.runner.Run(ctx, b.bin, args...); err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("magick: %w: %s", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(filepath.Join(outDir, "page-*.png"))
	sort.Strings(matches)
	return matches, nil
}

// imgconvBackend renders the first PDF page in pure Go. It is the last
// resort when no poppler/ImageMagick binary is installed.
type imgconvBackend struct{}

func (imgconvBackend) Name() string { return "imgconv" }

func (imgconvBackend) Supports(format, _ string) bool { return format == constants.PDF }

func (imgconvBackend) Render(_ context.Context, src string, _ int, outDir string) (paths []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("imgconv: panic: %v", r)
		}
	}()
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imgconv: %w", err)
	}
	out := filepath.Join(outDir, "page-1.png")
	if err := imaging.Save(img, out); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

// decodeBackend normalizes raster inputs (JPEG, PNG, GIF, TIFF, BMP, WebP)
// to an EXIF-upright PNG.
type decodeBackend struct{}

func (decodeBackend) Name() string { return "decode" }

func (decodeBackend) Supports(format, ext string) bool {
	return format == constants.IMAGE && !constants.IsHEICExt(ext)
}

func (decodeBackend) Render(_ context.Context, src string, _ int, outDir string) ([]string, error) {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	out := filepath.Join(outDir, "page-1.png")
	if err := imaging.Save(img, out); err != nil {
		return nil, err
	}
	return []string{out}, nil
}
