package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Rotations tried per page, in order. 0° first so it is the baseline trial.
var Rotations = []int{0, 90, 180, 270}

// Escalator is consulted for pages whose local confidence stays below the
// acceptance floor.
type Escalator interface {
	Escalate(ctx context.Context, imagePath string) (entity.OCRAttempt, bool)
}

// PageResult is the best (DPI, rotation, language) combination for a page.
type PageResult struct {
	Page      int
	Best      entity.OCRAttempt
	ImagePath string
	Trials    int
	Escalated bool
	Warnings  []string
}

// OrientationResolver searches rotation × language × DPI per page.
type OrientationResolver struct {
	cfg        Config
	rasterizer *Rasterizer
	local      *LocalEngineAdapter
	cloud      Escalator
	logger     *slog.Logger
}

// NewOrientationResolver wires the resolver; cloud may be nil.
func NewOrientationResolver(cfg Config, rasterizer *Rasterizer, local *LocalEngineAdapter, cloud Escalator, logger *slog.Logger) *OrientationResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrientationResolver{cfg: cfg.withDefaults(), rasterizer: rasterizer, local: local, cloud: cloud, logger: logger}
}

// ResolvePage runs the full grid on one rendered page and escalates to the
// cloud when the best local confidence stays below the floor.
func (r *OrientationResolver) ResolvePage(ctx context.Context, page PageImage) (PageResult, error) {
	res, err := r.resolveGrid(ctx, page)
	if err != nil {
		return res, err
	}
	r.escalate(ctx, &res)
	return res, nil
}

// resolveGrid walks rotations × language sets sequentially, keeping the
// maximum-confidence attempt. Because the first trial (0°, dual language)
// seeds the running best, the result is never below that baseline.
func (r *OrientationResolver) resolveGrid(ctx context.Context, page PageImage) (PageResult, error) {
	res := PageResult{Page: page.Page, ImagePath: page.Path}
	sets := r.cfg.LanguageSets()
	skipped := make(map[string]bool, len(sets))
	have := false
	var src image.Image

grid:
	for _, rot := range Rotations {
		path := page.Path
		if rot != 0 {
			if src == nil {
				img, err := imaging.Open(page.Path)
				if err != nil {
					res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: open for rotation: %v", page.Page, err))
					break grid
				}
				src = img
			}
			p, err := writeRotation(src, page.Path, rot)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: rotate %d: %v", page.Page, rot, err))
				continue
			}
			path = p
		}

		for _, langs := range sets {
			key := langKey(langs)
			if skipped[key] {
				continue
			}
			att, err := r.local.Recognize(ctx, path, langs)
			if err != nil {
				if errors.Is(err, ErrLanguageUnavailable) {
					skipped[key] = true
					res.Warnings = append(res.Warnings, fmt.Sprintf("language data missing for %s", key))
					r.logger.Warn("ocr.resolver.language.missing", "page", page.Page, "lang", key)
					continue
				}
				return res, err
			}
			res.Trials++
			att.Rotation = rot
			att.DPI = page.DPI
			if !have || att.Confidence > res.Best.Confidence {
				res.Best = att
				res.ImagePath = path
				have = true
			}
			if res.Best.Confidence >= r.cfg.GridAcceptConfidence {
				break grid
			}
		}
	}

	r.logger.Debug("ocr.resolver.page.best",
		"page", page.Page, "dpi", page.DPI, "rotation", res.Best.Rotation,
		"lang", res.Best.Language, "confidence", res.Best.Confidence, "trials", res.Trials)
	return res, nil
}

// escalate sends the best-orientation image to the cloud and adopts the
// answer only if it is strictly better.
func (r *OrientationResolver) escalate(ctx context.Context, res *PageResult) {
	if r.cloud == nil || res.Best.Confidence >= r.cfg.AcceptConfidence || res.ImagePath == "" {
		return
	}
	att, ok := r.cloud.Escalate(ctx, res.ImagePath)
	if !ok {
		return
	}
	r.logger.Info("ocr.resolver.cloud",
		"page", res.Page, "local_confidence", res.Best.Confidence,
		"cloud_confidence", att.Confidence, "provider", att.Engine)
	if att.Confidence > res.Best.Confidence {
		att.Rotation = res.Best.Rotation
		att.DPI = res.Best.DPI
		res.Best = att
		res.Escalated = true
	}
}

// ResolveDocument rasterizes doc at each configured DPI until the mean page
// confidence reaches the floor, keeping the best combination per page, then
// escalates weak pages to the cloud.
func (r *OrientationResolver) ResolveDocument(ctx context.Context, doc entity.Document, ws *Workspace) (entity.ExtractionResult, error) {
	dpis := r.cfg.DPIs
	if doc.Format() != constants.PDF {
		dpis = dpis[:1]
	}

	best := make(map[int]PageResult)
	var warnings []string
	var convErr error
	converted := false

	for _, dpi := range dpis {
		pages, err := r.rasterizer.Rasterize(ctx, doc, dpi, ws)
		if err != nil {
			if ctx.Err() != nil {
				return entity.ExtractionResult{}, ctx.Err()
			}
			convErr = err
			warnings = append(warnings, fmt.Sprintf("rasterize at %d dpi: %v", dpi, err))
			continue
		}
		converted = true

		results, err := r.resolvePages(ctx, pages)
		if err != nil {
			return entity.ExtractionResult{}, err
		}
		var sum float64
		for _, pr := range results {
			sum += pr.Best.Confidence
			warnings = append(warnings, pr.Warnings...)
			if cur, ok := best[pr.Page]; !ok || pr.Best.Confidence > cur.Best.Confidence {
				best[pr.Page] = pr
			}
		}
		mean := sum / float64(len(results))
		r.logger.Info("ocr.resolver.dpi", "dpi", dpi, "pages", len(results), "mean_confidence", mean)
		if mean >= r.cfg.AcceptConfidence {
			break
		}
	}
	if !converted {
		return entity.ExtractionResult{Warnings: warnings}, convErr
	}

	ordered := make([]PageResult, 0, len(best))
	for _, pr := range best {
		ordered = append(ordered, pr)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Page < ordered[j].Page })

	escalated := false
	for i := range ordered {
		r.escalate(ctx, &ordered[i])
		escalated = escalated || ordered[i].Escalated
	}

	out := entity.ExtractionResult{
		Pages:    len(ordered),
		Method:   constants.MethodLocalOCR,
		Warnings: dedupe(warnings),
	}
	if escalated {
		out.Method = constants.MethodLocalOCRCloud
	}
	texts := make([]string, 0, len(ordered))
	var sum float64
	for _, pr := range ordered {
		out.PageDetails = append(out.PageDetails, entity.PageDetail{
			Page:        pr.Page,
			Text:        pr.Best.Text,
			Confidence:  pr.Best.Confidence,
			Orientation: pr.Best.Rotation,
			Language:    pr.Best.Language,
			DPI:         pr.Best.DPI,
			Engine:      pr.Best.Engine,
		})
		if t := strings.TrimSpace(pr.Best.Text); t != "" {
			texts = append(texts, t)
		}
		sum += pr.Best.Confidence
	}
	out.Text = strings.Join(texts, "\n\n")
	if len(ordered) > 0 {
		out.Confidence = entity.ClampConfidence(sum / float64(len(ordered)))
	}
	return out, nil
}

// resolvePages runs the grid for each page with bounded fan-out. A fatal
// engine error cancels the sibling pages.
func (r *OrientationResolver) resolvePages(ctx context.Context, pages []PageImage) ([]PageResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxPageWorkers)
	results := make([]PageResult, len(pages))
	for i, p := range pages {
		g.Go(func() error {
			res, err := r.resolveGrid(gctx, p)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeRotation(src image.Image, imagePath string, deg int) (string, error) {
	var img image.Image
	switch deg {
	case 90:
		img = imaging.Rotate90(src)
	case 180:
		img = imaging.Rotate180(src)
	case 270:
		img = imaging.Rotate270(src)
	default:
		return "", fmt.Errorf("unsupported rotation %d", deg)
	}
	out := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + fmt.Sprintf("-r%d.png", deg)
	if err := imaging.Save(img, out); err != nil {
		return "", err
	}
	return out, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
