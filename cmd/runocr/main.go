package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
)

// runocr runs only the local orientation/DPI search on one PDF or image and
// prints the per-page winners. Cloud providers are not consulted.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <pdf-or-image>")
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	pc := pipeline.ConfigFrom(cfg)
	ctx := context.Background()
	if cfg.Pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.Timeout)
		defer cancel()
	}

	doc, err := ingest.LoadDocument(os.Args[1], cfg.Server.MaxUploadBytes)
	if err != nil {
		logger.Error("load document", "path", os.Args[1], "error", err)
		os.Exit(1)
	}

	ws, err := ocr.NewWorkspace(pc.WorkDir, logger)
	if err != nil {
		logger.Error("create workspace", "error", err)
		os.Exit(1)
	}
	defer func() { _ = ws.Close() }()

	runner := ocr.NewExecRunner(logger)
	local := ocr.NewLocalEngineAdapter(ocr.NewDefaultEngine(pc.OCR, runner, logger), pc.OCR, logger)
	resolver := ocr.NewOrientationResolver(pc.OCR, ocr.NewRasterizer(pc.OCR, runner, logger), local, nil, logger)

	res, err := resolver.ResolveDocument(ctx, doc, ws)
	if err != nil {
		logger.Error("ocr failed", "class", common.Classify(err), "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(res)
}
