package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
)

// llm runs the full pipeline with the LLM extractor N times on the same
// document to check how stable the model's line items are.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llm <document> [times]")
		os.Exit(2)
	}
	path := os.Args[1]
	times := 5
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if cfg.LLM.APIKey == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	doc, err := ingest.LoadDocument(path, cfg.Server.MaxUploadBytes)
	if err != nil {
		logger.Error("load document", "path", path, "error", err)
		os.Exit(1)
	}
	orch := pipeline.NewFromConfig(cfg, logger)
	defer func() { _ = orch.Close() }()

	base := filepath.Base(path)
	counts := map[int]int{}
	for i := 1; i <= times; i++ {
		start := time.Now()
		logger.Info("llm.run.start", "iter", i, "basename", base)

		res, err := orch.Extract(context.Background(), doc)
		if err != nil {
			logger.Error("llm.run.error", "iter", i, "error", err)
			continue
		}
		counts[len(res.Invoice.LineItems)]++
		logger.Info("llm.run.ok",
			"iter", i,
			"source", res.Invoice.Source,
			"items", len(res.Invoice.LineItems),
			"valid", res.Invoice.Validation.ValidItems,
			"net", res.Invoice.Totals.Net,
			"llm_failed", res.HasFailure(common.ClassProviderUnavailable),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)

		time.Sleep(750 * time.Millisecond)
	}

	logger.Info("done", "basename", base, "times", times, "item_count_histogram", counts)
}
