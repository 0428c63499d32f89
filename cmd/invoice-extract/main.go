package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/async"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/export"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
	"github.com/joseph-ayodele/invoice-extractor/internal/server"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

type fileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type batchReport struct {
	Results []*pipeline.Result `json:"results"`
	Errors  []fileError        `json:"errors,omitempty"`
	Stats   ingest.DirStats    `json:"stats"`
}

func main() {
	var (
		file       = flag.String("file", "", "single document to extract")
		dir        = flag.String("dir", "", "directory of documents to extract")
		out        = flag.String("out", "", "write JSON here instead of stdout")
		xlsx       = flag.String("xlsx", "", "also write an XLSX workbook to this path")
		store      = flag.String("store", "", "run store DSN (sqlite path or postgres URL); defaults to DB_URL")
		watch      = flag.Bool("watch", false, "with -dir, keep watching for new documents")
		workers    = flag.Int("workers", 0, "parallel documents in directory mode (default QUEUE_WORKERS)")
		skipHidden = flag.Bool("skip-hidden", true, "ignore dot files and directories")
	)
	flag.Parse()

	if (*file == "") == (*dir == "") {
		printError("Error: exactly one of --file or --dir is required\n")
		flag.Usage()
		os.Exit(2)
	}
	if *watch && *dir == "" {
		printError("Error: --watch needs --dir\n")
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	// logs go to stderr so stdout stays clean JSON
	logger := common.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := pipeline.NewFromConfig(cfg, logger)
	defer func() { _ = orch.Close() }()

	var runs repository.RunRepository
	dsn := *store
	if dsn == "" {
		dsn = cfg.Database.DSN
	}
	if dsn != "" {
		db, err := repository.Open(ctx, repository.Config{DSN: dsn, DialTimeout: cfg.Database.DialTimeout}, logger)
		if err != nil {
			logger.Error("failed to open run store", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		runs = repository.NewRunRepository(db, logger)
		if err := runs.Migrate(ctx); err != nil {
			logger.Error("failed to migrate run store", "error", err)
			os.Exit(1)
		}
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Error("failed to create output", "path", *out, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	n := *workers
	if n <= 0 {
		n = cfg.Server.Workers
	}

	var results []*pipeline.Result
	switch {
	case *file != "":
		res, err := extractFile(ctx, orch, runs, *file, cfg.Server.MaxUploadBytes)
		if err != nil {
			logger.Error("extraction failed", "path", *file, "error", err)
			os.Exit(1)
		}
		results = []*pipeline.Result{res}
		writeJSON(w, res, logger)
	case *watch:
		watchDir(ctx, orch, runs, *dir, n, cfg, *skipHidden, w, logger)
		return
	default:
		report := extractDir(ctx, orch, runs, *dir, n, cfg, *skipHidden, logger)
		results = report.Results
		writeJSON(w, report, logger)
	}

	if *xlsx != "" {
		if err := export.NewService(logger).WriteFile(*xlsx, results); err != nil {
			logger.Error("failed to write xlsx", "path", *xlsx, "error", err)
			os.Exit(1)
		}
	}
}

func extractFile(ctx context.Context, orch *pipeline.Orchestrator, runs repository.RunRepository, path string, maxBytes int) (*pipeline.Result, error) {
	doc, err := ingest.LoadDocument(path, maxBytes)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		return orch.Extract(ctx, doc)
	}

	job := async.Job{ID: uuid.New().String(), Path: path, Doc: doc}
	if _, err := runs.Start(ctx, job.ID, doc); err != nil {
		return nil, err
	}
	res, err := orch.Extract(common.WithRunID(ctx, job.ID), doc)
	server.RecordOutcome(runs, slog.Default())(context.WithoutCancel(ctx), async.Outcome{Job: job, Result: res, Err: err, Started: true})
	return res, err
}

// newQueue builds the batch queue. With a store every loaded document gets
// a run row before extraction and its outcome recorded after.
func newQueue(orch *pipeline.Orchestrator, runs repository.RunRepository, workers int, cfg *common.Config, handle async.Handler, logger *slog.Logger) *async.Queue {
	opts := []async.Option{
		async.WithWorkers(workers),
		async.WithQueueSize(cfg.Server.QueueSize),
		async.WithMaxBytes(cfg.Server.MaxUploadBytes),
	}
	if cfg.Pipeline.Timeout > 0 {
		// the orchestrator applies its own deadline; leave headroom for cleanup
		opts = append(opts, async.WithProcessTimeout(cfg.Pipeline.Timeout+30*time.Second))
	}
	if runs != nil {
		record := server.RecordOutcome(runs, logger)
		opts = append(opts, async.WithStartHook(func(ctx context.Context, job async.Job, doc entity.Document) error {
			_, err := runs.Start(ctx, job.ID, doc)
			return err
		}))
		next := handle
		handle = func(ctx context.Context, out async.Outcome) {
			if out.Started {
				record(ctx, out)
			}
			next(ctx, out)
		}
	}
	opts = append(opts, async.WithHandler(handle))
	return async.NewQueue(orch, logger, opts...)
}

func extractDir(ctx context.Context, orch *pipeline.Orchestrator, runs repository.RunRepository, root string, workers int, cfg *common.Config, skipHidden bool, logger *slog.Logger) batchReport {
	paths, stats, err := ingest.ScanDirectory(root, skipHidden)
	if err != nil {
		logger.Error("failed to scan directory", "root", root, "error", err)
		os.Exit(1)
	}
	logger.Info("batch.start", "root", root, "documents", len(paths), "skipped", stats.Skipped)

	var mu sync.Mutex
	report := batchReport{Results: []*pipeline.Result{}, Stats: stats}
	q := newQueue(orch, runs, workers, cfg, func(_ context.Context, out async.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if out.Err != nil {
			report.Errors = append(report.Errors, fileError{Path: out.Job.Path, Error: out.Err.Error()})
			return
		}
		report.Results = append(report.Results, out.Result)
	}, logger)

	for _, p := range paths {
		if _, err := q.Enqueue(ctx, async.Job{Path: p}); err != nil {
			logger.Warn("batch.enqueue_failed", "path", p, "error", err)
			break
		}
	}
	if err := q.Shutdown(context.Background()); err != nil {
		logger.Warn("batch.shutdown", "error", err)
	}

	logger.Info("batch.done", "results", len(report.Results), "errors", len(report.Errors))
	return report
}

func watchDir(ctx context.Context, orch *pipeline.Orchestrator, runs repository.RunRepository, root string, workers int, cfg *common.Config, skipHidden bool, w io.Writer, logger *slog.Logger) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	q := newQueue(orch, runs, workers, cfg, func(_ context.Context, out async.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		var v any = out.Result
		if out.Err != nil {
			v = fileError{Path: out.Job.Path, Error: out.Err.Error()}
		}
		if err := enc.Encode(v); err != nil {
			logger.Error("watch.write_failed", "error", err)
		}
	}, logger)

	watcher, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		SkipHidden:  skipHidden,
	}, logger)
	if err != nil {
		logger.Error("failed to start watcher", "root", root, "error", err)
		os.Exit(1)
	}

	for p := range watcher.Paths() {
		if _, err := q.Enqueue(ctx, async.Job{Path: p}); err != nil {
			logger.Warn("watch.enqueue_failed", "path", p, "error", err)
		}
	}
	<-watcher.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.Timeout+time.Minute)
	defer cancel()
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Warn("watch.shutdown", "error", err)
	}
}

func writeJSON(w io.Writer, v any, logger *slog.Logger) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.Error("failed to write output", "error", err)
		os.Exit(1)
	}
}
