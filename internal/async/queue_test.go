package async

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
)

type recordingExtractor struct {
	mu    sync.Mutex
	docs  []string
	runs  []string
	block chan struct{}
}

func (r *recordingExtractor) Extract(ctx context.Context, doc entity.Document) (*pipeline.Result, error) {
	if r.block != nil {
		<-r.block
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("no deadline on context")
	}
	r.mu.Lock()
	r.docs = append(r.docs, doc.Filename)
	r.runs = append(r.runs, common.RunIDFromContext(ctx))
	r.mu.Unlock()
	return &pipeline.Result{RunID: common.RunIDFromContext(ctx), Document: doc.Filename, Status: constants.RunStatusExtracted}, nil
}

func collect(outcomes *[]Outcome, mu *sync.Mutex) Handler {
	return func(_ context.Context, out Outcome) {
		mu.Lock()
		*outcomes = append(*outcomes, out)
		mu.Unlock()
	}
}

var discard = slog.New(slog.DiscardHandler)

func TestQueueProcessesAllJobs(t *testing.T) {
	ext := &recordingExtractor{}
	var mu sync.Mutex
	var outcomes []Outcome
	q := NewQueue(ext, discard, WithWorkers(3), WithQueueSize(2), WithHandler(collect(&outcomes, &mu)))

	ids := map[string]bool{}
	for i := 0; i < 10; i++ {
		id, err := q.Enqueue(context.Background(), Job{Doc: entity.Document{Content: []byte("x"), Filename: "a.txt"}})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids[id] = true
	}
	if len(ids) != 10 {
		t.Fatalf("got %d distinct ids, want 10", len(ids))
	}

	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(outcomes) != 10 {
		t.Fatalf("handled %d jobs, want 10", len(outcomes))
	}
	for _, out := range outcomes {
		if out.Err != nil {
			t.Errorf("job %s: %v", out.Job.ID, out.Err)
			continue
		}
		if out.Result.RunID != out.Job.ID {
			t.Errorf("run id %q, want job id %q", out.Result.RunID, out.Job.ID)
		}
	}
}

func TestQueueLoadsPathJobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inv.txt")
	if err := os.WriteFile(path, []byte("Total 10"), 0o644); err != nil {
		t.Fatal(err)
	}

	ext := &recordingExtractor{}
	var mu sync.Mutex
	var outcomes []Outcome
	q := NewQueue(ext, discard, WithWorkers(1), WithMaxBytes(4), WithHandler(collect(&outcomes, &mu)))

	if _, err := q.Enqueue(context.Background(), Job{ID: "run-1", Path: path}); err != nil {
		t.Fatal(err)
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	if !errors.Is(outcomes[0].Err, common.ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", outcomes[0].Err)
	}
	if len(ext.docs) != 0 {
		t.Errorf("extractor called for oversize file")
	}
}

func TestQueueEnqueueAfterShutdown(t *testing.T) {
	q := NewQueue(&recordingExtractor{}, discard, WithWorkers(1))
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(context.Background(), Job{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestQueueBackpressureHonorsContext(t *testing.T) {
	ext := &recordingExtractor{block: make(chan struct{})}
	q := NewQueue(ext, discard, WithWorkers(1), WithQueueSize(1))

	doc := entity.Document{Content: []byte("x"), Filename: "a.txt"}
	// one job held by the worker, one in the buffer
	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(context.Background(), Job{Doc: doc}); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Enqueue(ctx, Job{Doc: doc}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	close(ext.block)
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestQueueStartHook(t *testing.T) {
	ext := &recordingExtractor{}
	var mu sync.Mutex
	var outcomes []Outcome
	var started []string
	hook := func(_ context.Context, job Job, doc entity.Document) error {
		if doc.Filename == "reject.txt" {
			return errors.New("store unavailable")
		}
		started = append(started, job.ID)
		return nil
	}
	q := NewQueue(ext, discard, WithWorkers(1), WithStartHook(hook), WithHandler(collect(&outcomes, &mu)))

	for _, name := range []string{"ok.txt", "reject.txt"} {
		if _, err := q.Enqueue(context.Background(), Job{ID: name, Doc: entity.Document{Content: []byte("x"), Filename: name}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(started) != 1 || started[0] != "ok.txt" {
		t.Errorf("started = %v", started)
	}
	if len(ext.docs) != 1 {
		t.Errorf("extracted %d docs, want 1", len(ext.docs))
	}
	for _, out := range outcomes {
		rejected := out.Job.ID == "reject.txt"
		if rejected && (out.Err == nil || out.Started) {
			t.Errorf("rejected job: err %v started %v", out.Err, out.Started)
		}
		if !rejected && !out.Started {
			t.Error("accepted job not marked started")
		}
	}
}
