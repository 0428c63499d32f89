package ocr

import (
	"context"
	"image/color"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
)

type runFunc func(name string, args []string) ([]byte, []byte, error)

type stubRunner struct {
	mu    sync.Mutex
	calls []string
	fn    runFunc
}

func (r *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	r.mu.Unlock()
	if r.fn == nil {
		return nil, nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
	}
	return r.fn(name, args)
}

type recognizeFunc func(path string, langs []string) (Recognition, error)

type stubEngine struct {
	mu    sync.Mutex
	calls int
	paths []string
	fn    recognizeFunc
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Recognize(_ context.Context, path string, langs []string) (Recognition, error) {
	e.mu.Lock()
	e.calls++
	e.paths = append(e.paths, path)
	e.mu.Unlock()
	return e.fn(path, langs)
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	if err := imaging.Save(imaging.New(w, h, color.White), path); err != nil {
		t.Fatalf("save png: %v", err)
	}
}
