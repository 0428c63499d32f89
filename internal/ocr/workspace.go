package ocr

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Workspace is a scoped temp directory for one pipeline invocation. Every
// intermediate document copy and rendered image lives under it, and Close
// removes the whole tree.
type Workspace struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	seq    int
	files  map[string]string
	closed bool
}

// NewWorkspace creates a fresh directory under base ("" means os.TempDir).
func NewWorkspace(base string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("workspace base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "invx-*")
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	return &Workspace{dir: dir, logger: logger}, nil
}

func (w *Workspace) Dir() string { return w.dir }

// Sub creates a uniquely named subdirectory. Safe for concurrent use.
func (w *Workspace) Sub(prefix string) (string, error) {
	w.mu.Lock()
	w.seq++
	name := fmt.Sprintf("%s-%03d", prefix, w.seq)
	w.mu.Unlock()

	p := filepath.Join(w.dir, name)
	if err := os.Mkdir(p, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

// WriteFile stores data under the workspace root and returns its path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	p := filepath.Join(w.dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", err
	}
	return p, nil
}

// Materialize writes data once per name and returns the cached path on
// later calls. Used for the intermediate copy of the source document.
func (w *Workspace) Materialize(name string, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.files[name]; ok {
		return p, nil
	}
	p := filepath.Join(w.dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", err
	}
	if w.files == nil {
		w.files = make(map[string]string)
	}
	w.files[name] = p
	return p, nil
}

// Close removes the workspace. Calling it more than once is a no-op.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("workspace.cleanup.failed", "dir", w.dir, "error", err)
		return err
	}
	w.logger.Debug("workspace.cleanup.ok", "dir", w.dir)
	return nil
}
