// Package ingest loads documents from the local filesystem: single files,
// directory scans and a watch mode for drop folders.
package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
	Failed  uint32
}

// AllowedExt checks if a file extension is one the pipeline accepts.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && strings.HasPrefix(base, ".")
}

// LoadDocument reads path into a Document. maxBytes <= 0 disables the size check.
func LoadDocument(path string, maxBytes int) (entity.Document, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !AllowedExt(ext) {
		return entity.Document{}, common.NewAppError("UNSUPPORTED_EXTENSION",
			fmt.Sprintf("unsupported or missing extension %q", ext), common.ErrInvalidInput)
	}

	info, err := os.Stat(path)
	if err != nil {
		return entity.Document{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return entity.Document{}, common.NewAppError("NOT_A_FILE", path+" is a directory", common.ErrInvalidInput)
	}
	if maxBytes > 0 && info.Size() > int64(maxBytes) {
		return entity.Document{}, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("%s is %d bytes, limit %d", filepath.Base(path), info.Size(), maxBytes), common.ErrFileTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return entity.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return entity.Document{
		Content:  data,
		Filename: filepath.Base(path),
		MIMEType: constants.MIMEFor(path),
	}, nil
}

// ScanDirectory walks root and returns every file with an accepted
// extension, in lexical order. Unreadable entries are counted and skipped.
func ScanDirectory(root string, skipHidden bool) ([]string, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var paths []string
	var stats DirStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		stats.Scanned++
		if !AllowedExt(filepath.Ext(path)) {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return paths, stats, fmt.Errorf("walk: %w", err)
	}
	return paths, stats, nil
}
