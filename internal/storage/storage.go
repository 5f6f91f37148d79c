package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrExportFailed = errors.New("export failed")

// Sink accepts finished export content and stores it under a suggested file
// name. It returns where the content ended up.
type Sink interface {
	Save(ctx context.Context, content, filename, mimeType string) (string, error)
}

// FileSink writes exports into a directory. Files are written to a temp file
// first and renamed into place, so readers never see a partial export.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Dir() string {
	return s.dir
}

func (s *FileSink) Save(ctx context.Context, content, filename, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrExportFailed, filename)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	return path, nil
}
