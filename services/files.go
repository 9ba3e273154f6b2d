package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileService reads and writes files under a base directory. Paths are
// confined to the base; traversal outside it is rejected.
type FileService struct {
	base   string
	logger Logger
}

// NewFileService creates a file service rooted at base
func NewFileService(base string, logger Logger) (*FileService, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("files: resolve base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("files: create base dir: %w", err)
	}
	return &FileService{base: abs, logger: logger}, nil
}

// resolve confines a relative path to the base directory
func (f *FileService) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("files: empty path")
	}
	full := filepath.Join(f.base, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, f.base+string(os.PathSeparator)) && full != f.base {
		return "", fmt.Errorf("files: path %q escapes base directory", path)
	}
	return full, nil
}

// Read returns the file contents
func (f *FileService) Read(_ context.Context, path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("files: read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces the file contents, creating parent directories as needed
func (f *FileService) Write(_ context.Context, path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("files: create parent dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("files: write %s: %w", path, err)
	}
	f.logger.Debug("file written", "path", path, "bytes", len(data))
	return nil
}

// Append appends to the file, creating it when absent
func (f *FileService) Append(_ context.Context, path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("files: create parent dirs for %s: %w", path, err)
	}
	fh, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("files: open %s: %w", path, err)
	}
	defer fh.Close()
	if _, err := fh.Write(data); err != nil {
		return fmt.Errorf("files: append %s: %w", path, err)
	}
	return nil
}
