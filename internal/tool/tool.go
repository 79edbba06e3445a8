// Package tool provides the file primitives behind the bridge's tool server:
// line-window reads, whole-file writes, exact and fuzzy edits and unified diff
// rendering of the change.
package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNoChange is returned when an edit's old and new strings are equal.
	ErrNoChange = errors.New("old_string and new_string must be different")

	// ErrNotFound is returned when an edit's old string is not in the file.
	ErrNotFound = errors.New("old_string not found in file")
)

// AmbiguousError reports an edit whose old string matches more than once
// without replace_all.
type AmbiguousError struct {
	Count int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("old_string appears %d times in file. Use replace_all or provide more context", e.Count)
}

// FS is the file access the tool server performs. The editor client's
// read/write methods satisfy it when the client advertises them, so unsaved
// buffers are seen; LocalFS is used otherwise.
type FS interface {
	ReadTextFile(ctx context.Context, path string) (string, error)
	WriteTextFile(ctx context.Context, path, content string) error
}

// LocalFS reads and writes the local disk.
type LocalFS struct{}

func (LocalFS) ReadTextFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (LocalFS) WriteTextFile(_ context.Context, path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
