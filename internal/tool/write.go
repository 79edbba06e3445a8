package tool

import (
	"context"
	"fmt"
)

// Change is the outcome of a file mutation.
type Change struct {
	Path   string
	Before string
	After  string
}

// Diff renders the change as a unified diff.
func (c Change) Diff() string {
	return UnifiedDiff(c.Path, c.Before, c.After)
}

// WriteFile replaces path with content. A file that cannot be read first is
// treated as new.
func WriteFile(ctx context.Context, fs FS, path, content string) (Change, error) {
	before, err := fs.ReadTextFile(ctx, path)
	if err != nil {
		before = ""
	}
	if err := fs.WriteTextFile(ctx, path, content); err != nil {
		return Change{}, err
	}
	return Change{Path: path, Before: before, After: content}, nil
}

// EditFile applies edits to path and writes the result back.
func EditFile(ctx context.Context, fs FS, path string, edits []Edit) (Change, error) {
	before, err := fs.ReadTextFile(ctx, path)
	if err != nil {
		return Change{}, fmt.Errorf("failed to read file: %w", err)
	}
	after, err := ApplyEdits(before, edits)
	if err != nil {
		return Change{}, err
	}
	if err := fs.WriteTextFile(ctx, path, after); err != nil {
		return Change{}, err
	}
	return Change{Path: path, Before: before, After: after}, nil
}
