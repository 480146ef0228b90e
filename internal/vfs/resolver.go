// Package vfs maps logical media paths, as stored in the library and sent by
// clients, onto real filesystem paths the transcoder can read.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a logical path has no backing file.
var ErrNotFound = errors.New("media file not found")

// Resolver resolves logical media paths to absolute filesystem paths.
type Resolver interface {
	Resolve(ctx context.Context, logicalPath string) (string, error)
}

// Local resolves logical paths against a media library root directory,
// rejecting anything that would read outside it.
type Local struct {
	root string
}

// NewLocal creates a Local resolver rooted at the given library directory.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("checking media root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media root is not a directory: %s", abs)
	}
	return &Local{root: abs}, nil
}

// Root returns the library root directory.
func (l *Local) Root() string {
	return l.root
}

// Resolve maps a logical path onto the library and verifies the file exists.
func (l *Local) Resolve(_ context.Context, logicalPath string) (string, error) {
	if filepath.IsAbs(logicalPath) {
		return "", fmt.Errorf("resolving %q: absolute paths not allowed", logicalPath)
	}

	abs, err := filepath.Abs(filepath.Join(l.root, filepath.Clean(logicalPath)))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", logicalPath, err)
	}
	if !strings.HasPrefix(abs, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("resolving %q: path escapes media root", logicalPath)
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("resolving %q: %w", logicalPath, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", logicalPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("resolving %q: %w", logicalPath, ErrNotFound)
	}

	return abs, nil
}
