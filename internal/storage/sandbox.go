// Package storage provides sandboxed file access for watchroom's transcode
// output. All paths handed in by HTTP clients are resolved against a base
// directory and rejected when they would escape it.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox restricts file operations to a base directory, guarding against
// path traversal in client-supplied segment and playlist paths.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at baseDir, creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path of the sandbox root.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox. Absolute paths and
// paths that would escape the base directory are rejected.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", relativePath)
	}

	cleanPath := filepath.Clean(relativePath)
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("path escapes sandbox: %s", relativePath)
	}

	return absPath, nil
}

// Open opens a file within the sandbox for reading.
func (s *Sandbox) Open(relativePath string) (*os.File, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Stat returns file info for a path within the sandbox.
func (s *Sandbox) Stat(relativePath string) (os.FileInfo, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// MkdirAll creates a directory and all parents within the sandbox.
func (s *Sandbox) MkdirAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// RemoveAll removes a path and its contents within the sandbox. The base
// directory itself cannot be removed.
func (s *Sandbox) RemoveAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// List returns the entries of a directory within the sandbox.
func (s *Sandbox) List(relativePath string) ([]os.DirEntry, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return entries, nil
}
