package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// sessionDirPrefix marks directories owned by transcode sessions, so the
// orphan sweep never touches anything else under the base directory.
const sessionDirPrefix = "wr-session-"

// SessionDirs are the on-disk locations of one transcode session.
type SessionDirs struct {
	// Output holds the HLS playlists and segments and is served over HTTP.
	Output string
	// Work holds transcoder scratch files and is never served.
	Work string
}

// SessionStore lays out and reclaims per-session directories under a sandbox.
type SessionStore struct {
	sandbox *Sandbox
	logger  *slog.Logger
}

// NewSessionStore creates a SessionStore over the given sandbox.
func NewSessionStore(sandbox *Sandbox, logger *slog.Logger) *SessionStore {
	return &SessionStore{sandbox: sandbox, logger: logger}
}

// Sandbox returns the underlying sandbox, for serving session output.
func (st *SessionStore) Sandbox() *Sandbox {
	return st.sandbox
}

// Dirs returns the directory layout for a session ID. The directories are
// not created; the transcode session creates them when it starts.
func (st *SessionStore) Dirs(sessionID string) (SessionDirs, error) {
	root, err := st.sandbox.ResolvePath(sessionDirPrefix + sessionID)
	if err != nil {
		return SessionDirs{}, fmt.Errorf("resolving session dir: %w", err)
	}
	return SessionDirs{
		Output: filepath.Join(root, "hls"),
		Work:   filepath.Join(root, "work"),
	}, nil
}

// OutputPath resolves a client-supplied path relative to a session's HLS
// output, rejecting traversal outside it. Escaping into a different session's
// directory is rejected the same as escaping the sandbox.
func (st *SessionStore) OutputPath(sessionID, relativePath string) (string, error) {
	base := filepath.Join(sessionDirPrefix+sessionID, "hls")

	resolved, err := st.sandbox.ResolvePath(filepath.Join(base, relativePath))
	if err != nil {
		return "", err
	}

	root, err := st.sandbox.ResolvePath(base)
	if err != nil {
		return "", err
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes session output: %s", relativePath)
	}

	return resolved, nil
}

// SweepOrphans removes session directories older than maxAge whose session is
// no longer active. Run at startup to reclaim directories left behind by a
// crash, and periodically to catch sessions that leaked.
//
// Returns the number of directories removed.
func (st *SessionStore) SweepOrphans(maxAge time.Duration, active func(sessionID string) bool) int {
	entries, err := st.sandbox.List(".")
	if err != nil {
		st.logger.Error("reading session base directory for sweep", slog.String("error", err.Error()))
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) <= len(sessionDirPrefix) || name[:len(sessionDirPrefix)] != sessionDirPrefix {
			continue
		}
		sessionID := name[len(sessionDirPrefix):]
		if active != nil && active(sessionID) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			st.logger.Warn("reading session directory info",
				slog.String("dir", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := st.sandbox.RemoveAll(name); err != nil {
			st.logger.Warn("removing orphaned session directory",
				slog.String("dir", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		st.logger.Info("removed orphaned session directory",
			slog.String("dir", name),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
		)
		removed++
	}

	return removed
}
