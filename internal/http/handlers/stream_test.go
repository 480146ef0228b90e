package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/watchroom/internal/storage"
)

func newStreamRouter(t *testing.T) (*chi.Mux, *storage.SessionStore) {
	t.Helper()

	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewSessionStore(sandbox, logger)

	router := chi.NewRouter()
	NewStreamHandler(store, logger).Register(router)
	return router, store
}

func writeSessionFile(t *testing.T, store *storage.SessionStore, sessionID, name, content string) {
	t.Helper()

	dirs, err := store.Dirs(sessionID)
	require.NoError(t, err)

	path := filepath.Join(dirs.Output, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func serveStream(router *chi.Mux, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStreamHandler_ServesPlaylist(t *testing.T) {
	router, store := newStreamRouter(t)
	writeSessionFile(t, store, "abc", "master.m3u8", "#EXTM3U\n")

	rec := serveStream(router, "/stream/abc/master.m3u8", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "#EXTM3U\n", rec.Body.String())
}

func TestStreamHandler_ServesSegmentWithRange(t *testing.T) {
	router, store := newStreamRouter(t)
	writeSessionFile(t, store, "abc", "0/segment00000.ts", "0123456789")

	rec := serveStream(router, "/stream/abc/0/segment00000.ts", http.Header{
		"Range": []string{"bytes=2-5"},
	})

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "2345", rec.Body.String())
}

func TestStreamHandler_RejectsTraversal(t *testing.T) {
	router, store := newStreamRouter(t)
	writeSessionFile(t, store, "other", "master.m3u8", "#EXTM3U\n")

	// Escaping into another session's output must 404 even though the target
	// file exists inside the sandbox.
	rec := serveStream(router, "/stream/abc/../../wr-session-other/hls/master.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamHandler_MissingFile(t *testing.T) {
	router, _ := newStreamRouter(t)

	rec := serveStream(router, "/stream/abc/master.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamHandler_UnknownExtensionNotServed(t *testing.T) {
	router, store := newStreamRouter(t)
	writeSessionFile(t, store, "abc", "notes.txt", "hello")

	rec := serveStream(router, "/stream/abc/notes.txt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
