package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreaming wraps a compression middleware handler to skip
// compression for websocket upgrades and HLS media delivery. Transport
// streams are already compressed, and gzip buffering interferes with segment
// delivery and the websocket handshake.
func SkipCompressionForStreaming(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}

			if strings.HasPrefix(r.URL.Path, "/stream/") {
				next.ServeHTTP(w, r)
				return
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
