package http

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fjod/go_ucp/internal/cache"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Reusing a key with a different body is rejected with 409.
// Requests without the header, or while the store is down, pass through.
func IdempotencyMiddleware(store cache.IdempotencyStore, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_request", "unable to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			scope := r.Method + " " + r.URL.Path
			hash := cache.HashRequest(body)

			entry, err := store.Get(ctx, scope, key)
			switch {
			case err == nil:
				if entry.RequestHash != hash {
					respondError(w, http.StatusConflict, "idempotency_conflict",
						"Idempotency-Key was already used with a different request body")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(replayedHeader, "true")
				w.WriteHeader(entry.Status)
				_, _ = w.Write(entry.Body)
				return
			case !errors.Is(err, cache.ErrCacheMiss):
				log.WarnContext(ctx, "idempotency store unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var captured bytes.Buffer
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			// server errors are not remembered so the client can retry
			if ww.Status() >= http.StatusInternalServerError {
				return
			}
			if _, err := store.Put(ctx, scope, key, &cache.Entry{
				RequestHash: hash,
				Status:      ww.Status(),
				Body:        captured.Bytes(),
			}); err != nil {
				log.WarnContext(ctx, "failed to store idempotent response", "key", key, "error", err)
			}
		})
	}
}
