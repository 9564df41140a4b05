package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formbricks/webhook-engine/internal/engine"
)

// registerErrorStream registers a server-sent-events feed of engine errors.
// It sits outside Huma, alongside /health, since it's a long-lived stream
// rather than a request/response operation.
func registerErrorStream(router chi.Router, eng *engine.Server, logger *slog.Logger) {
	router.Get("/v1/errors", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := eng.Errors()
		defer sub.Close()

		for {
			select {
			case <-r.Context().Done():
				return
			case err, ok := <-sub.Errors():
				if !ok {
					return
				}
				if _, writeErr := fmt.Fprintf(w, "data: %s\n\n", escapeSSE(err.Error())); writeErr != nil {
					logger.Debug("error stream client disconnected", "error", writeErr)
					return
				}
				flusher.Flush()
			}
		}
	})
}

// escapeSSE collapses newlines so a multi-line error message stays inside a
// single SSE "data:" field.
func escapeSSE(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' {
			out = append(out, ' ')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
