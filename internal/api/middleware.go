package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// runIDHeader carries the replay run id on run-flow responses.
const runIDHeader = "X-Flowrec-Run-Id"

// requestLogger writes one line per request. Routes with a {name} parameter
// log the flow, and replay or snapshot routes log the run id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		runID := ww.Header().Get(runIDHeader)
		// Route params are filled in by the router after this middleware starts.
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, "route", pattern)
			}
			if name := rctx.URLParam("name"); name != "" {
				attrs = append(attrs, "flow", name)
			}
			if runID == "" {
				runID = rctx.URLParam("snapshot_id")
			}
		}
		if runID != "" {
			attrs = append(attrs, "run_id", runID)
		}

		level := slog.LevelInfo
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case ww.Status() >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http request", attrs...)
	})
}
