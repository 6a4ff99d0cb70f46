package app

import (
	"bytes"
	"net/http"
	"time"

	"kanban/api/internal/idempotency"
	"kanban/api/internal/metrics"
)

const maxIdempotencyKeyLen = 200

// replayedHeaders are the response headers stored alongside a cached body.
var replayedHeaders = []string{"Content-Type", "ETag"}

// idempotent replays the first response recorded for a caller's
// Idempotency-Key on the same method and path. Requests without the header
// pass through untouched. Only replayable outcomes are recorded, so a retry
// after a conflict or server error runs the request again.
func (s *HTTPServer) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientKey := r.Header.Get("Idempotency-Key")
		if clientKey == "" || s.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(clientKey) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key too long", nil)
			return
		}

		ctx := r.Context()
		scoped := idempotency.Scope(callerFrom(ctx).UserID, r.Method, r.URL.Path, clientKey)
		cached, ok, err := s.idempotency.Get(ctx, scoped)
		if err != nil {
			s.logger.WarnContext(ctx, "idempotency lookup failed",
				"request_id", requestIDFrom(ctx), "error", err)
		}
		if ok {
			metrics.IdempotencyReplay()
			for name, values := range cached.Header {
				for _, v := range values {
					w.Header().Add(name, v)
				}
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}

		capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if !replayable(capture.status) {
			return
		}

		header := http.Header{}
		for _, name := range replayedHeaders {
			if v := capture.Header().Get(name); v != "" {
				header.Set(name, v)
			}
		}
		resp := idempotency.Response{
			Status:   capture.status,
			Header:   header,
			Body:     capture.body.Bytes(),
			StoredAt: time.Now().UTC(),
		}
		if err := s.idempotency.Put(ctx, scoped, resp, s.idempotencyTTL); err != nil {
			s.logger.WarnContext(ctx, "idempotency store failed",
				"request_id", requestIDFrom(ctx), "status", capture.status, "error", err)
		}
	})
}

// replayable reports whether a response with status is recorded. 409 is
// left out because exhausted collision retries answer with it and the
// client is expected to retry.
func replayable(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	switch status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound,
		http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
