package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kanban/api/internal/auth"
	"kanban/api/internal/config"
	"kanban/api/internal/idempotency"
	"kanban/api/internal/metrics"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service        *Service
	keys           auth.Keys
	corsOrigin     string
	idempotency    idempotency.Store
	idempotencyTTL time.Duration
	logger         *slog.Logger
}

func NewHTTPServer(service *Service, cfg config.Config, cache idempotency.Store) *HTTPServer {
	return &HTTPServer{
		service: service,
		keys: auth.Keys{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		corsOrigin:     cfg.CORSOrigin,
		idempotency:    cache,
		idempotencyTTL: cfg.IdempotencyTTL,
		logger:         service.logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key", "If-Match"},
		ExposedHeaders: []string{"ETag", "X-Request-ID", "Idempotent-Replayed"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCaller)

			r.Get("/boards", s.handleListBoards)
			r.With(s.idempotent).Post("/boards", s.handleCreateBoard)

			r.Route("/boards/{boardID}", func(r chi.Router) {
				r.Get("/", s.handleGetBoard)
				r.Patch("/", s.handleUpdateBoard)
				r.Delete("/", s.handleDeleteBoard)

				r.With(s.idempotent).Post("/columns", s.handleCreateColumn)
				r.With(s.idempotent).Post("/columns/{columnID}/move", s.handleMoveColumn)
				r.Patch("/columns/{columnID}", s.handleRenameColumn)
				r.Delete("/columns/{columnID}", s.handleDeleteColumn)

				r.With(s.idempotent).Post("/columns/{columnID}/cards", s.handleCreateCard)
				r.With(s.idempotent).Post("/cards/{cardID}/move", s.handleMoveCard)
				r.Patch("/cards/{cardID}", s.handleUpdateCard)
				r.Delete("/cards/{cardID}", s.handleDeleteCard)

				r.Get("/members", s.handleListMembers)
				r.With(s.idempotent).Post("/members", s.handleInviteMember)
			})
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database":    map[string]any{"status": "ok"},
		"idempotency": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.idempotency != nil {
		if err := s.idempotency.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["idempotency"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"version": Version})
}

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ListBoards(r.Context(), callerFrom(r.Context()))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var body CreateBoardInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.CreateBoard(r.Context(), callerFrom(r.Context()), body)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetBoard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	var body UpdateBoardInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.UpdateBoard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteBoard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"))
	s.respondNoContent(w, r, err)
}

func (s *HTTPServer) handleCreateColumn(w http.ResponseWriter, r *http.Request) {
	var body CreateColumnInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.CreateColumn(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleMoveColumn(w http.ResponseWriter, r *http.Request) {
	var body MoveColumnInput
	if !s.decode(w, r, &body) || !applyIfMatch(w, r, &body.ExpectedVersion) {
		return
	}
	result, err := s.service.MoveColumn(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "columnID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleRenameColumn(w http.ResponseWriter, r *http.Request) {
	var body RenameColumnInput
	if !s.decode(w, r, &body) || !applyIfMatch(w, r, &body.ExpectedVersion) {
		return
	}
	result, err := s.service.RenameColumn(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "columnID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteColumn(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "columnID"))
	s.respondNoContent(w, r, err)
}

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var body CreateCardInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.CreateCard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "columnID"), body)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	var body MoveCardInput
	if !s.decode(w, r, &body) || !applyIfMatch(w, r, &body.ExpectedVersion) {
		return
	}
	result, err := s.service.MoveCard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "cardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var body UpdateCardInput
	if !s.decode(w, r, &body) || !applyIfMatch(w, r, &body.ExpectedVersion) {
		return
	}
	result, err := s.service.UpdateCard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "cardID"), body)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteCard(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), chi.URLParam(r, "cardID"))
	s.respondNoContent(w, r, err)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ListMembers(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"))
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	var body InviteMemberInput
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.InviteMember(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "boardID"), body)
	s.respond(w, r, http.StatusCreated, result, err)
}

type callerKey struct{}

func callerFrom(ctx context.Context) Caller {
	caller, _ := ctx.Value(callerKey{}).(Caller)
	return caller
}

func (s *HTTPServer) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required", nil)
			return
		}
		claims, err := auth.ParseToken(s.keys, token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "Token expired"
			}
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, Caller{UserID: claims.Subject, Name: claims.Name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequest(r.Method, route, writer.status, elapsed)
		s.logger.InfoContext(ctx, "http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload map[string]any, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if version, ok := payload["version"].(int64); ok {
		w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) respondNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", requestIDFrom(r.Context()), "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// applyIfMatch copies an If-Match version into expected when the body did
// not carry one.
func applyIfMatch(w http.ResponseWriter, r *http.Request, expected **int64) bool {
	header := strings.TrimSpace(r.Header.Get("If-Match"))
	if header == "" || *expected != nil {
		return true
	}
	version, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(header, "W/"), `"`), 10, 64)
	if err != nil || version < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "If-Match must carry a version", nil)
		return false
	}
	*expected = &version
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
