package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kikiluvv/velocityclip/internal/engine"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/pipeline"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/rs/zerolog"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.status).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("request_id", requestID).
				Msg("http request")
		})
	}
}

func RecoveryMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID, _ := r.Context().Value(RequestIDKey).(string)
					logger.Error().
						Interface("error", err).
						Str("request_id", requestID).
						Msg("panic recovered")
					WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			if id, err := uuid.NewV7(); err == nil {
				requestID = id.String()
			}
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func WriteError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSessionError maps session and export errors onto status codes
func writeSessionError(w http.ResponseWriter, err error) {
	var (
		invalid  *sources.InvalidMediaError
		dangling *sources.DanglingSourceReferenceError
		loadErr  *engine.LoadError
		cmdErr   *engine.CommandError
	)

	switch {
	case errors.Is(err, pipeline.ErrBusy):
		WriteError(w, http.StatusConflict, err.Error(), "BUSY")
	case errors.Is(err, pipeline.ErrStage):
		WriteError(w, http.StatusConflict, err.Error(), "STAGE")
	case errors.Is(err, export.ErrEmptyTimeline):
		WriteError(w, http.StatusBadRequest, err.Error(), "EMPTY_TIMELINE")
	case errors.As(err, &invalid):
		WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "INVALID_MEDIA")
	case errors.As(err, &dangling):
		WriteError(w, http.StatusConflict, err.Error(), "DANGLING_SOURCE")
	case errors.As(err, &loadErr):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "ENGINE_LOAD")
	case errors.As(err, &cmdErr):
		WriteError(w, http.StatusBadGateway, err.Error(), "ENGINE_COMMAND")
	default:
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	}
}
