package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/studyforge/studyforge/internal/shared/apperr"
)

type contextKey string

const userIDKey contextKey = "user_id"

// IdentityMiddleware extracts the authenticated user identity. Real
// authentication happens at the platform boundary; by the time a request
// reaches the engine the X-User-ID header is trusted.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORSMiddleware handles CORS
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// userID returns the authenticated identity set by IdentityMiddleware
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// statusFor maps the engine's error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrAdmissionDenied):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrUpstreamFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
