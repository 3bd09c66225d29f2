package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

type ErrorResponse struct {
	Error   string                  `json:"error"`
	Code    string                  `json:"code,omitempty"`
	Details string                  `json:"details,omitempty"`
	Fields  domain.ValidationErrors `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts a service error into an HTTP response.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var verrs domain.ValidationErrors
	var verr *domain.ValidationError

	switch {
	case errors.As(err, &verrs):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: "validation_error", Fields: verrs})
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: "validation_error", Fields: domain.ValidationErrors{verr}})
	case errors.Is(err, domain.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "permission_denied", err.Error())
	case isNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: "insufficient stock", Code: "insufficient_stock", Details: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: "invalid status transition", Code: "invalid_transition", Details: err.Error()})
	case errors.Is(err, store.ErrTransientConflict):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "transient_conflict", "temporary lock conflict, retry the request")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", getRequestID(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrOrderNotFound) ||
		errors.Is(err, store.ErrLineNotFound) ||
		errors.Is(err, store.ErrProductNotFound) ||
		errors.Is(err, store.ErrCustomerNotFound)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// urlID reads a positive integer path parameter. It writes a 400 response
// and returns false when the parameter is malformed.
func urlID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter, returning def when it
// is absent.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int64) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return v, true
}
