package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"logguard/analyze"
	"logguard/storage"
)

// maxErrorMessageLength caps error bodies sent to clients.
const maxErrorMessageLength = 500

var (
	connStringRe = regexp.MustCompile(`(?:mongodb|mysql|postgres|postgresql|sqlite|redis|clickhouse)://[^\s"']+`)
	filePathRe   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/ ])*[^\\/:*?"<>|\s]+`)
	secretRe     = regexp.MustCompile(`(?i)(password|secret|token|key|credential|auth)[:=]\s*["']?[^"'\s]+["']?`)
)

// sanitizeErrorMessage strips connection strings, file paths, and secrets from
// error text before it reaches a client.
func sanitizeErrorMessage(message string) string {
	message = connStringRe.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = filePathRe.ReplaceAllString(message, "[FILE_PATH]")
	message = secretRe.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// writeError logs the full error internally and sends a sanitized message to
// the client as a JSON error body.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	respondJSON(w, statusCode, map[string]string{"error": sanitizeErrorMessage(message)})
}

// decodeJSONBody decodes a JSON request body with a size limit and strict
// field checking.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxError):
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), err, a.logger)
		case errors.As(err, &typeError):
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid type for field '%s'", typeError.Field), err, a.logger)
		case strings.Contains(err.Error(), "unknown field"):
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("JSON contains %s", err.Error()), err, a.logger)
		case err.Error() == "http: request body too large":
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		}
		return err
	}
	return nil
}

// handleDomainError maps storage and dispatch errors onto HTTP statuses. The
// processing limit keeps its exact message so the dashboard can match on it.
func (a *API) handleDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, analyze.ErrDispatchInFlight):
		writeError(w, http.StatusConflict, "Analysis already running for this file", err, a.logger)
	case errors.Is(err, analyze.ErrProcessingLimit):
		writeError(w, http.StatusTooManyRequests, "Processing limit reached", err, a.logger)
	case errors.Is(err, analyze.ErrProviderNotConfigured):
		writeError(w, http.StatusBadRequest, "AI provider is not configured", err, a.logger)
	case errors.Is(err, analyze.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "AI provider is temporarily unavailable", err, a.logger)
	case errors.Is(err, storage.ErrAnomalyNotFound),
		errors.Is(err, storage.ErrLogFileNotFound),
		errors.Is(err, storage.ErrAPIKeyNotFound),
		errors.Is(err, storage.ErrWebhookNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resource not found", err, a.logger)
	case errors.Is(err, storage.ErrTooManyIDs):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Too many IDs in one request, maximum is %d", storage.MaxBulkIDs), err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, fallback, err, a.logger)
	}
}
