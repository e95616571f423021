// Package httputil provides common HTTP utilities for the SOVD gateway's
// handlers and its outbound proxy client.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/r3e-network/sovd-gateway/infrastructure/logging"
)

// ErrorResponse is the generic SOVD error envelope (spec §6, shape 1):
// { "error": "<category>", "message": "<text>" }.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteErrorResponse writes the generic SOVD error envelope.
func WriteErrorResponse(w http.ResponseWriter, status int, category, message string) {
	WriteJSON(w, status, ErrorResponse{Error: category, Message: message})
}

// DecodeJSON decodes a JSON request body into the provided struct.
// Returns false and writes a 400 response if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, http.StatusRequestEntityTooLarge, "invalid-request", "request body too large")
			return false
		}
		WriteErrorResponse(w, http.StatusBadRequest, "invalid-request", "invalid request body")
		return false
	}
	return true
}

// DecodeJSONOptional decodes a JSON request body when present, returning true
// when the body is empty (no-op) and no decoding is needed.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		WriteErrorResponse(w, http.StatusBadRequest, "invalid-request", "invalid request body")
		return false
	}
	return true
}

// QueryInt extracts an integer query parameter with a default value.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return defaultVal
}

// QueryFloat extracts a float64 query parameter with a default value.
func QueryFloat(r *http.Request, key string, defaultVal float64) float64 {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	return defaultVal
}

// QueryString extracts a string query parameter with a default value.
func QueryString(r *http.Request, key, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// QueryBool extracts a boolean query parameter with a default value.
func QueryBool(r *http.Request, key string, defaultVal bool) bool {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1" || val == "yes"
}

// QueryCSV splits a comma-separated query parameter into trimmed segments.
func QueryCSV(r *http.Request, key string) []string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WrapError wraps an error with context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
