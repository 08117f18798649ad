// Package handlers implements the HTTP surface of the upload coordinator.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/models"
)

// maxControlBody bounds JSON control request bodies. A completion request
// listing 10,000 parts stays well below it.
const maxControlBody = 2 << 20

var errBodyTooLarge = errors.New("request body too large")

// sendError writes a JSON error response
func sendError(w http.ResponseWriter, message, code string, status int) {
	sendErrorResponse(w, status, models.ErrorResponse{Error: message, Code: code})
}

func sendErrorResponse(w http.ResponseWriter, status int, resp models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// sendJSON writes v as a JSON response with the given status
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON strictly decodes a single JSON object from the request body.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// sendDecodeError reports a decodeJSON failure
func sendDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		sendError(w, "Request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
		return
	}
	sendError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
}

// requireMethod rejects requests whose method is not method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// buildObjectURL constructs the full download URL for an object key
// Respects PUBLIC_URL config and reverse proxy headers
func buildObjectURL(r *http.Request, cfg *config.Config, key string) string {
	path := "/api/objects/" + escapeKey(key)

	if cfg.PublicURL != "" {
		return strings.TrimSuffix(cfg.PublicURL, "/") + path
	}

	return getScheme(r) + "://" + getHost(r) + path
}

// escapeKey path-escapes each segment of an object key, keeping the slashes
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// getScheme returns the scheme (http/https) respecting reverse proxy headers
func getScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}

// getHost returns the host respecting reverse proxy headers
func getHost(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		return host
	}

	return r.Host
}
