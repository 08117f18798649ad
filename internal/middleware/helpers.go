// Package middleware provides the HTTP middleware chain: panic recovery,
// request logging, security headers, bearer authentication and per-owner
// rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/utils"
)

// getClientIP returns the client IP, trusting forwarding headers only from
// private and loopback proxies.
func getClientIP(r *http.Request) string {
	return utils.GetClientIPWithTrust(r, "auto", utils.DefaultTrustedProxies)
}

// writeError sends the standard JSON error body.
func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
