package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fjmerc/partstream/internal/repository"
	"github.com/fjmerc/partstream/internal/utils"
)

type contextKey string

const (
	// ContextKeyOwnerID holds the authenticated owner ID
	ContextKeyOwnerID contextKey = "owner_id"
	// ContextKeyTokenID holds the database ID of the API token used
	ContextKeyTokenID contextKey = "token_id"

	contextKeyOwnerSlot contextKey = "owner_slot"
)

// ownerSlot lets the logging middleware see who a request was authenticated as.
type ownerSlot struct {
	id string
}

func withOwnerSlot(r *http.Request) (*http.Request, *ownerSlot) {
	slot := &ownerSlot{}
	return r.WithContext(context.WithValue(r.Context(), contextKeyOwnerSlot, slot)), slot
}

// OwnerID returns the authenticated owner, or "" for anonymous requests.
func OwnerID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyOwnerID).(string)
	return id
}

// WithOwnerID returns ctx carrying ownerID as the authenticated owner.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	if slot, ok := ctx.Value(contextKeyOwnerSlot).(*ownerSlot); ok {
		slot.id = ownerID
	}
	return context.WithValue(ctx, ContextKeyOwnerID, ownerID)
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// APITokenAuth requires a valid API token and stores its owner in the
// request context.
func APITokenAuth(tokens repository.APITokenRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || !utils.ValidateAPITokenFormat(token) {
				slog.Warn("authentication failed - missing or malformed bearer token",
					"path", r.URL.Path,
					"ip", getClientIP(r),
				)
				writeError(w, http.StatusUnauthorized, "Authentication required", "UNAUTHENTICATED")
				return
			}

			rec, err := tokens.GetByHash(r.Context(), utils.HashAPIToken(token))
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					slog.Warn("authentication failed - unknown or expired token",
						"path", r.URL.Path,
						"token", utils.MaskToken(token),
						"ip", getClientIP(r),
					)
					writeError(w, http.StatusUnauthorized, "Invalid or expired API token", "UNAUTHENTICATED")
					return
				}
				slog.Error("failed to look up api token", "error", err)
				writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
				return
			}

			if err := tokens.UpdateLastUsed(r.Context(), rec.ID); err != nil {
				// Usage tracking must not fail the request
				slog.Warn("failed to update api token last used", "token_id", rec.ID, "error", err)
			}

			ctx := WithOwnerID(r.Context(), rec.OwnerID)
			ctx = context.WithValue(ctx, ContextKeyTokenID, rec.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
