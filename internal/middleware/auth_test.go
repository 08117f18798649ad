package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/testutil"
	"github.com/fjmerc/partstream/internal/utils"
)

func TestAPITokenAuth(t *testing.T) {
	repos := testutil.SetupTestRepos(t)
	valid := testutil.CreateAPIToken(t, repos, "user-1")

	// Expired token
	expiredToken, prefix, err := utils.GenerateAPIToken()
	if err != nil {
		t.Fatalf("GenerateAPIToken: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := repos.APITokens.Create(context.Background(), &models.APIToken{
		OwnerID:     "user-1",
		Name:        "expired",
		TokenHash:   utils.HashAPIToken(expiredToken),
		TokenPrefix: prefix,
		ExpiresAt:   &past,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	unknown, _, _ := utils.GenerateAPIToken()

	var gotOwner string
	handler := APITokenAuth(repos.APITokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = OwnerID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "user-1"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "user-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"malformed token", "Bearer not-a-token", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer " + unknown, http.StatusUnauthorized, ""},
		{"expired token", "Bearer " + expiredToken, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOwner = ""
			req := httptest.NewRequest(http.MethodGet, "/api/objects", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			testutil.AssertStatusCode(t, rr, tt.wantStatus)
			if gotOwner != tt.wantOwner {
				t.Errorf("owner = %q, want %q", gotOwner, tt.wantOwner)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				testutil.AssertContains(t, rr.Body.String(), `"code":"UNAUTHENTICATED"`)
			}
		})
	}
}

func TestAPITokenAuth_RecordsUsage(t *testing.T) {
	repos := testutil.SetupTestRepos(t)
	token := testutil.CreateAPIToken(t, repos, "user-1")

	handler := APITokenAuth(repos.APITokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/api/objects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec, err := repos.APITokens.GetByHash(context.Background(), utils.HashAPIToken(token))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if rec.LastUsedAt == nil {
		t.Error("LastUsedAt not recorded")
	}
}

func TestOwnerID_Anonymous(t *testing.T) {
	if got := OwnerID(context.Background()); got != "" {
		t.Errorf("OwnerID = %q, want empty", got)
	}
	if got := OwnerID(WithOwnerID(context.Background(), "user-9")); got != "user-9" {
		t.Errorf("OwnerID = %q, want user-9", got)
	}
}
