package handlers

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/testutil"
)

const testOwner = "user-1"

// testServer is the full router over a test service with one API token
type testServer struct {
	env     *testutil.TestEnv
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T, opts ...testutil.EnvOption) *testServer {
	t.Helper()

	env := testutil.SetupTestService(t, opts...)
	return &testServer{
		env: env,
		handler: NewRouter(Deps{
			Config:    env.Config,
			Repos:     env.Repos,
			Service:   env.Service,
			StartTime: time.Now(),
		}),
		token: testutil.CreateAPIToken(t, env.Repos, testOwner),
	}
}

// do sends a request through the router. body may be nil, raw bytes, or a
// value encoded as JSON. bearer is sent as the Authorization token when set.
func (s *testServer) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// decodeResponse decodes a JSON response body into T
func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v\nBody: %s", err, rr.Body.String())
	}
	return v
}

// assertErrorCode checks status and the JSON error code
func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) models.ErrorResponse {
	t.Helper()

	testutil.AssertStatusCode(t, rr, status)
	resp := decodeResponse[models.ErrorResponse](t, rr)
	if resp.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", resp.Code, code, resp.Error)
	}
	return resp
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"upload_id":"abc"}`, false},
		{"unknown field", `{"upload_id":"abc","extra":1}`, true},
		{"empty body", ``, true},
		{"trailing object", `{"upload_id":"a"}{"upload_id":"b"}`, true},
		{"not json", `upload_id=abc`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v models.UploadAbortRequest
			err := decodeJSON(httptest.NewRecorder(), req, &v)
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	body := `{"upload_id":"` + strings.Repeat("a", maxControlBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var v models.UploadAbortRequest
	err := decodeJSON(httptest.NewRecorder(), req, &v)
	if err != errBodyTooLarge {
		t.Errorf("decodeJSON() error = %v, want errBodyTooLarge", err)
	}
}

func TestBuildObjectURL(t *testing.T) {
	tests := []struct {
		name      string
		publicURL string
		headers   map[string]string
		tls       bool
		want      string
	}{
		{
			name: "from host",
			want: "http://example.com/api/objects/files/user-1/a.bin",
		},
		{
			name: "tls",
			tls:  true,
			want: "https://example.com/api/objects/files/user-1/a.bin",
		},
		{
			name:    "reverse proxy headers",
			headers: map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "files.example.org"},
			want:    "https://files.example.org/api/objects/files/user-1/a.bin",
		},
		{
			name:      "public url wins",
			publicURL: "https://cdn.example.net/",
			headers:   map[string]string{"X-Forwarded-Host": "ignored.example.org"},
			want:      "https://cdn.example.net/api/objects/files/user-1/a.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutil.SetupTestConfig(t)
			cfg.PublicURL = tt.publicURL

			req := httptest.NewRequest(http.MethodPost, "http://example.com/api/uploads/complete", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}

			if got := buildObjectURL(req, cfg, "files/user-1/a.bin"); got != tt.want {
				t.Errorf("buildObjectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEscapeKey(t *testing.T) {
	if got := escapeKey("files/user 1/a?b.bin"); got != "files/user%201/a%3Fb.bin" {
		t.Errorf("escapeKey() = %q", got)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/nope", nil, "")
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health/live", nil, "")

	rr := s.do(t, http.MethodGet, "/metrics", nil, "")
	testutil.AssertStatusCode(t, rr, http.StatusOK)
	testutil.AssertContains(t, rr.Body.String(), "partstream_http_requests_total")
}
