package partstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer speaks the upload protocol against an in-memory session.
type fakeServer struct {
	t *testing.T

	mu         sync.Mutex
	uploadID   string
	objectKey  string
	state      string
	size       int64
	partSize   int64
	parts      map[int][]byte
	attempts   map[int]int
	tokenCalls [][2]int
	tokenGen   int
	expired    map[string]bool
	initCalls  int
	statusHits int
	completes  int
	assembled  []byte

	// failPart, when set, may answer an upload attempt with an error.
	failPart func(part, attempt int) (status int, code string)
	// failComplete, when set, may answer a completion call with an error.
	failComplete func(call int) (status int, code string)
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()

	f := &fakeServer{
		t:         t,
		uploadID:  "upload-1",
		objectKey: "files/user-1/1-abc.bin",
		parts:     make(map[int][]byte),
		attempts:  make(map[int]int),
		expired:   make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/uploads/init", f.handleInit)
	mux.HandleFunc("POST /api/uploads/part-tokens", f.handleTokens)
	mux.HandleFunc("POST /api/uploads/part", f.handlePart)
	mux.HandleFunc("POST /api/uploads/complete", f.handleComplete)
	mux.HandleFunc("POST /api/uploads/abort", f.handleAbort)
	mux.HandleFunc("GET /api/uploads/status/{id}", f.handleStatus)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, APIToken: "pst_test", RetryMax: -1})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return f, client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: strings.ToLower(code), Code: code})
}

func (f *fakeServer) handleInit(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	f.size = req.Size
	f.partSize = req.PartSize
	if f.partSize == 0 {
		f.partSize = 1024
	}
	f.state = StateOpen

	writeJSON(w, http.StatusCreated, Session{
		UploadID:   f.uploadID,
		ObjectKey:  f.objectKey,
		PartSize:   f.partSize,
		TotalParts: int((f.size + f.partSize - 1) / f.partSize),
		ExpiresAt:  time.Now().Add(time.Hour),
	})
}

func (f *fakeServer) handleTokens(w http.ResponseWriter, r *http.Request) {
	var req partTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	start, end := req.StartPartNumber, req.EndPartNumber
	if req.PartNumber > 0 {
		start, end = req.PartNumber, req.PartNumber
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if req.UploadID != f.uploadID || req.ObjectKey != f.objectKey {
		writeErr(w, http.StatusNotFound, "UPLOAD_NOT_FOUND")
		return
	}
	if end-start+1 > MaxTokenBatch {
		writeErr(w, http.StatusBadRequest, "BATCH_TOO_LARGE")
		return
	}
	f.tokenCalls = append(f.tokenCalls, [2]int{start, end})
	f.tokenGen++

	var resp partTokensResponse
	for n := start; n <= end; n++ {
		resp.Tokens = append(resp.Tokens, PartToken{
			PartNumber: n,
			Token:      fmt.Sprintf("tok-%d-%d", n, f.tokenGen),
			ExpiresAt:  time.Now().Add(10 * time.Minute),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeServer) handlePart(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Header.Get("Authorization") != "" {
		f.t.Error("part upload carried an Authorization header")
	}

	var part, gen int
	if _, err := fmt.Sscanf(token, "tok-%d-%d", &part, &gen); err != nil {
		writeErr(w, http.StatusUnauthorized, "TOKEN_MALFORMED")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	f.mu.Lock()
	f.attempts[part]++
	if f.expired[token] {
		f.mu.Unlock()
		writeErr(w, http.StatusUnauthorized, "TOKEN_EXPIRED")
		return
	}
	if f.failPart != nil {
		if status, code := f.failPart(part, f.attempts[part]); status != 0 {
			f.mu.Unlock()
			writeErr(w, status, code)
			return
		}
	}
	f.parts[part] = body
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, PartReceipt{PartNumber: part, ETag: fmt.Sprintf("etag-%d", part), Size: int64(len(body))})
}

func (f *fakeServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	if f.failComplete != nil {
		if status, code := f.failComplete(f.completes); status != 0 {
			writeErr(w, status, code)
			return
		}
	}

	sort.Slice(req.Parts, func(i, j int) bool { return req.Parts[i].PartNumber < req.Parts[j].PartNumber })
	var buf bytes.Buffer
	for i, p := range req.Parts {
		if p.PartNumber != i+1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing part", Code: "MISSING_PART", ExpectedPart: i + 1})
			return
		}
		if p.ETag != fmt.Sprintf("etag-%d", p.PartNumber) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid part", Code: "INVALID_PART", PartNumber: p.PartNumber})
			return
		}
		buf.Write(f.parts[p.PartNumber])
	}
	f.assembled = buf.Bytes()
	f.state = StateCompleted

	writeJSON(w, http.StatusOK, CompletedObject{
		ObjectKey: f.objectKey,
		ETag:      "final",
		TotalSize: int64(buf.Len()),
		URL:       "/api/objects/" + f.objectKey,
	})
}

func (f *fakeServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateAborted
	writeJSON(w, http.StatusOK, abortResponse{UploadID: f.uploadID, State: StateAborted})
}

func (f *fakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHits++
	if r.PathValue("id") != f.uploadID || f.state == "" {
		writeErr(w, http.StatusNotFound, "UPLOAD_NOT_FOUND")
		return
	}

	st := UploadStatus{
		UploadID:     f.uploadID,
		ObjectKey:    f.objectKey,
		State:        f.state,
		ExpectedSize: f.size,
		PartSize:     f.partSize,
		TotalParts:   int((f.size + f.partSize - 1) / f.partSize),
		Parts:        []PartReceipt{},
	}
	for n, data := range f.parts {
		st.Parts = append(st.Parts, PartReceipt{PartNumber: n, ETag: fmt.Sprintf("etag-%d", n), Size: int64(len(data))})
	}
	writeJSON(w, http.StatusOK, st)
}

// snapshot returns a copy of the per-part attempt counts.
func (f *fakeServer) snapshot() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.attempts))
	for k, v := range f.attempts {
		out[k] = v
	}
	return out
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// configure mutates server state under its lock.
func (f *fakeServer) configure(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeStats struct {
	initCalls  int
	completes  int
	tokenCalls [][2]int
	assembled  []byte
}

func (f *fakeServer) stats() fakeStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeStats{
		initCalls:  f.initCalls,
		completes:  f.completes,
		tokenCalls: append([][2]int(nil), f.tokenCalls...),
		assembled:  append([]byte(nil), f.assembled...),
	}
}
