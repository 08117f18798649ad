package multipart_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/multipart"
	"github.com/fjmerc/partstream/internal/testutil"
)

func claimsFor(session *models.UploadSession, n int) multipart.PartClaims {
	return multipart.PartClaims{
		OwnerID:    session.OwnerID,
		ObjectKey:  session.ObjectKey,
		UploadID:   session.UploadID,
		PartNumber: n,
	}
}

func TestUploadPart_Receipt(t *testing.T) {
	env := testutil.SetupTestService(t)
	ctx := context.Background()
	session := initUpload(t, env, "data.bin", 10*1024)

	body := testutil.RandomBytes(t, 4096)
	receipt, err := env.Service.UploadPart(ctx, partToken(t, env, session, 2), bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("UploadPart: %v", err)
	}
	if receipt.PartNumber != 2 || receipt.Size != 4096 || receipt.ETag == "" {
		t.Errorf("receipt = %+v", receipt)
	}

	part, err := env.Repos.Sessions.GetPart(ctx, session.UploadID, 2)
	if err != nil {
		t.Fatalf("part not registered: %v", err)
	}
	if part.ETag != receipt.ETag || part.Size != receipt.Size {
		t.Errorf("registered part = %+v, receipt %+v", part, receipt)
	}
}

func TestUploadPart_UnknownLength(t *testing.T) {
	env := testutil.SetupTestService(t, testutil.WithStore(testutil.NewFilesystemStore(t)))
	session := initUpload(t, env, "data.bin", 10*1024)

	receipt, err := env.Service.UploadPart(context.Background(), partToken(t, env, session, 3), bytes.NewReader(make([]byte, 2048)), -1)
	if err != nil {
		t.Fatalf("UploadPart: %v", err)
	}
	if receipt.Size != 2048 {
		t.Errorf("size = %d, want 2048", receipt.Size)
	}
}

func TestUploadPart_BodySize(t *testing.T) {
	env := testutil.SetupTestService(t)
	session := initUpload(t, env, "data.bin", 10*1024)
	limit := env.Config.MaxPartSize

	tests := []struct {
		name    string
		body    []byte
		size    int64
		wantErr error
	}{
		{"empty declared", nil, 0, multipart.ErrEmptyPart},
		{"empty unknown length", nil, -1, multipart.ErrEmptyPart},
		{"declared too large", nil, limit + 1, multipart.ErrPartTooLarge},
		{"unknown length too large", make([]byte, limit+1), -1, multipart.ErrPartTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Service.UploadPart(context.Background(), partToken(t, env, session, 1), bytes.NewReader(tt.body), tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UploadPart = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUploadPart_TokenRejected(t *testing.T) {
	env := testutil.SetupTestService(t)
	session := initUpload(t, env, "data.bin", 10*1024)

	expired, err := env.Codec.IssueAt(claimsFor(session, 1), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("IssueAt: %v", err)
	}

	other, err := multipart.NewTokenCodec([]byte(strings.Repeat("x", multipart.MinSecretLength)), nil)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	forged, err := other.Issue(claimsFor(session, 1), time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"malformed", "not-a-token", multipart.ErrMalformed},
		{"expired", expired, multipart.ErrExpired},
		{"foreign secret", forged, multipart.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Service.UploadPart(context.Background(), tt.token, bytes.NewReader([]byte("data")), 4)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UploadPart = %v, want %v", err, tt.wantErr)
			}
		})
	}

	parts, err := env.Repos.Sessions.ListParts(context.Background(), session.UploadID)
	if err != nil {
		t.Fatalf("ListParts: %v", err)
	}
	if len(parts) != 0 {
		t.Errorf("%d parts registered from rejected tokens", len(parts))
	}
}

func TestUploadPart_SessionChecks(t *testing.T) {
	env := testutil.SetupTestService(t)
	ctx := context.Background()
	session := initUpload(t, env, "data.bin", 10*1024)

	issue := func(claims multipart.PartClaims) string {
		token, err := env.Codec.Issue(claims, time.Minute)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		return token
	}

	wrongOwner := claimsFor(session, 1)
	wrongOwner.OwnerID = "user-2"
	wrongKey := claimsFor(session, 1)
	wrongKey.ObjectKey = "files/user-1/other.bin"
	unknown := claimsFor(session, 1)
	unknown.UploadID = "no-such-upload"

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"owner mismatch", issue(wrongOwner), multipart.ErrForbidden},
		{"key mismatch", issue(wrongKey), multipart.ErrForbidden},
		{"unknown session", issue(unknown), multipart.ErrSessionNotFound},
		{"beyond part count", issue(claimsFor(session, 4)), multipart.ErrInvalidPartNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Service.UploadPart(ctx, tt.token, bytes.NewReader([]byte("data")), 4)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UploadPart = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("aborted session", func(t *testing.T) {
		token := partToken(t, env, session, 1)
		if _, err := env.Service.Abort(ctx, owner, session.UploadID); err != nil {
			t.Fatalf("Abort: %v", err)
		}
		_, err := env.Service.UploadPart(ctx, token, bytes.NewReader([]byte("data")), 4)
		if !errors.Is(err, multipart.ErrSessionAborted) {
			t.Errorf("UploadPart = %v, want ErrSessionAborted", err)
		}
	})
}

func TestUploadPart_DetectsContentType(t *testing.T) {
	env := testutil.SetupTestService(t)
	ctx := context.Background()

	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 4096)...)
	png = png[:4096]
	data := append(png, make([]byte, 2048)...)

	session := initUpload(t, env, "image.bin", int64(len(data)))
	r := uploadParts(t, env, session, data)

	stored, err := env.Repos.Sessions.GetByUploadID(ctx, session.UploadID)
	if err != nil {
		t.Fatalf("GetByUploadID: %v", err)
	}
	if stored.ContentType != "image/png" {
		t.Errorf("session content type = %q, want image/png", stored.ContentType)
	}

	obj, err := env.Service.Complete(ctx, owner, completeRequest(session, r))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if obj.ContentType != "image/png" {
		t.Errorf("object content type = %q, want image/png", obj.ContentType)
	}
}

func TestUploadPart_KeepsDeclaredContentType(t *testing.T) {
	env := testutil.SetupTestService(t)
	ctx := context.Background()

	session, err := env.Service.Init(ctx, owner, models.UploadInitRequest{
		Filename:    "doc.txt",
		ContentType: "text/plain",
		Size:        20,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x00")
	if _, err := env.Service.UploadPart(ctx, partToken(t, env, session, 1), bytes.NewReader(png), int64(len(png))); err != nil {
		t.Fatalf("UploadPart: %v", err)
	}

	stored, _ := env.Repos.Sessions.GetByUploadID(ctx, session.UploadID)
	if stored.ContentType != "text/plain" {
		t.Errorf("content type = %q, declared type should be kept", stored.ContentType)
	}
}

// gatedReader blocks its first Read until release is closed.
type gatedReader struct {
	r       io.Reader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedReader(data []byte) *gatedReader {
	return &gatedReader{
		r:       bytes.NewReader(data),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.r.Read(p)
}

func TestUploadPart_LateWriteAfterSessionCloses(t *testing.T) {
	tests := []struct {
		name    string
		close   func(env *testutil.TestEnv, session *models.UploadSession, r models.PartReceipt) error
		wantErr error
		state   models.SessionState
	}{
		{
			name: "completed",
			close: func(env *testutil.TestEnv, session *models.UploadSession, r models.PartReceipt) error {
				_, err := env.Service.Complete(context.Background(), owner, completeRequest(session, []models.PartReceipt{r}))
				return err
			},
			wantErr: multipart.ErrSessionCompleted,
			state:   models.SessionCompleted,
		},
		{
			name: "aborted",
			close: func(env *testutil.TestEnv, session *models.UploadSession, _ models.PartReceipt) error {
				_, err := env.Service.Abort(context.Background(), owner, session.UploadID)
				return err
			},
			wantErr: multipart.ErrSessionAborted,
			state:   models.SessionAborted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewFilesystemStore(t)
			env := testutil.SetupTestService(t, testutil.WithStore(store))
			ctx := context.Background()

			data := testutil.RandomBytes(t, 2000)
			session := initUpload(t, env, "late.bin", int64(len(data)))
			receipts := uploadParts(t, env, session, data)

			// A second write of part 1 passes the state check, then stalls mid-body
			late := newGatedReader(testutil.RandomBytes(t, len(data)))
			type result struct {
				receipt *models.PartReceipt
				err     error
			}
			done := make(chan result, 1)
			token := partToken(t, env, session, 1)
			go func() {
				receipt, err := env.Service.UploadPart(ctx, token, late, int64(len(data)))
				done <- result{receipt, err}
			}()

			select {
			case <-late.started:
			case <-time.After(5 * time.Second):
				t.Fatal("late part never started streaming")
			}
			if err := tt.close(env, session, receipts[0]); err != nil {
				close(late.release)
				t.Fatalf("closing session: %v", err)
			}
			close(late.release)

			var res result
			select {
			case res = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("late UploadPart did not return")
			}
			if !errors.Is(res.err, tt.wantErr) || res.receipt != nil {
				t.Errorf("late UploadPart = %+v, %v; want %v", res.receipt, res.err, tt.wantErr)
			}

			if got := sessionState(t, env, session.UploadID); got != tt.state {
				t.Errorf("state = %s, want %s", got, tt.state)
			}
			if part, err := env.Repos.Sessions.GetPart(ctx, session.UploadID, 1); err == nil && part.ETag != receipts[0].ETag {
				t.Errorf("registered etag = %s, want %s", part.ETag, receipts[0].ETag)
			}
			leftover, err := store.List(ctx, session.ObjectKey+".part")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(leftover) != 0 {
				t.Errorf("%d temp parts left after the session closed", len(leftover))
			}
		})
	}
}
