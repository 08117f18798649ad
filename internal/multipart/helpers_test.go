package multipart_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/partplan"
	"github.com/fjmerc/partstream/internal/testutil"
)

const owner = "user-1"

// initUpload starts a session for size bytes of data.
func initUpload(t *testing.T, env *testutil.TestEnv, filename string, size int64) *models.UploadSession {
	t.Helper()

	session, err := env.Service.Init(context.Background(), owner, models.UploadInitRequest{
		Filename: filename,
		Size:     size,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return session
}

// partToken issues a token for one part.
func partToken(t *testing.T, env *testutil.TestEnv, session *models.UploadSession, n int) string {
	t.Helper()

	tokens, err := env.Service.IssuePartTokens(context.Background(), session.OwnerID, models.PartTokensRequest{
		ObjectKey:  session.ObjectKey,
		UploadID:   session.UploadID,
		PartNumber: n,
	})
	if err != nil {
		t.Fatalf("IssuePartTokens(%d): %v", n, err)
	}
	return tokens[0].Token
}

// uploadParts uploads every planned part of data and returns the receipts in order.
func uploadParts(t *testing.T, env *testutil.TestEnv, session *models.UploadSession, data []byte) []models.PartReceipt {
	t.Helper()

	plan, err := partplan.Plan(int64(len(data)), session.PartSize)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	receipts := make([]models.PartReceipt, 0, len(plan))
	for _, p := range plan {
		chunk := data[p.Offset:p.End()]
		receipt, err := env.Service.UploadPart(context.Background(), partToken(t, env, session, p.Number), bytes.NewReader(chunk), int64(len(chunk)))
		if err != nil {
			t.Fatalf("UploadPart(%d): %v", p.Number, err)
		}
		receipts = append(receipts, *receipt)
	}
	return receipts
}

func completeRequest(session *models.UploadSession, parts []models.PartReceipt) models.UploadCompleteRequest {
	return models.UploadCompleteRequest{
		ObjectKey: session.ObjectKey,
		UploadID:  session.UploadID,
		Parts:     parts,
	}
}

func sessionState(t *testing.T, env *testutil.TestEnv, uploadID string) models.SessionState {
	t.Helper()

	s, err := env.Repos.Sessions.GetByUploadID(context.Background(), uploadID)
	if err != nil {
		t.Fatalf("GetByUploadID: %v", err)
	}
	return s.State
}
