package multipart_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/partplan"
	"github.com/fjmerc/partstream/internal/testutil"
)

func benchSession(b *testing.B, env *testutil.TestEnv, size, partSize int64) *models.UploadSession {
	b.Helper()

	session, err := env.Service.Init(context.Background(), owner, models.UploadInitRequest{
		Filename: "bench.bin",
		Size:     size,
		PartSize: partSize,
	})
	if err != nil {
		b.Fatalf("Init: %v", err)
	}
	return session
}

// BenchmarkUploadPart measures one 64KB part write against the native store
func BenchmarkUploadPart(b *testing.B) {
	env := testutil.SetupTestService(b)
	ctx := context.Background()
	chunk := bytes.Repeat([]byte("P"), 64*1024)

	session := benchSession(b, env, int64(len(chunk))*2, int64(len(chunk)))
	tokens, err := env.Service.IssuePartTokens(ctx, owner, models.PartTokensRequest{
		ObjectKey:  session.ObjectKey,
		UploadID:   session.UploadID,
		PartNumber: 1,
	})
	if err != nil {
		b.Fatalf("IssuePartTokens: %v", err)
	}

	b.SetBytes(int64(len(chunk)))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := env.Service.UploadPart(ctx, tokens[0].Token, bytes.NewReader(chunk), int64(len(chunk))); err != nil {
			b.Fatalf("UploadPart: %v", err)
		}
	}
}

// BenchmarkIssuePartTokens measures signing a full token batch
func BenchmarkIssuePartTokens(b *testing.B) {
	env := testutil.SetupTestService(b)
	ctx := context.Background()
	session := benchSession(b, env, 20*4096, 4096)

	req := models.PartTokensRequest{
		ObjectKey:       session.ObjectKey,
		UploadID:        session.UploadID,
		StartPartNumber: 1,
		EndPartNumber:   20,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := env.Service.IssuePartTokens(ctx, owner, req); err != nil {
			b.Fatalf("IssuePartTokens: %v", err)
		}
	}
}

// BenchmarkVerifyToken measures token verification on the part hot path
func BenchmarkVerifyToken(b *testing.B) {
	env := testutil.SetupTestService(b)
	session := benchSession(b, env, 8192, 4096)

	tokens, err := env.Service.IssuePartTokens(context.Background(), owner, models.PartTokensRequest{
		ObjectKey:  session.ObjectKey,
		UploadID:   session.UploadID,
		PartNumber: 1,
	})
	if err != nil {
		b.Fatalf("IssuePartTokens: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := env.Codec.Verify(tokens[0].Token); err != nil {
			b.Fatalf("Verify: %v", err)
		}
	}
}

// BenchmarkCompleteManual measures assembling a 16-part upload on the filesystem store
func BenchmarkCompleteManual(b *testing.B) {
	env := testutil.SetupTestService(b, testutil.WithStore(testutil.NewFilesystemStore(b)))
	ctx := context.Background()
	const partSize = 4096
	data := bytes.Repeat([]byte("M"), 16*partSize)

	plan, err := partplan.Plan(int64(len(data)), partSize)
	if err != nil {
		b.Fatalf("Plan: %v", err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		session := benchSession(b, env, int64(len(data)), partSize)
		tokens, err := env.Service.IssuePartTokens(ctx, owner, models.PartTokensRequest{
			ObjectKey:       session.ObjectKey,
			UploadID:        session.UploadID,
			StartPartNumber: 1,
			EndPartNumber:   len(plan),
		})
		if err != nil {
			b.Fatalf("IssuePartTokens: %v", err)
		}
		receipts := make([]models.PartReceipt, 0, len(plan))
		for j, p := range plan {
			chunk := data[p.Offset:p.End()]
			receipt, err := env.Service.UploadPart(ctx, tokens[j].Token, bytes.NewReader(chunk), int64(len(chunk)))
			if err != nil {
				b.Fatalf("UploadPart(%d): %v", p.Number, err)
			}
			receipts = append(receipts, *receipt)
		}
		b.StartTimer()

		if _, err := env.Service.Complete(ctx, owner, completeRequest(session, receipts)); err != nil {
			b.Fatalf("Complete: %v", err)
		}
	}
}
