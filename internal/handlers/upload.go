package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/fjmerc/partstream/internal/config"
	"github.com/fjmerc/partstream/internal/middleware"
	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/multipart"
)

// UploadInitHandler opens an upload session
// POST /api/uploads/init
func UploadInitHandler(svc *multipart.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		var req models.UploadInitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			sendDecodeError(w, err)
			return
		}

		ownerID := middleware.OwnerID(r.Context())
		session, err := svc.Init(r.Context(), ownerID, req)
		if err != nil {
			sendServiceError(w, r, err)
			return
		}

		slog.Info("upload session opened",
			"upload_id", session.UploadID,
			"object_key", session.ObjectKey,
			"owner_id", ownerID,
			"size", session.ExpectedSize,
			"total_parts", session.TotalParts,
		)

		sendJSON(w, http.StatusCreated, models.UploadInitResponse{
			UploadID:   session.UploadID,
			ObjectKey:  session.ObjectKey,
			PartSize:   session.PartSize,
			TotalParts: session.TotalParts,
			ExpiresAt:  svc.SessionExpiry(session),
		})
	}
}

// PartTokensHandler issues part tokens for one part or a range of parts
// POST /api/uploads/part-tokens
func PartTokensHandler(svc *multipart.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		var req models.PartTokensRequest
		if err := decodeJSON(w, r, &req); err != nil {
			sendDecodeError(w, err)
			return
		}

		tokens, err := svc.IssuePartTokens(r.Context(), middleware.OwnerID(r.Context()), req)
		if err != nil {
			sendServiceError(w, r, err)
			return
		}

		sendJSON(w, http.StatusOK, models.PartTokensResponse{Tokens: tokens})
	}
}

// UploadPartHandler stores the raw request body as the part its token
// authorizes. The token is the only credential the request carries.
// POST /api/uploads/part?token=...
func UploadPartHandler(svc *multipart.Service, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			sendError(w, "Missing part token", "TOKEN_MALFORMED", http.StatusUnauthorized)
			return
		}

		if r.ContentLength > cfg.MaxPartSize {
			sendError(w, "Part exceeds maximum part size", "PART_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}

		// Bodies of unknown length are bounded by the service
		receipt, err := svc.UploadPart(r.Context(), token, r.Body, r.ContentLength)
		if err != nil {
			sendServiceError(w, r, err)
			return
		}

		sendJSON(w, http.StatusOK, receipt)
	}
}

// UploadCompleteHandler stitches the listed parts into the final object
// POST /api/uploads/complete
func UploadCompleteHandler(svc *multipart.Service, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		var req models.UploadCompleteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			sendDecodeError(w, err)
			return
		}

		obj, err := svc.Complete(r.Context(), middleware.OwnerID(r.Context()), req)
		if err != nil {
			sendServiceError(w, r, err)
			return
		}

		sendJSON(w, http.StatusOK, models.UploadCompleteResponse{
			ObjectKey:   obj.ObjectKey,
			ETag:        obj.ETag,
			TotalSize:   obj.TotalSize,
			ContentType: obj.ContentType,
			Filename:    obj.Filename,
			URL:         buildObjectURL(r, cfg, obj.ObjectKey),
		})
	}
}

// UploadAbortHandler abandons an open session and discards its parts
// POST /api/uploads/abort
func UploadAbortHandler(svc *multipart.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		var req models.UploadAbortRequest
		if err := decodeJSON(w, r, &req); err != nil {
			sendDecodeError(w, err)
			return
		}

		session, err := svc.Abort(r.Context(), middleware.OwnerID(r.Context()), req.UploadID)
		if err != nil {
			sendServiceError(w, r, err)
			return
		}

		sendJSON(w, http.StatusOK, models.UploadAbortResponse{
			UploadID: session.UploadID,
			State:    session.State,
		})
	}
}

// UploadStatusHandler reports a session and its registered parts
// GET /api/uploads/status/{uploadID}
func UploadStatusHandler(svc *multipart.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		status, err := svc.Status(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("uploadID"))
		if err != nil {
			sendServiceError(w, r, err)
			return
		}

		parts := make([]models.PartReceipt, 0, len(status.Parts))
		for _, p := range status.Parts {
			parts = append(parts, models.PartReceipt{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size})
		}

		s := status.Session
		w.Header().Set("Cache-Control", "no-store")
		sendJSON(w, http.StatusOK, models.UploadStatusResponse{
			UploadID:     s.UploadID,
			ObjectKey:    s.ObjectKey,
			Filename:     s.Filename,
			State:        s.State,
			ExpectedSize: s.ExpectedSize,
			PartSize:     s.PartSize,
			TotalParts:   s.TotalParts,
			Parts:        parts,
			LastActivity: s.LastActivity,
		})
	}
}
