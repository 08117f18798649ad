package partstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// MaxTokenBatch is the largest part range one PartTokens call may request.
const MaxTokenBatch = 20

// InitUpload opens an upload session.
//
// Example:
//
//	session, err := client.InitUpload(ctx, partstream.InitRequest{
//	    Filename: "backup.tar",
//	    Size:     info.Size(),
//	})
func (c *Client) InitUpload(ctx context.Context, req InitRequest) (*Session, error) {
	if err := validateFilename(req.Filename); err != nil {
		return nil, err
	}
	if req.Size <= 0 {
		return nil, &ValidationError{Field: "size", Message: "must be positive"}
	}

	var session Session
	if err := c.call(ctx, http.MethodPost, "/api/uploads/init", req, &session, false); err != nil {
		return nil, err
	}
	return &session, nil
}

// PartTokens issues tokens for parts start through end inclusive.
func (c *Client) PartTokens(ctx context.Context, state ResumeState, start, end int) ([]PartToken, error) {
	if err := validateUploadID(state.UploadID); err != nil {
		return nil, err
	}
	if start < 1 || end < start {
		return nil, &ValidationError{Field: "parts", Message: fmt.Sprintf("invalid range %d-%d", start, end)}
	}
	if end-start+1 > MaxTokenBatch {
		return nil, &ValidationError{Field: "parts", Message: fmt.Sprintf("at most %d tokens per request", MaxTokenBatch)}
	}

	req := partTokensRequest{ObjectKey: state.ObjectKey, UploadID: state.UploadID}
	if start == end {
		req.PartNumber = start
	} else {
		req.StartPartNumber = start
		req.EndPartNumber = end
	}

	var resp partTokensResponse
	if err := c.call(ctx, http.MethodPost, "/api/uploads/part-tokens", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

// UploadPart sends one part body authorized by token. The API token is
// not sent; the part token is the only credential.
func (c *Client) UploadPart(ctx context.Context, token string, body io.Reader, size int64) (*PartReceipt, error) {
	if token == "" {
		return nil, &ValidationError{Field: "token", Message: "is required"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/uploads/part?token="+url.QueryEscape(token), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading part: %w", err)
	}

	var receipt PartReceipt
	if err := handleResponse(resp, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// CompleteUpload assembles the object from parts. Receipts may be in any
// order; the server sorts and deduplicates them.
func (c *Client) CompleteUpload(ctx context.Context, state ResumeState, parts []PartReceipt) (*CompletedObject, error) {
	if err := validateUploadID(state.UploadID); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, &ValidationError{Field: "parts", Message: "at least one part is required"}
	}

	var obj CompletedObject
	req := completeRequest{ObjectKey: state.ObjectKey, UploadID: state.UploadID, Parts: parts}
	if err := c.call(ctx, http.MethodPost, "/api/uploads/complete", req, &obj, false); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Abort cancels an upload session and discards its parts.
func (c *Client) Abort(ctx context.Context, uploadID string) error {
	if err := validateUploadID(uploadID); err != nil {
		return err
	}
	var resp abortResponse
	return c.call(ctx, http.MethodPost, "/api/uploads/abort", abortRequest{UploadID: uploadID}, &resp, true)
}

// Status reports a session and its registered parts.
//
// Example:
//
//	st, err := client.Status(ctx, uploadID)
//	if err == nil && st.State == partstream.StateOpen {
//	    fmt.Printf("%d of %d parts stored\n", len(st.Parts), st.TotalParts)
//	}
func (c *Client) Status(ctx context.Context, uploadID string) (*UploadStatus, error) {
	if err := validateUploadID(uploadID); err != nil {
		return nil, err
	}

	var st UploadStatus
	if err := c.call(ctx, http.MethodGet, "/api/uploads/status/"+url.PathEscape(uploadID), nil, &st, true); err != nil {
		return nil, err
	}
	return &st, nil
}

// validateFilename validates a filename.
func validateFilename(name string) error {
	if name == "" {
		return &ValidationError{Field: "filename", Message: "cannot be empty"}
	}
	if len(name) > 255 {
		return &ValidationError{Field: "filename", Message: "cannot exceed 255 characters"}
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return &ValidationError{Field: "filename", Message: "cannot contain path components"}
	}
	return nil
}
