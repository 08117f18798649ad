package partstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ListObjects returns the caller's completed objects, newest first.
//
// Example:
//
//	objects, err := client.ListObjects(ctx, partstream.ListOptions{Limit: 50})
//	for _, o := range objects {
//	    fmt.Printf("%s (%d bytes)\n", o.Filename, o.Size)
//	}
func (c *Client) ListObjects(ctx context.Context, opts ListOptions) ([]Object, error) {
	if opts.Limit < 0 || opts.Limit > 1000 {
		return nil, &ValidationError{Field: "limit", Message: "must be between 1 and 1000"}
	}
	if opts.Offset < 0 {
		return nil, &ValidationError{Field: "offset", Message: "must not be negative"}
	}

	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/objects"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp listResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Objects, nil
}

// DeleteObject removes a completed object.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}
	var resp deleteResponse
	return c.call(ctx, http.MethodDelete, objectPath(key), nil, &resp, true)
}

// Download streams an object, or the requested range of it, to w.
//
// Example:
//
//	f, _ := os.Create("backup.tar")
//	defer f.Close()
//	info, err := client.Download(ctx, key, f, partstream.DownloadOptions{})
func (c *Client) Download(ctx context.Context, key string, w io.Writer, opts DownloadOptions) (*DownloadInfo, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+objectPath(key), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, false)
	req.Header.Del("Accept")

	if r := opts.Range; r != nil {
		if r.Start < 0 || (r.End >= 0 && r.End < r.Start) {
			return nil, &ValidationError{Field: "range", Message: fmt.Sprintf("invalid range %d-%d", r.Start, r.End)}
		}
		header := "bytes=" + strconv.FormatInt(r.Start, 10) + "-"
		if r.End >= 0 {
			header += strconv.FormatInt(r.End, 10)
		}
		req.Header.Set("Range", header)
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	info := &DownloadInfo{
		ObjectSize:   resp.ContentLength,
		ContentRange: resp.Header.Get("Content-Range"),
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         strings.Trim(resp.Header.Get("ETag"), `"`),
	}
	if resp.StatusCode == http.StatusPartialContent {
		info.ObjectSize = parseContentRangeTotal(info.ContentRange)
	}

	var reader io.Reader = resp.Body
	if opts.OnProgress != nil {
		reader = &progressDownloadReader{
			reader:     resp.Body,
			totalBytes: resp.ContentLength,
			onProgress: opts.OnProgress,
		}
	}

	n, err := io.Copy(w, reader)
	info.Size = n
	if err != nil {
		return info, fmt.Errorf("downloading object: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return info, fmt.Errorf("downloading object: got %d of %d bytes", n, resp.ContentLength)
	}
	return info, nil
}

// parseContentRangeTotal returns the total from "bytes a-b/total", or -1.
func parseContentRangeTotal(header string) int64 {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return -1
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}

// progressDownloadReader wraps an io.Reader to track download progress.
type progressDownloadReader struct {
	reader     io.Reader
	totalBytes int64
	downloaded int64
	onProgress func(DownloadProgress)
}

func (pr *progressDownloadReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		pr.onProgress(DownloadProgress{
			BytesDownloaded: pr.downloaded,
			TotalBytes:      pr.totalBytes,
		})
	}
	return n, err
}
