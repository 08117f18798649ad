// Package partstream is a client for the partstream upload server.
//
// Large files are sent as independently uploaded parts, each authorized by
// a short-lived part token, and assembled server-side on completion:
//
//	client, err := partstream.NewClient(partstream.ClientConfig{
//	    BaseURL:  "https://files.example.com",
//	    APIToken: "pst_abc123...",
//	})
//	obj, err := client.UploadFile(ctx, "backup.tar", partstream.UploadOptions{})
package partstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client is the partstream API client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	apiToken string

	// control carries JSON calls under the configured timeout; idempotent
	// ones go through its retry loop.
	control *retryablehttp.Client
	// transfer carries part bodies and downloads with no client timeout.
	transfer *http.Client
}

// NewClient creates a new client with the given configuration.
//
// Example:
//
//	client, err := partstream.NewClient(partstream.ClientConfig{
//	    BaseURL:  "https://files.example.com",
//	    APIToken: "pst_abc123...",
//	})
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &ValidationError{Field: "BaseURL", Message: "is required"}
	}

	parsedURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &ValidationError{Field: "BaseURL", Message: "must be a valid URL"}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, &ValidationError{Field: "BaseURL", Message: "must use http or https protocol"}
	}
	if parsedURL.Host == "" {
		return nil, &ValidationError{Field: "BaseURL", Message: "must include a host"}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	var transport http.RoundTripper
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		transport = cfg.HTTPClient.Transport
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			fmt.Fprintln(os.Stderr, "[partstream SDK] WARNING: TLS certificate verification is disabled. This is insecure.")
		}
		transport = t
	}

	retryMax := cfg.RetryMax
	switch {
	case retryMax == 0:
		retryMax = 3
	case retryMax < 0:
		retryMax = 0
	}

	control := retryablehttp.NewClient()
	control.HTTPClient = &http.Client{Timeout: timeout, Transport: transport}
	control.RetryMax = retryMax
	control.RetryWaitMin = 200 * time.Millisecond
	control.RetryWaitMax = 5 * time.Second
	control.Logger = nil
	// Hand the last response back so its error body can be decoded.
	control.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		control:  control,
		transfer: &http.Client{Transport: transport},
	}, nil
}

// String returns a string representation with the API token redacted.
func (c *Client) String() string {
	tokenDisplay := "none"
	if c.apiToken != "" {
		tokenDisplay = "***redacted***"
	}
	return fmt.Sprintf("PartstreamClient(baseURL=%q, apiToken=%s)", c.baseURL, tokenDisplay)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call sends a JSON control request and decodes the response into target.
// Idempotent calls are retried on network errors, 429 and 5xx.
func (c *Client) call(ctx context.Context, method, path string, body, target any, idempotent bool) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = data
	}

	var resp *http.Response
	if idempotent {
		req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req.Request, payload != nil)
		resp, err = c.control.Do(req)
		if err != nil {
			return fmt.Errorf("executing request: %w", err)
		}
	} else {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req, payload != nil)
		resp, err = c.control.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request: %w", err)
		}
	}

	return handleResponse(resp, target)
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
}

// handleResponse checks for errors and decodes the JSON response.
func handleResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// decodeError reads an error body into an APIError.
func decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		body.Error = resp.Status
	}
	return newAPIError(resp.StatusCode, body)
}

// objectPath escapes each segment of an object key.
func objectPath(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/api/objects/" + strings.Join(segments, "/")
}

// validateObjectKey rejects keys the server could never have issued.
func validateObjectKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "key", Message: "is required"}
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return &ValidationError{Field: "key", Message: "must be a relative object key"}
	}
	return nil
}

func validateUploadID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "uploadID", Message: "is required"}
	}
	return nil
}
