// Package qrcode is a client for the QR reader microservice that decodes
// every QR payload found in an image.
package qrcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one decode request.
const DefaultTimeout = 60 * time.Second

// Decoder decodes QR payloads from image bytes in the order the service
// reports them.
type Decoder interface {
	Decode(ctx context.Context, image []byte, contentType string) ([]string, error)
}

// Kind classifies a decode failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindDecode      Kind = "decode"
	KindUnavailable Kind = "unavailable"
)

// Error is returned for every failed decode.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("QR reader %s (%d): %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("QR reader %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" when err is not a decode error.
func KindOf(err error) Kind {
	var qerr *Error
	if errors.As(err, &qerr) {
		return qerr.Kind
	}
	return ""
}

// Client talks to the reader over HTTP.
type Client struct {
	baseURL    string
	adminKey   string
	httpClient *http.Client
}

// NewClient creates a Client. A zero timeout means DefaultTimeout.
func NewClient(baseURL, adminKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type readResponse struct {
	Results []string `json:"results"`
	Error   string   `json:"error"`
	Detail  string   `json:"detail"`
}

// Decode posts the image as multipart form field "file" to /read.
func (c *Client) Decode(ctx context.Context, image []byte, contentType string) ([]string, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="proof"`},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return nil, &Error{Kind: KindDecode, Msg: "failed to build request", Err: err}
	}
	if _, err := part.Write(image); err != nil {
		return nil, &Error{Kind: KindDecode, Msg: "failed to build request", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &Error{Kind: KindDecode, Msg: "failed to build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/read", body)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Msg: "invalid reader URL", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-admin-key", c.adminKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Msg: "request timed out", Err: err}
		}
		return nil, &Error{Kind: KindUnavailable, Msg: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Msg: "reading response timed out", Err: err}
		}
		return nil, &Error{Kind: KindUnavailable, Msg: "failed to read response", Err: err}
	}

	var parsed readResponse
	parseErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(string(raw), 200)
		if parseErr == nil && parsed.Error != "" {
			msg = parsed.Error
		} else if parseErr == nil && parsed.Detail != "" {
			msg = parsed.Detail
		}
		kind := KindDecode
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindUnavailable
		}
		return nil, &Error{Kind: kind, Status: resp.StatusCode, Msg: msg}
	}
	if parseErr != nil {
		return nil, &Error{Kind: KindDecode, Status: resp.StatusCode, Msg: "invalid response", Err: parseErr}
	}
	if parsed.Results == nil {
		return []string{}, nil
	}
	return parsed.Results, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
