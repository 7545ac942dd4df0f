// Package client starts scans against a scanstream server and tracks their
// progress from the event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/lyallcooper/scanstream/internal/sse"
	"github.com/lyallcooper/scanstream/internal/types"
)

// ErrNoBody is returned when a scan response carries no readable body
var ErrNoBody = errors.New("no response body")

// maxErrorBody caps how much of a failed response is read for its message
const maxErrorBody = 64 << 10

// StatusError is returned when the server rejects a scan before streaming
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Client talks to a scanstream server
type Client struct {
	baseURL string
	http    *http.Client
	log     logr.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It must not impose an overall timeout
// shorter than the longest expected scan.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the logger
func WithLogger(log logr.Logger) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSession creates an idle session bound to this client
func (c *Client) NewSession(opts ...SessionOption) *Session {
	s := &Session{client: c, state: State{Phase: PhaseIdle}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartScan creates a new session and starts req on it. Each call returns an
// independent session.
func (c *Client) StartScan(ctx context.Context, req types.ScanRequest, opts ...SessionOption) (*Session, error) {
	s := c.NewSession(opts...)
	if err := s.Start(ctx, req); err != nil {
		return nil, err
	}
	return s, nil
}

// Stream posts req and dispatches every decoded event to h until the stream
// ends. A cancelled ctx is reported as the context's error.
func (c *Client) Stream(ctx context.Context, req types.ScanRequest, h sse.Handler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode scan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrNoBody
	}

	c.log.V(1).Info("scan stream opened", "url", req.URL)
	return sse.NewDecoder(resp.Body).Decode(ctx, h)
}

// errorMessage prefers the error field of a JSON body, then the status line,
// then a fixed message when the body cannot be parsed
func errorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return msgStartFailed
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return msgStartFailed
	}
	if body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
