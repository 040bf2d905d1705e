// Package httpworker dispatches plans to workers over HTTP.
//
// A plan is sent as a multipart/form-data POST carrying a "name" field and
// the plan payload as a "file" part. Any 2xx response with a non-empty body
// is the result.
package httpworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/fentz26/flightops/internal/connectors"
)

// DefaultPath is the worker endpoint appended to the worker address.
const DefaultPath = "/process"

// DefaultMaxResultBytes bounds the response body read from a worker.
const DefaultMaxResultBytes = 64 << 20

// Connector implements connectors.Connector over HTTP.
type Connector struct {
	client         *http.Client
	path           string
	maxResultBytes int64
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Connector) { h.client = c }
}

// WithPath sets the endpoint path appended to worker addresses.
func WithPath(path string) Option {
	return func(h *Connector) {
		if path != "" {
			h.path = path
		}
	}
}

// WithMaxResultBytes bounds result size.
func WithMaxResultBytes(n int64) Option {
	return func(h *Connector) {
		if n > 0 {
			h.maxResultBytes = n
		}
	}
}

// New creates an HTTP connector. Timeouts come from the caller's context.
func New(opts ...Option) *Connector {
	h := &Connector{
		client:         &http.Client{},
		path:           DefaultPath,
		maxResultBytes: DefaultMaxResultBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if !strings.HasPrefix(h.path, "/") {
		h.path = "/" + h.path
	}
	return h
}

// Name returns the connector identifier.
func (h *Connector) Name() string {
	return "httpworker"
}

// Process posts the job to address and returns the response body.
func (h *Connector) Process(ctx context.Context, address string, job connectors.Job) ([]byte, error) {
	body, contentType, err := encodeJob(job)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(address, "/") + h.path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d", connectors.ErrWorkerStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxResultBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > h.maxResultBytes {
		return nil, fmt.Errorf("result exceeds %d bytes", h.maxResultBytes)
	}
	if len(data) == 0 {
		return nil, connectors.ErrEmptyResult
	}
	return data, nil
}

func encodeJob(job connectors.Job) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("name", job.Name); err != nil {
		return nil, "", fmt.Errorf("write name field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", fileName(job))
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.WriteString(fw, job.Payload); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func fileName(job connectors.Job) string {
	if job.Name != "" {
		return job.Name
	}
	return fmt.Sprintf("plan-%d", job.PlanID)
}
