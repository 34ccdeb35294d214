package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/narvanalabs/hotfix/internal/builder/hash"
)

// ErrIntegrity is returned when fetched bytes do not match their handle.
var ErrIntegrity = errors.New("blob does not match its handle")

// maxBlobSize bounds a single download.
const maxBlobSize = 256 << 20

// HTTPClient talks to a delivery server. It is a Fetcher for loaders and a
// Sink for publishers.
type HTTPClient struct {
	base   string
	token  string
	client *http.Client
	retry  *RetryPolicy

	mu   sync.Mutex
	refs map[string]int
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = hc
	}
}

// WithRetry replaces the retry policy for downloads.
func WithRetry(p *RetryPolicy) ClientOption {
	return func(c *HTTPClient) {
		c.retry = p
	}
}

// NewHTTPClient creates a client for the server at endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		base:   strings.TrimRight(endpoint, "/"),
		client: &http.Client{Timeout: timeout},
		retry:  DefaultRetryPolicy(),
		refs:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}

// Fetch downloads a blob, verifies it against its handle and takes a
// reference. Transient failures are retried per the client's policy.
func (c *HTTPClient) Fetch(ctx context.Context, handle string) ([]byte, error) {
	if !hash.IsValid(handle) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}

	var data []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.fetchOnce(ctx, handle)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.refs[handle]++
	c.mu.Unlock()
	return data, nil
}

func (c *HTTPClient) fetchOnce(ctx context.Context, handle string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/blobs/"+url.PathEscape(handle), nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", handle, err)
	}
	if hash.Bytes(data) != handle {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, handle)
	}
	return data, nil
}

// Release drops a reference taken by Fetch.
func (c *HTTPClient) Release(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[handle] <= 1 {
		delete(c.refs, handle)
		return
	}
	c.refs[handle]--
}

// Refs returns the outstanding references on handle.
func (c *HTTPClient) Refs(handle string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[handle]
}

// Catalog downloads the server's catalog.
func (c *HTTPClient) Catalog(ctx context.Context) (*Catalog, error) {
	resp, err := c.do(ctx, http.MethodGet, "/catalog", nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Put uploads a blob and returns the handle the server assigned.
func (c *HTTPClient) Put(ctx context.Context, data []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, "/blobs", data, "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("uploading blob: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusCreated, http.StatusOK); err != nil {
		return "", err
	}
	var out struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if out.Handle != hash.Bytes(data) {
		return "", fmt.Errorf("%w: server returned %s", ErrIntegrity, out.Handle)
	}
	return out.Handle, nil
}

// WriteCatalog uploads a catalog.
func (c *HTTPClient) WriteCatalog(ctx context.Context, cat *Catalog) error {
	data, err := cat.Marshal()
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, "/catalog", data, "application/json")
	if err != nil {
		return fmt.Errorf("uploading catalog: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK, http.StatusNoContent)
}

// StatusError is a non-success response from the server.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("delivery server returned %d", e.Status)
	}
	return fmt.Sprintf("delivery server returned %d: %s", e.Status, e.Message)
}

// Is maps 404 responses to ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

func checkStatus(resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{Status: resp.StatusCode, Message: body.Message}
}
