// Package client is the Go client for the pupervisord HTTP API.
//
// A Client mirrors the connect / request / disconnect cycle of the manager:
// Connect verifies the daemon answers, each method issues one request, and
// Disconnect tears down idle connections and any open log buses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pupctl/internal/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
	ErrClosed     = errors.New("client disconnected")
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Err        string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Err != "":
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	case e.Err != "":
		return e.Err
	case e.Message != "":
		return e.Message
	default:
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

type Client struct {
	base *url.URL
	http *http.Client
	// long shares the transport of http but has no timeout. It carries the
	// bus and the actions that wait for a process to exit; ctx bounds them.
	long   *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	buses  map[*Bus]struct{}
	closed bool
}

type Option func(*Client)

// WithHTTPClient replaces the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request/response call. Bus streams and the
// stop, restart and delete actions are bounded by their context only, since
// the daemon answers those after the process has exited.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(addr string, opts ...Option) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon address %q: %w", addr, err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	c := &Client{
		base:   base,
		http:   &http.Client{Transport: transport, Timeout: 10 * time.Second},
		logger: zap.NewNop(),
		buses:  make(map[*Bus]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.long = &http.Client{Transport: c.http.Transport}
	return c, nil
}

// Connect builds a client and checks that the daemon is reachable.
func Connect(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c, err := New(addr, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := c.Health(ctx); err != nil {
		c.Disconnect()
		return nil, err
	}
	c.logger.Debug("connected to daemon", zap.String("addr", c.base.String()))
	return c, nil
}

// Disconnect closes every bus opened by this client and drops idle
// connections. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	buses := make([]*Bus, 0, len(c.buses))
	for b := range c.buses {
		buses = append(buses, b)
	}
	c.mu.Unlock()

	for _, b := range buses {
		b.Close()
	}
	c.http.CloseIdleConnections()
	c.logger.Debug("disconnected from daemon", zap.String("addr", c.base.String()))
}

func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context) ([]models.Process, error) {
	var out []models.Process
	if err := c.do(ctx, http.MethodGet, "/api/processes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Describe(ctx context.Context, name string) (*models.Process, error) {
	var out models.Process
	if err := c.do(ctx, http.MethodGet, processPath(name, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, req models.StartRequest) (*models.Process, error) {
	var out models.Process
	if err := c.do(ctx, http.MethodPost, "/api/processes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Start(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, processPath(name, "start"), nil, nil)
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.send(ctx, c.long, http.MethodPost, processPath(name, "stop"), nil, nil)
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.send(ctx, c.long, http.MethodPost, processPath(name, "restart"), nil, nil)
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.send(ctx, c.long, http.MethodDelete, processPath(name, ""), nil, nil)
}

// Logs returns the daemon's buffered log entries for name, newest last.
func (c *Client) Logs(ctx context.Context, name string, limit int) ([]models.LogEntry, error) {
	path := "/api/logs/" + url.PathEscape(name)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.LogEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func processPath(name, action string) string {
	p := "/api/processes/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.base.String(), "/") + path
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.send(ctx, c.http, method, path, body, out)
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body, out interface{}) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("daemon request", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Err = er.Error
			apiErr.Message = er.Message
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
