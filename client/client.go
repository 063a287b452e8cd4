// Package client calls JSON-RPC 2.0 endpoints over HTTP.
//
//	c := client.New("http://localhost:8080/rpc", nil)
//	var sum int
//	err := c.Call(ctx, "add", map[string]int{"a": 1, "b": 2}, &sum)
//
// Server errors are returned as *jsonrpc.JSONRPCError. A safe-mode client
// tags params and results like a safe-mode endpoint and refuses responses
// from servers that do not advertise safe mode.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnehpets/onerpc/jsonrpc"
)

// DefaultTimeout bounds each HTTP exchange when Config leaves it unset.
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes caps a response body when Config leaves it unset.
const DefaultMaxResponseBytes = 16 << 20

// Config configures a Client.
type Config struct {
	SafeMode bool
	// Timeout applies to the default HTTP client. Ignored when HTTPClient is set.
	Timeout time.Duration
	// MaxResponseBytes rejects larger response bodies.
	MaxResponseBytes int64
	// Headers are sent with every request.
	Headers map[string]string
	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
	// Logger receives debug events. Nil discards them.
	Logger *slog.Logger
}

// Client is a JSON-RPC 2.0 HTTP client. It is safe for concurrent use.
type Client struct {
	url   string
	http  *http.Client
	codec jsonrpc.Codec
	log   *slog.Logger

	maxResponse int64

	mu      sync.RWMutex
	headers http.Header
}

// New creates a client for the endpoint at url. A nil cfg uses defaults.
func New(url string, cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	hc := c.HTTPClient
	if hc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	maxResponse := c.MaxResponseBytes
	if maxResponse <= 0 {
		maxResponse = DefaultMaxResponseBytes
	}

	headers := make(http.Header)
	for k, v := range c.Headers {
		headers.Set(k, v)
	}
	if c.SafeMode {
		headers.Set(jsonrpc.SafeHeader, "true")
	}

	return &Client{
		url:     url,
		http:    hc,
		codec:   jsonrpc.Codec{Safe: c.SafeMode},
		log:     logger,
		headers: headers,

		maxResponse: maxResponse,
	}
}

// NewSafe creates a client with safe mode forced on. cfg is not modified.
func NewSafe(url string, cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.SafeMode = true
	return New(url, &c)
}

// URL returns the endpoint address.
func (c *Client) URL() string {
	return c.url
}

// SafeMode reports whether the client tags params and results.
func (c *Client) SafeMode() bool {
	return c.codec.Safe
}

// SetAuthToken sends token as a bearer token on subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.headers.Set("Authorization", "Bearer "+token)
	c.mu.Unlock()
}

// ClearAuth stops sending the Authorization header.
func (c *Client) ClearAuth() {
	c.mu.Lock()
	c.headers.Del("Authorization")
	c.mu.Unlock()
}

// Call invokes method and decodes its result into result, which may be nil
// to discard it.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	id := newID()
	req, err := c.newRequest(method, params, id)
	if err != nil {
		return err
	}
	body, err := c.codec.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}

	c.log.DebugContext(ctx, "client.call", "method", method, "id", string(id))
	data, err := c.post(ctx, body, true)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return jsonrpc.NewInternalError("Empty response body")
	}

	resp, err := c.codec.DecodeResponse(data)
	if err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID != nil && !bytes.Equal(resp.ID, id) {
		return jsonrpc.NewInternalError("Response id does not match request id")
	}
	return c.decodeResult(resp.Result, result)
}

// Notify sends a notification. The server sends no response body.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	req, err := c.newRequest(method, params, nil)
	if err != nil {
		return err
	}
	body, err := c.codec.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}
	c.log.DebugContext(ctx, "client.notify", "method", method)
	_, err = c.post(ctx, body, false)
	return err
}

// BatchCall is one element of a batch. Result, when non-nil, receives the
// decoded result. Notifications get no response and their Result is never
// touched.
type BatchCall struct {
	Method       string
	Params       interface{}
	Result       interface{}
	Notification bool
}

// BatchResult reports the outcome of the BatchCall at the same index. Err is
// nil for notifications and successful calls.
type BatchResult struct {
	Err error
}

// Batch sends calls as one batch request. The returned slice has one entry
// per call, in order. A non-nil error means the batch as a whole failed, for
// example because the server rejected its size.
func (c *Client) Batch(ctx context.Context, calls []BatchCall) ([]BatchResult, error) {
	if len(calls) == 0 {
		return nil, jsonrpc.NewInvalidRequestError("Invalid batch request")
	}

	reqs := make([]json.RawMessage, len(calls))
	index := make(map[string]int, len(calls))
	for i, call := range calls {
		var id json.RawMessage
		if !call.Notification {
			id = newID()
			index[string(id)] = i
		}
		req, err := c.newRequest(call.Method, call.Params, id)
		if err != nil {
			return nil, err
		}
		if reqs[i], err = c.codec.EncodeRequest(req); err != nil {
			return nil, fmt.Errorf("client: encode request %d: %w", i, err)
		}
	}
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("client: encode batch: %w", err)
	}

	c.log.DebugContext(ctx, "client.batch", "size", len(calls), "calls", len(index))
	data, err := c.post(ctx, body, len(index) > 0)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(calls))
	if len(index) == 0 {
		return results, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, jsonrpc.NewInternalError("Empty response body")
	}

	resps, err := c.codec.DecodeBatchResponse(data)
	if err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}

	answered := make([]bool, len(calls))
	for _, resp := range resps {
		i, ok := index[string(resp.ID)]
		if !ok {
			// Only batch-level failures come back without a known id.
			if resp.Error != nil && resp.ID == nil {
				return nil, resp.Error
			}
			continue
		}
		answered[i] = true
		if resp.Error != nil {
			results[i].Err = resp.Error
			continue
		}
		results[i].Err = c.decodeResult(resp.Result, calls[i].Result)
	}
	for i, call := range calls {
		if !call.Notification && !answered[i] {
			results[i].Err = jsonrpc.NewInternalError("No response for request")
		}
	}
	return results, nil
}

func (c *Client) newRequest(method string, params interface{}, id json.RawMessage) (*jsonrpc.Request, error) {
	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, Method: method, ID: id}
	if params != nil {
		raw, err := c.codec.MarshalValue(params)
		if err != nil {
			return nil, fmt.Errorf("client: encode params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

func (c *Client) decodeResult(raw json.RawMessage, result interface{}) error {
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := c.codec.UnmarshalValue(raw, result); err != nil {
		return fmt.Errorf("client: decode result: %w", err)
	}
	return nil
}

// post sends body and returns the response body. checkSafe enables the
// safe-mode marker check for exchanges that carry results.
func (c *Client) post(ctx context.Context, body []byte, checkSafe bool) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	c.mu.RLock()
	for k, v := range c.headers {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	c.mu.RUnlock()
	httpReq.Header.Set("Content-Type", jsonrpc.ContentTypeJSON)
	httpReq.Header.Set("Accept", jsonrpc.ContentTypeJSON)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("client: POST %s: %w", c.url, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil, jsonrpc.NewInternalError("HTTP error: " + strconv.Itoa(httpResp.StatusCode) + " " + http.StatusText(httpResp.StatusCode))
	}
	if checkSafe && c.codec.Safe && !jsonrpc.IsSafeMarker(httpResp.Header.Get(jsonrpc.SafeHeader)) {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil, jsonrpc.ErrSafeModeMismatch
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	if int64(len(data)) > c.maxResponse {
		return nil, jsonrpc.NewInternalError("Response exceeds " + strconv.FormatInt(c.maxResponse, 10) + " bytes")
	}
	return data, nil
}

func newID() json.RawMessage {
	id, _ := json.Marshal(uuid.NewString())
	return id
}
