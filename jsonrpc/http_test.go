package jsonrpc

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/mnehpets/onerpc/endpoint"
)

func postJSON(h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPHandler_Call(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	rec := postJSON(h, `{"jsonrpc":"2.0","method":"add","params":{"a":2,"b":3},"id":1}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != ContentTypeJSON {
		t.Fatalf("unexpected Content-Type %q", got)
	}
	if got := rec.Body.String(); got != `{"jsonrpc":"2.0","result":5,"id":1}` {
		t.Fatalf("unexpected body %s", got)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Header().Get(SafeHeader) != "" {
		t.Fatal("non-safe endpoint must not set the safe marker")
	}
}

func TestHTTPHandler_RejectedRequests(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
		wantBody    string
	}{
		{"get", http.MethodGet, "application/json", http.StatusMethodNotAllowed, "JSON-RPC requires POST method"},
		{"put", http.MethodPut, "application/json", http.StatusMethodNotAllowed, "JSON-RPC requires POST method"},
		{"text", http.MethodPost, "text/plain", http.StatusUnsupportedMediaType, "Content-Type must be application/json or application/cbor"},
		{"form", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType, "Content-Type must be application/json or application/cbor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/rpc", strings.NewReader(`{}`))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
			if tt.wantStatus == http.StatusMethodNotAllowed && rec.Header().Get("Allow") != http.MethodPost {
				t.Fatalf("expected Allow header, got %q", rec.Header().Get("Allow"))
			}
		})
	}
}

func TestHTTPHandler_ContentTypeVariants(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	for _, ct := range []string{"", "application/json", "application/json; charset=utf-8"} {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"appName","id":1}`))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"result":"test"`) {
			t.Errorf("Content-Type %q: got %d %s", ct, rec.Code, rec.Body.String())
		}
	}
}

func TestHTTPHandler_NoContent(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"add","params":{"a":1,"b":1}}`,
		`[{"jsonrpc":"2.0","method":"add","params":{"a":1,"b":1}},{"jsonrpc":"2.0","method":"fail"}]`,
	} {
		rec := postJSON(h, body, nil)
		if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
			t.Errorf("body %s: expected empty 204, got %d %q", body, rec.Code, rec.Body.String())
		}
	}
}

func TestHTTPHandler_ProtocolErrorsAre200(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	for body, code := range map[string]int{
		`{"jsonrpc":`: CodeParseError,
		``:            CodeParseError,
		`{"jsonrpc":"2.0","method":"nope","id":1}`: CodeMethodNotFound,
		`[]`: CodeInvalidRequest,
	} {
		rec := postJSON(h, body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("body %q: expected 200, got %d", body, rec.Code)
		}
		if got, _ := errorOf(t, decodeObject(t, rec.Body.Bytes())); got != code {
			t.Errorf("body %q: expected code %d, got %d", body, code, got)
		}
	}
}

func TestHTTPHandler_RequestID(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	rec := postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, http.Header{RequestIDHeader: {"abc-123"}})
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	a := postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, nil).Header().Get(RequestIDHeader)
	b := postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, nil).Header().Get(RequestIDHeader)
	if a == "" || a == b {
		t.Fatalf("expected distinct generated ids, got %q and %q", a, b)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHTTPHandler_SafeMode(t *testing.T) {
	var logs syncBuffer
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	e := NewSafeEndpoint(&testApp{name: "safe"}, &opts)
	mustAdd(t, e, "appName", func(_ context.Context, _ Params, app *testApp) (interface{}, error) {
		return app.name, nil
	})
	h := e.HTTPHandler(nil)

	rec := postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, http.Header{SafeHeader: {"true"}})
	if rec.Header().Get(SafeHeader) != "true" {
		t.Fatal("expected safe marker on response")
	}
	if got := rec.Body.String(); got != `{"jsonrpc":"2.0","result":"S:safe","id":1}` {
		t.Fatalf("unexpected body %s", got)
	}
	if strings.Contains(logs.String(), "rpc.unsafe_peer") {
		t.Fatal("unexpected unsafe peer warning for a safe caller")
	}

	rec = postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":2}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"S:safe"`) {
		t.Fatalf("unsafe peer should still be served, got %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(logs.String(), "rpc.unsafe_peer") {
		t.Fatalf("expected unsafe peer warning, logs: %s", logs.String())
	}
}

func TestHTTPHandler_CBOR(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(nil)
	body, err := cbor.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "add",
		"params":  map[string]interface{}{"a": 40, "b": 2},
		"id":      7,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", ContentTypeCBOR)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != ContentTypeCBOR {
		t.Fatalf("unexpected Content-Type %q", got)
	}
	var resp map[string]interface{}
	if err := cbor.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["jsonrpc"] != "2.0" || resp["result"] != uint64(42) || resp["id"] != uint64(7) {
		t.Fatalf("unexpected response %#v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte{0xff, 0x00}))
	req.Header.Set("Content-Type", ContentTypeCBOR)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	resp = nil
	if err := cbor.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	errObj, ok := resp["error"].(map[interface{}]interface{})
	if !ok || errObj["message"] != "Invalid CBOR" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestHTTPHandler_BodyLimit(t *testing.T) {
	h := newTestEndpoint(t, nil).HTTPHandler(&HTTPOptions{MaxBodyBytes: 16})
	rec := postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	h = newTestEndpoint(t, nil).HTTPHandler(&HTTPOptions{MaxBodyBytes: -1})
	rec = postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the limit disabled, got %d", rec.Code)
	}
}

func TestHTTPHandler_Processors(t *testing.T) {
	var seenID string
	proc := endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		seenID = w.Header().Get(RequestIDHeader)
		w.Header().Set("X-Frame-Options", "DENY")
		if r.Header.Get("Authorization") == "" {
			return endpoint.Error(http.StatusUnauthorized, "", nil)
		}
		return next(w, r)
	})
	h := newTestEndpoint(t, nil).HTTPHandler(&HTTPOptions{Processors: []endpoint.Processor{proc}})

	rec := postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if seenID == "" {
		t.Fatal("processor should run after the request id is assigned")
	}

	rec = postJSON(h, `{"jsonrpc":"2.0","method":"appName","id":1}`, http.Header{"Authorization": {"Bearer x"}})
	if rec.Code != http.StatusOK || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("unexpected response %d %v", rec.Code, rec.Header())
	}
}

func TestIsSafeMarker(t *testing.T) {
	for v, want := range map[string]bool{"true": true, "TRUE": true, " true ": true, "1": false, "": false, "false": false} {
		if got := IsSafeMarker(v); got != want {
			t.Errorf("IsSafeMarker(%q) = %v, want %v", v, got, want)
		}
	}
}
