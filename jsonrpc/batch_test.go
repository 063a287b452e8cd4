package jsonrpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func decodeArray(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var resps []map[string]interface{}
	if err := json.Unmarshal(data, &resps); err != nil {
		t.Fatalf("failed to parse batch response %q: %v", data, err)
	}
	return resps
}

func TestBatch_MixedResultsKeepOrder(t *testing.T) {
	e := newTestEndpoint(t, nil)
	body := `[
		{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1},
		{"jsonrpc":"2.0","method":"missing","id":2},
		{"jsonrpc":"2.0","method":"add","params":{"a":3,"b":4},"id":3}
	]`
	resps := decodeArray(t, e.Handle(context.Background(), []byte(body)))
	if len(resps) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(resps))
	}
	if resps[0]["id"] != float64(1) || resps[0]["result"] != float64(3) {
		t.Errorf("unexpected first response %v", resps[0])
	}
	if code, _ := errorOf(t, resps[1]); code != CodeMethodNotFound || resps[1]["id"] != float64(2) {
		t.Errorf("unexpected second response %v", resps[1])
	}
	if resps[2]["id"] != float64(3) || resps[2]["result"] != float64(7) {
		t.Errorf("unexpected third response %v", resps[2])
	}
}

func TestBatch_NotificationsDropped(t *testing.T) {
	e := newTestEndpoint(t, nil)
	body := `[
		{"jsonrpc":"2.0","method":"add","params":[1,1]},
		{"jsonrpc":"2.0","method":"add","params":[2,2],"id":"b"},
		{"jsonrpc":"2.0","method":"fail"}
	]`
	resps := decodeArray(t, e.Handle(context.Background(), []byte(body)))
	if len(resps) != 1 || resps[0]["id"] != "b" {
		t.Fatalf("expected only the response for id b, got %v", resps)
	}

	allNotifications := `[{"jsonrpc":"2.0","method":"add","params":[1,1]},{"jsonrpc":"2.0","method":"fail"}]`
	if out := e.Handle(context.Background(), []byte(allNotifications)); len(out) != 0 {
		t.Fatalf("expected no output, got %s", out)
	}
}

func TestBatch_InvalidElements(t *testing.T) {
	e := newTestEndpoint(t, nil)
	body := `[1, {"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}, "x", []]`
	resps := decodeArray(t, e.Handle(context.Background(), []byte(body)))
	if len(resps) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(resps))
	}
	for _, i := range []int{0, 2, 3} {
		if code, _ := errorOf(t, resps[i]); code != CodeInvalidRequest {
			t.Errorf("element %d: got code %d", i, code)
		}
		if resps[i]["id"] != nil {
			t.Errorf("element %d: expected null id, got %v", i, resps[i]["id"])
		}
	}
	if resps[1]["result"] != float64(3) {
		t.Errorf("valid element not processed: %v", resps[1])
	}
}

func TestBatch_InvalidNotificationsDropped(t *testing.T) {
	e := newTestEndpoint(t, nil)
	if out := e.Handle(context.Background(), []byte(`[{"jsonrpc":"1.0","method":"add"}]`)); len(out) != 0 {
		t.Fatalf("expected no output, got %s", out)
	}

	body := `[{"jsonrpc":"1.0","method":"add"}, {"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}, 7]`
	resps := decodeArray(t, e.Handle(context.Background(), []byte(body)))
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %v", resps)
	}
	if resps[0]["id"] != float64(1) || resps[0]["result"] != float64(3) {
		t.Errorf("unexpected first response %v", resps[0])
	}
	if code, _ := errorOf(t, resps[1]); code != CodeInvalidRequest || resps[1]["id"] != nil {
		t.Errorf("unexpected second response %v", resps[1])
	}
}

func TestBatch_Rejected(t *testing.T) {
	three := `[{"jsonrpc":"2.0","method":"add","params":[1,1],"id":1},{"jsonrpc":"2.0","method":"add","params":[1,1],"id":2},{"jsonrpc":"2.0","method":"add","params":[1,1],"id":3}]`
	tests := []struct {
		name    string
		mutate  func(*Options)
		body    string
		code    int
		message string
	}{
		{"empty", nil, `[]`, CodeInvalidRequest, "Invalid batch request"},
		{"empty with whitespace", nil, " [ ] ", CodeInvalidRequest, "Invalid batch request"},
		{"too large", func(o *Options) { o.MaxBatchSize = 2 }, three, CodeInvalidRequest, "Batch size exceeds maximum of 2"},
		{"disabled", func(o *Options) { o.EnableBatch = false }, three, CodeInvalidRequest, "Batch requests are not enabled"},
		{"malformed", nil, `[{"jsonrpc":"2.0"`, CodeParseError, "Invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEndpoint(t, tt.mutate)
			out := e.Handle(context.Background(), []byte(tt.body))
			if strings.HasPrefix(strings.TrimSpace(string(out)), "[") {
				t.Fatalf("expected a single error object, got %s", out)
			}
			resp := decodeObject(t, out)
			code, msg := errorOf(t, resp)
			if code != tt.code || msg != tt.message {
				t.Errorf("got %d %q, want %d %q", code, msg, tt.code, tt.message)
			}
			if resp["id"] != nil {
				t.Errorf("expected null id, got %v", resp["id"])
			}
		})
	}
}

func TestBatch_UnlimitedSize(t *testing.T) {
	e := newTestEndpoint(t, func(o *Options) { o.MaxBatchSize = 0 })
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 150; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"jsonrpc":"2.0","method":"add","params":[1,1],"id":1}`)
	}
	b.WriteString("]")
	if resps := decodeArray(t, e.Handle(context.Background(), []byte(b.String()))); len(resps) != 150 {
		t.Fatalf("expected 150 responses, got %d", len(resps))
	}
}

func TestBatch_ConcurrentKeepsOrder(t *testing.T) {
	e := newTestEndpoint(t, func(o *Options) { o.BatchConcurrency = 4 })
	var inFlight, peak atomic.Int32
	mustAdd(t, e, "sleep", Func[*testApp](func(_ context.Context, p struct {
		Ms int `json:"ms"`
	}) (int, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Duration(p.Ms) * time.Millisecond)
		return p.Ms, nil
	}))

	body := `[
		{"jsonrpc":"2.0","method":"sleep","params":{"ms":40},"id":1},
		{"jsonrpc":"2.0","method":"sleep","params":{"ms":30},"id":2},
		{"jsonrpc":"2.0","method":"sleep","params":{"ms":20},"id":3},
		{"jsonrpc":"2.0","method":"sleep","params":{"ms":10},"id":4}
	]`
	resps := decodeArray(t, e.Handle(context.Background(), []byte(body)))
	if len(resps) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(resps))
	}
	for i, resp := range resps {
		if resp["id"] != float64(i+1) {
			t.Fatalf("response %d has id %v", i, resp["id"])
		}
	}
	if peak.Load() < 2 {
		t.Fatalf("expected elements to run concurrently, peak was %d", peak.Load())
	}
}

func TestBatch_PanicInElement(t *testing.T) {
	e := newTestEndpoint(t, func(o *Options) { o.BatchConcurrency = 2 })
	body := `[{"jsonrpc":"2.0","method":"panic","id":1},{"jsonrpc":"2.0","method":"add","params":[1,1],"id":2}]`
	resps := decodeArray(t, e.Handle(context.Background(), []byte(body)))
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if code, _ := errorOf(t, resps[0]); code != CodeInternalError {
		t.Errorf("got code %d", code)
	}
	if resps[1]["result"] != float64(2) {
		t.Errorf("unexpected second response %v", resps[1])
	}
}
