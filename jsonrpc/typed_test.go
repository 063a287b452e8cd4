package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type person struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Nickname string `json:"nickname,omitempty"`
	Ignored  string `json:"-"`
	internal string
}

func TestFunc_Binding(t *testing.T) {
	h := Func[struct{}](func(_ context.Context, p person) (string, error) {
		out := p.Name
		if p.Nickname != "" {
			out += " (" + p.Nickname + ")"
		}
		return out, nil
	})

	tests := []struct {
		name     string
		params   string
		want     string
		wantCode int
		wantMsg  string
	}{
		{"named", `{"name":"Ada","age":36}`, "Ada", 0, ""},
		{"named optional", `{"name":"Ada","age":36,"nickname":"Countess"}`, "Ada (Countess)", 0, ""},
		{"positional", `["Ada",36,"Countess"]`, "Ada (Countess)", 0, ""},
		{"positional wrong count", `["Ada",36]`, "", CodeInvalidParams, "invalid number of params"},
		{"missing required", `{"name":"Ada"}`, "", CodeInvalidParams, "missing param: age"},
		{"no params", ``, "", CodeInvalidParams, "missing param: name"},
		{"wrong type", `{"name":"Ada","age":"old"}`, "", CodeInvalidParams, ""},
		{"scalar", `"Ada"`, "", CodeInvalidParams, "Invalid params"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h(context.Background(), NewParams(json.RawMessage(tt.params), false), struct{}{})
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if got != tt.want {
					t.Fatalf("got %v, want %q", got, tt.want)
				}
				return
			}
			var rpcErr *JSONRPCError
			if !errors.As(err, &rpcErr) || rpcErr.Code != tt.wantCode {
				t.Fatalf("expected code %d, got %v", tt.wantCode, err)
			}
			if tt.wantMsg != "" && rpcErr.Message != tt.wantMsg {
				t.Fatalf("got message %q, want %q", rpcErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestFunc_EmptyAndNonStructParams(t *testing.T) {
	ping := Func[struct{}](func(context.Context, struct{}) (string, error) {
		return "pong", nil
	})
	for _, params := range []string{``, `[]`, `{}`} {
		if got, err := ping(context.Background(), NewParams(json.RawMessage(params), false), struct{}{}); err != nil || got != "pong" {
			t.Fatalf("params %q: got %v, %v", params, got, err)
		}
	}

	sum := Func[struct{}](func(_ context.Context, nums []int) (int, error) {
		total := 0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})
	if got, err := sum(context.Background(), NewParams(json.RawMessage(`[1,2,3]`), false), struct{}{}); err != nil || got != 6 {
		t.Fatalf("got %v, %v", got, err)
	}

	lookup := Func[struct{}](func(_ context.Context, m map[string]int) (int, error) {
		return m["k"], nil
	})
	if got, err := lookup(context.Background(), NewParams(json.RawMessage(`{"k":9}`), false), struct{}{}); err != nil || got != 9 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestFuncWithContext(t *testing.T) {
	h := FuncWithContext[*testApp](func(_ context.Context, p struct {
		Greeting string `json:"greeting"`
	}, app *testApp) (string, error) {
		return p.Greeting + ", " + app.name, nil
	})
	got, err := h(context.Background(), NewParams(json.RawMessage(`{"greeting":"hello"}`), false), &testApp{name: "world"})
	if err != nil || got != "hello, world" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestFunc_SafeParams(t *testing.T) {
	h := Func[struct{}](func(_ context.Context, p person) (string, error) {
		return p.Name, nil
	})
	got, err := h(context.Background(), NewParams(json.RawMessage(`["S:Ada",36,"S:"]`), true), struct{}{})
	if err != nil || got != "Ada" {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = h(context.Background(), NewParams(json.RawMessage(`{"name":"S:Grace","age":85}`), true), struct{}{})
	if err != nil || got != "Grace" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestParams(t *testing.T) {
	p := NewParams(nil, false)
	if !p.IsZero() || p.IsArray() || p.Safe() {
		t.Fatalf("unexpected zero params state")
	}
	if v, err := p.Value(); v != nil || err != nil {
		t.Fatalf("Value() = %v, %v", v, err)
	}
	var dst map[string]interface{}
	if err := p.Decode(&dst); err == nil {
		t.Fatalf("expected error decoding absent params")
	}

	p = NewParams(json.RawMessage(` [1, "a"]`), false)
	if !p.IsArray() {
		t.Fatalf("expected array params")
	}
	v, err := p.Value()
	if err != nil {
		t.Fatal(err)
	}
	list := v.([]interface{})
	if list[0] != float64(1) || list[1] != "a" {
		t.Fatalf("unexpected value %v", list)
	}

	p = NewParams(json.RawMessage(`{"n":"12345678901234567890n","s":"S:x","i":3}`), true)
	v, err = p.Value()
	if err != nil {
		t.Fatal(err)
	}
	obj := v.(map[string]interface{})
	if obj["s"] != "x" || obj["i"] != int64(3) {
		t.Fatalf("unexpected value %v", obj)
	}
	if n, ok := obj["n"].(interface{ String() string }); !ok || n.String() != "12345678901234567890" {
		t.Fatalf("expected big integer, got %T %v", obj["n"], obj["n"])
	}
}
