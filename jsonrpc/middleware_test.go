package jsonrpc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingMiddleware struct {
	name      string
	log       *[]string
	beforeErr error
	afterErr  error
}

func (m recordingMiddleware) Before(_ context.Context, req *Request, _ *testApp) error {
	*m.log = append(*m.log, m.name+".before:"+req.Method)
	return m.beforeErr
}

func (m recordingMiddleware) After(_ context.Context, req *Request, result interface{}, _ *testApp) error {
	*m.log = append(*m.log, m.name+".after:"+req.Method)
	return m.afterErr
}

func TestMiddleware_Order(t *testing.T) {
	var log []string
	e := newTestEndpoint(t, nil)
	mustAdd(t, e, "work", func(context.Context, Params, *testApp) (interface{}, error) {
		log = append(log, "handler")
		return "done", nil
	})
	for _, m := range []struct {
		mw    Middleware[*testApp]
		phase Phase
	}{
		{recordingMiddleware{name: "a", log: &log}, PhaseBefore},
		{recordingMiddleware{name: "b", log: &log}, PhaseBefore},
		{recordingMiddleware{name: "c", log: &log}, PhaseAfter},
		{recordingMiddleware{name: "d", log: &log}, PhaseAfter},
	} {
		if err := e.Use(m.mw, m.phase); err != nil {
			t.Fatalf("Use: %v", err)
		}
	}

	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"work","id":1}`))
	if string(out) != `{"jsonrpc":"2.0","result":"done","id":1}` {
		t.Fatalf("unexpected output %s", out)
	}
	want := "a.before:work,b.before:work,handler,c.after:work,d.after:work"
	if got := strings.Join(log, ","); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		before      error
		after       error
		wantCode    int
		wantMessage string
		wantLog     string
	}{
		{
			name:        "before protocol error skips handler",
			method:      "work",
			before:      NewServerError(-32010, "Unauthorized"),
			wantCode:    -32010,
			wantMessage: "Unauthorized",
			wantLog:     "m.before:work",
		},
		{
			name:        "before plain error is sanitized",
			method:      "work",
			before:      errors.New("token store down"),
			wantCode:    CodeInternalError,
			wantMessage: "Internal error",
			wantLog:     "m.before:work",
		},
		{
			name:        "before runs ahead of method lookup",
			method:      "missing",
			before:      NewInvalidRequestError("rejected"),
			wantCode:    CodeInvalidRequest,
			wantMessage: "rejected",
			wantLog:     "m.before:missing",
		},
		{
			name:        "after error replaces result",
			method:      "work",
			after:       NewInternalError("result rejected"),
			wantCode:    CodeInternalError,
			wantMessage: "result rejected",
			wantLog:     "m.before:work,handler,m.after:work",
		},
		{
			name:        "after skipped when handler fails",
			method:      "broken",
			wantCode:    CodeInternalError,
			wantMessage: "Internal error",
			wantLog:     "m.before:work,handler",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log []string
			e := newTestEndpoint(t, nil)
			mustAdd(t, e, "work", func(context.Context, Params, *testApp) (interface{}, error) {
				log = append(log, "handler")
				return "done", nil
			})
			mustAdd(t, e, "broken", func(context.Context, Params, *testApp) (interface{}, error) {
				log = append(log, "handler")
				return nil, errors.New("broken")
			})
			m := recordingMiddleware{name: "m", log: &log, beforeErr: tt.before, afterErr: tt.after}
			if err := e.Use(m, PhaseBefore); err != nil {
				t.Fatalf("Use: %v", err)
			}
			if err := e.Use(m, PhaseAfter); err != nil {
				t.Fatalf("Use: %v", err)
			}

			resp := decodeObject(t, e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"`+tt.method+`","id":1}`)))
			code, msg := errorOf(t, resp)
			if code != tt.wantCode || msg != tt.wantMessage {
				t.Errorf("got %d %q, want %d %q", code, msg, tt.wantCode, tt.wantMessage)
			}
			got := strings.ReplaceAll(strings.Join(log, ","), "before:broken", "before:work")
			if got != tt.wantLog {
				t.Errorf("got log %s, want %s", got, tt.wantLog)
			}
		})
	}
}

func TestMiddleware_FuncAdapters(t *testing.T) {
	var seen []string
	e := newTestEndpoint(t, nil)
	before := BeforeFunc[*testApp](func(_ context.Context, req *Request, app *testApp) error {
		seen = append(seen, "before:"+app.name)
		return nil
	})
	after := AfterFunc[*testApp](func(_ context.Context, _ *Request, result interface{}, _ *testApp) error {
		if n, ok := result.(int); ok && n > 100 {
			return NewServerError(-32020, "result too large")
		}
		seen = append(seen, "after")
		return nil
	})
	if err := e.Use(before, PhaseBefore); err != nil {
		t.Fatal(err)
	}
	if err := e.Use(after, PhaseAfter); err != nil {
		t.Fatal(err)
	}

	e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
	if got := strings.Join(seen, ","); got != "before:test,after" {
		t.Fatalf("got %s", got)
	}

	resp := decodeObject(t, e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[100,2],"id":2}`)))
	if code, _ := errorOf(t, resp); code != -32020 {
		t.Fatalf("got code %d", code)
	}

	// Adapters implement the other hook as a no-op.
	if err := before.After(context.Background(), nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := after.Before(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
}

func TestMiddleware_NotificationBeforeFailureIsSilent(t *testing.T) {
	e := newTestEndpoint(t, nil)
	_ = e.Use(BeforeFunc[*testApp](func(context.Context, *Request, *testApp) error {
		return errors.New("denied")
	}), PhaseBefore)
	if out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,2]}`)); len(out) != 0 {
		t.Fatalf("expected no output, got %s", out)
	}
}

func TestUse_Errors(t *testing.T) {
	e := newTestEndpoint(t, func(o *Options) { o.EnableMiddleware = false })
	hook := BeforeFunc[*testApp](func(context.Context, *Request, *testApp) error { return nil })
	if err := e.Use(hook, PhaseBefore); !errors.Is(err, ErrMiddlewareDisabled) {
		t.Fatalf("expected ErrMiddlewareDisabled, got %v", err)
	}

	e = newTestEndpoint(t, nil)
	if err := e.Use(hook, Phase("during")); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
	if err := e.Use(nil, PhaseBefore); err == nil {
		t.Fatalf("expected error for nil middleware")
	}
}

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in      string
		want    Phase
		wantErr bool
	}{
		{"before", PhaseBefore, false},
		{" AFTER ", PhaseAfter, false},
		{"around", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePhase(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPipeline_Len(t *testing.T) {
	var p Pipeline[*testApp]
	hook := AfterFunc[*testApp](func(context.Context, *Request, interface{}, *testApp) error { return nil })
	_ = p.Add(hook, PhaseAfter)
	_ = p.Add(hook, PhaseAfter)
	if before, after := p.Len(); before != 0 || after != 2 {
		t.Fatalf("got %d/%d", before, after)
	}
}
