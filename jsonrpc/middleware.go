package jsonrpc

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Middleware observes calls around method invocation.
//
// Protocol:
//   - Before runs ahead of method lookup and invocation. A non-nil error
//     aborts the call; the method is not invoked.
//   - After runs only when the method returned successfully. A non-nil error
//     replaces the result.
//
// Returning a *JSONRPCError selects the code and message sent to the caller;
// any other error is reported as an internal error.
type Middleware[C any] interface {
	Before(ctx context.Context, req *Request, app C) error
	After(ctx context.Context, req *Request, result interface{}, app C) error
}

// BeforeFunc adapts a function to a Middleware that only has a Before hook.
type BeforeFunc[C any] func(ctx context.Context, req *Request, app C) error

func (f BeforeFunc[C]) Before(ctx context.Context, req *Request, app C) error {
	return f(ctx, req, app)
}

func (f BeforeFunc[C]) After(context.Context, *Request, interface{}, C) error {
	return nil
}

// AfterFunc adapts a function to a Middleware that only has an After hook.
type AfterFunc[C any] func(ctx context.Context, req *Request, result interface{}, app C) error

func (f AfterFunc[C]) Before(context.Context, *Request, C) error {
	return nil
}

func (f AfterFunc[C]) After(ctx context.Context, req *Request, result interface{}, app C) error {
	return f(ctx, req, result, app)
}

// Phase selects the chain a middleware is added to.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// ParsePhase accepts "before" or "after" in any case.
func ParsePhase(s string) (Phase, error) {
	switch Phase(strings.ToLower(strings.TrimSpace(s))) {
	case PhaseBefore:
		return PhaseBefore, nil
	case PhaseAfter:
		return PhaseAfter, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
}

// Pipeline holds the ordered before and after chains. Hooks run in insertion
// order. It is safe to add middleware while calls are in flight; a call sees
// the chain as it was when the call started the phase.
type Pipeline[C any] struct {
	mu     sync.RWMutex
	before []Middleware[C]
	after  []Middleware[C]
}

// Add appends m to the chain for phase.
func (p *Pipeline[C]) Add(m Middleware[C], phase Phase) error {
	if m == nil {
		return fmt.Errorf("jsonrpc: nil middleware")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch phase {
	case PhaseBefore:
		p.before = append(p.before, m)
	case PhaseAfter:
		p.after = append(p.after, m)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPhase, phase)
	}
	return nil
}

// Len returns the number of hooks in each chain.
func (p *Pipeline[C]) Len() (before, after int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.before), len(p.after)
}

// RunBefore runs the before chain, stopping at the first failure.
func (p *Pipeline[C]) RunBefore(ctx context.Context, req *Request, app C) error {
	p.mu.RLock()
	chain := p.before
	p.mu.RUnlock()
	for _, m := range chain {
		if err := m.Before(ctx, req, app); err != nil {
			return err
		}
	}
	return nil
}

// RunAfter runs the after chain, stopping at the first failure.
func (p *Pipeline[C]) RunAfter(ctx context.Context, req *Request, result interface{}, app C) error {
	p.mu.RLock()
	chain := p.after
	p.mu.RUnlock()
	for _, m := range chain {
		if err := m.After(ctx, req, result, app); err != nil {
			return err
		}
	}
	return nil
}
