package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/mnehpets/onerpc/internal/logctx"
)

// Endpoint is a JSON-RPC 2.0 engine. It owns a method registry and a
// middleware pipeline and turns request bytes into response bytes.
//
// C is the application context handed to every handler and hook. The engine
// never inspects it. Request-scoped values travel in the context.Context.
type Endpoint[C any] struct {
	opts     Options
	app      C
	codec    Codec
	registry *Registry[C]
	pipeline Pipeline[C]
	log      *slog.Logger
}

// NewEndpoint creates an engine. A nil opts uses DefaultOptions.
func NewEndpoint[C any](app C, opts *Options) *Endpoint[C] {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	o.IntrospectionPrefix = o.prefix()

	e := &Endpoint[C]{
		opts:     o,
		app:      app,
		codec:    Codec{Safe: o.SafeMode},
		registry: NewRegistry[C](o.IntrospectionPrefix),
		log:      o.logger(),
	}
	if o.EnableIntrospection {
		e.registerIntrospection()
	}
	return e
}

// NewSafeEndpoint creates an engine with safe mode forced on. opts is not
// modified.
func NewSafeEndpoint[C any](app C, opts *Options) *Endpoint[C] {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	o.SafeMode = true
	return NewEndpoint(app, &o)
}

// AddMethod registers a handler. At most one MethodConfig is used.
func (e *Endpoint[C]) AddMethod(name string, h Handler[C], cfg ...MethodConfig) error {
	var c MethodConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if err := e.registry.Register(name, h, c); err != nil {
		e.log.Warn("method.register_failed", "method", name, "error", err)
		return err
	}
	e.log.Debug("method.registered", "method", name)
	return nil
}

// RemoveMethod unregisters a method. Introspection methods cannot be removed.
func (e *Endpoint[C]) RemoveMethod(name string) {
	if e.registry.IsReserved(name) {
		return
	}
	e.registry.Unregister(name)
	e.log.Debug("method.removed", "method", name)
}

// ListMethods returns the sorted names of the application's methods.
func (e *Endpoint[C]) ListMethods() []string {
	return e.registry.UserNames()
}

// GetMethod returns a copy of the registry entry for name.
func (e *Endpoint[C]) GetMethod(name string) (Method[C], bool) {
	return e.registry.Lookup(name)
}

// Use adds middleware to the pipeline.
func (e *Endpoint[C]) Use(m Middleware[C], phase Phase) error {
	if !e.opts.EnableMiddleware {
		return ErrMiddlewareDisabled
	}
	if err := e.pipeline.Add(m, phase); err != nil {
		return err
	}
	e.log.Debug("middleware.added", "phase", string(phase))
	return nil
}

// Registry returns the method registry.
func (e *Endpoint[C]) Registry() *Registry[C] {
	return e.registry
}

// SafeMode reports whether params and results use safe-mode encoding.
// Transports surface it to peers as the SafeHeader marker.
func (e *Endpoint[C]) SafeMode() bool {
	return e.opts.SafeMode
}

// Options returns the options the endpoint was built with.
func (e *Endpoint[C]) Options() Options {
	return e.opts
}

// Context returns the application context passed to handlers.
func (e *Endpoint[C]) Context() C {
	return e.app
}

// Logger returns the endpoint's logger.
func (e *Endpoint[C]) Logger() *slog.Logger {
	return e.log
}

// Handle processes one request or batch message and returns the encoded
// response. The result is empty when nothing must be sent back, which
// happens for notifications and batches made only of notifications.
func (e *Endpoint[C]) Handle(ctx context.Context, body []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "rpc.panic", "panic", r, "stack", string(debug.Stack()))
			out = e.encode(ctx, newErrorResponse(nil, mapError(panicError(r), e.opts.SanitizeErrors)))
		}
	}()

	if isBatch(body) {
		return e.handleBatch(ctx, body)
	}
	resp := e.handleMessage(ctx, body)
	if resp == nil {
		return nil
	}
	return e.encode(ctx, resp)
}

// handleMessage decodes and dispatches a single request object. Only data
// that cannot be read as a request object at all is answered without an id.
func (e *Endpoint[C]) handleMessage(ctx context.Context, data []byte) *Response {
	req, err := e.codec.DecodeRequest(data)
	if err != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		rpcErr := mapError(err, false)
		e.log.WarnContext(ctx, "rpc.rejected", "code", rpcErr.Code, "error", rpcErr.Message)
		if req != nil && req.IsNotification() {
			return nil
		}
		return newErrorResponse(id, rpcErr)
	}
	return e.HandleRequest(ctx, req)
}

// HandleRequest runs an already decoded request through validation, the
// middleware pipeline and the handler. It returns nil for notifications,
// including ones that fail validation.
func (e *Endpoint[C]) HandleRequest(ctx context.Context, req *Request) *Response {
	if req == nil {
		return newErrorResponse(nil, NewInvalidRequestError("Invalid Request"))
	}

	msg := &logctx.RPCMessage{Method: req.Method, ID: string(req.ID), Type: "request"}
	notification := req.IsNotification()
	if notification {
		msg.Type = "notification"
	}
	ctx = logctx.WithRPCMessage(ctx, msg)

	if rpcErr := e.validate(req); rpcErr != nil {
		e.log.WarnContext(ctx, "rpc.rejected", "code", rpcErr.Code, "error", rpcErr.Message)
		if notification {
			return nil
		}
		return newErrorResponse(req.ID, rpcErr)
	}

	e.log.DebugContext(ctx, "rpc.request")
	result, err := e.call(ctx, req)
	if err == nil && !notification {
		var raw json.RawMessage
		raw, err = e.codec.MarshalValue(result)
		if err == nil {
			return newResult(req.ID, raw)
		}
	}
	if err != nil {
		rpcErr := mapError(err, e.opts.SanitizeErrors)
		e.log.WarnContext(ctx, "rpc.error", "code", rpcErr.Code, "message", rpcErr.Message, "error", err)
		if !notification {
			return newErrorResponse(req.ID, rpcErr)
		}
	}
	return nil
}

func (e *Endpoint[C]) validate(req *Request) *JSONRPCError {
	if req.JSONRPC != Version {
		return NewInvalidRequestError(`Invalid Request: jsonrpc must be "2.0"`)
	}
	if strings.TrimSpace(req.Method) == "" {
		return NewInvalidRequestError("Invalid Request: method is required")
	}
	if e.opts.EnableValidation && !isNullID(req.Params) {
		trimmed := bytes.TrimSpace(req.Params)
		if trimmed[0] != '{' && trimmed[0] != '[' {
			return NewInvalidRequestError("Invalid Request: params must be an object or array")
		}
	}
	return nil
}

// call runs the before chain, the handler and the after chain. Panics in any
// of them are returned as errors.
func (e *Endpoint[C]) call(ctx context.Context, req *Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "rpc.panic", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, panicError(r)
		}
	}()

	if e.opts.EnableMiddleware {
		if err := e.pipeline.RunBefore(ctx, req, e.app); err != nil {
			return nil, err
		}
	}

	m, ok := e.registry.Lookup(req.Method)
	if !ok {
		return nil, NewMethodNotFoundError(req.Method)
	}

	result, err = m.Handler(ctx, Params{raw: req.Params, codec: e.codec}, e.app)
	if err != nil {
		return nil, err
	}

	if e.opts.EnableMiddleware {
		if err := e.pipeline.RunAfter(ctx, req, result, e.app); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// encode serializes a response. A response that cannot be marshalled, for
// example because of unsupported error data, is replaced by an internal error.
func (e *Endpoint[C]) encode(ctx context.Context, resp *Response) []byte {
	data, err := e.codec.EncodeResponse(resp)
	if err == nil {
		return data
	}
	e.log.ErrorContext(ctx, "rpc.encode_failed", "error", err)
	fallback := newErrorResponse(resp.ID, NewInternalError(internalMessage))
	data, err = e.codec.EncodeResponse(fallback)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":null}`)
	}
	return data
}
