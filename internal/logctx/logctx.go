// Package logctx decorates slog records with request and call data carried in
// a context.Context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler adds "req", "rpc" and "batch" groups to records logged with a
// context that carries the matching data.
type Handler struct {
	slog.Handler
}

// New returns a logger whose records are decorated from the context.
func New(h slog.Handler) *slog.Logger {
	return slog.New(Handler{Handler: h})
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("user_agent", rd.UserAgent),
			slog.Bool("safe", rd.Safe),
		))
	}

	if bd, ok := ctx.Value(batchDataKey{}).(*BatchData); ok {
		r.AddAttrs(slog.Group("batch",
			slog.Int("size", bd.Size),
			slog.Int("index", bd.Index),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

// RPCMessage identifies the JSON-RPC message being processed. Type is
// "request" or "notification".
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type requestDataKey struct{}

// RequestData describes the transport request that carried the message.
type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
	Safe       bool
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

// RequestDataFrom returns the request data attached to ctx, if any.
func RequestDataFrom(ctx context.Context) (*RequestData, bool) {
	rd, ok := ctx.Value(requestDataKey{}).(*RequestData)
	return rd, ok
}

type batchDataKey struct{}

// BatchData locates an element within a batch.
type BatchData struct {
	Size  int
	Index int
}

func WithBatchData(ctx context.Context, data *BatchData) context.Context {
	return context.WithValue(ctx, batchDataKey{}, data)
}
