package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/mnehpets/onerpc/internal/logctx"
)

// handleBatch processes an array message. Batch-level problems produce one
// error response with a null id; otherwise every element is dispatched on its
// own and the non-notification responses are returned in input order.
func (e *Endpoint[C]) handleBatch(ctx context.Context, body []byte) []byte {
	elems, err := e.codec.DecodeBatch(body)
	if err != nil {
		rpcErr := mapError(err, false)
		e.log.WarnContext(ctx, "batch.rejected", "code", rpcErr.Code, "error", rpcErr.Message)
		return e.encode(ctx, newErrorResponse(nil, rpcErr))
	}
	if rpcErr := e.checkBatch(len(elems)); rpcErr != nil {
		e.log.WarnContext(ctx, "batch.rejected", "size", len(elems), "error", rpcErr.Message)
		return e.encode(ctx, newErrorResponse(nil, rpcErr))
	}
	e.log.DebugContext(ctx, "batch.received", "size", len(elems))

	slots := make([]*Response, len(elems))
	g := new(errgroup.Group)
	g.SetLimit(max(1, e.opts.BatchConcurrency))
	for i, raw := range elems {
		g.Go(func() error {
			ectx := logctx.WithBatchData(ctx, &logctx.BatchData{Size: len(elems), Index: i})
			slots[i] = e.handleElement(ectx, raw)
			return nil
		})
	}
	_ = g.Wait()

	resps := make([]*Response, 0, len(slots))
	for _, resp := range slots {
		if resp != nil {
			resps = append(resps, resp)
		}
	}
	if len(resps) == 0 {
		return nil
	}

	data, err := e.codec.EncodeBatch(resps)
	if err != nil {
		// Encode element by element so one bad response does not lose the rest.
		parts := make([]json.RawMessage, len(resps))
		for i, resp := range resps {
			parts[i] = e.encode(ctx, resp)
		}
		data, _ = json.Marshal(parts)
	}
	return data
}

func (e *Endpoint[C]) checkBatch(n int) *JSONRPCError {
	switch {
	case !e.opts.EnableBatch:
		return NewInvalidRequestError("Batch requests are not enabled")
	case n == 0:
		return NewInvalidRequestError("Invalid batch request")
	case e.opts.MaxBatchSize > 0 && n > e.opts.MaxBatchSize:
		return NewInvalidRequestError(fmt.Sprintf("Batch size exceeds maximum of %d", e.opts.MaxBatchSize))
	}
	return nil
}

// handleElement dispatches one batch element. It runs on an errgroup
// goroutine, so it recovers its own panics.
func (e *Endpoint[C]) handleElement(ctx context.Context, raw json.RawMessage) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "rpc.panic", "panic", r, "stack", string(debug.Stack()))
			resp = newErrorResponse(nil, mapError(panicError(r), e.opts.SanitizeErrors))
		}
	}()
	return e.handleMessage(ctx, raw)
}
