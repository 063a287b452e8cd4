// Package jsonrpc implements a JSON-RPC 2.0 engine
// (https://www.jsonrpc.org/specification) with an optional safe-mode wire
// encoding.
//
// # Basic Usage
//
// Create an endpoint, register methods, and serve via HTTP:
//
//	e := jsonrpc.NewEndpoint[*App](app, nil)
//	e.AddMethod("add", jsonrpc.Func[*App](func(ctx context.Context, p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	}))
//	http.Handle("/rpc", e.HTTPHandler(nil))
//
// Params structs use json tags to name parameters:
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
// Typed handlers accept both named ({"a":1,"b":2}) and positional ([1,2])
// params. Every field is required unless tagged omitempty. Handlers that need
// full control implement Handler directly and decode Params themselves.
//
// # Transport Boundary
//
// Endpoint.Handle turns request bytes into response bytes and never fails:
// malformed input, unknown methods, handler errors and panics all become
// JSON-RPC error responses. Notifications, and batches made only of
// notifications, produce no output.
//
// # Safe Mode
//
// JSON cannot tell a date or a big integer from a string. In safe mode params
// and results are tagged so they survive the round trip:
//
//	"hello"                 -> "S:hello"
//	time.Time               -> "D:2024-01-02T03:04:05Z"
//	*big.Int                -> "12345678901234567890n"
//	NaN, +Inf, -Inf         -> "NaN", "Infinity", "-Infinity"
//
// A safe-mode peer advertises itself with the X-RPC-Safe-Enabled: true
// header. Use NewSafeEndpoint for a server in safe mode.
//
// # Error Handling
//
// Return a *JSONRPCError to choose the code and message:
//
//	return nil, jsonrpc.NewInvalidParamsError("division by zero")
//
// Any other error becomes an internal error (-32603) whose message is
// replaced by "Internal error" when Options.SanitizeErrors is set.
//
// # Middleware
//
// Before hooks run ahead of method lookup; after hooks run once the method
// succeeds. The first failing hook aborts the call:
//
//	e.Use(jsonrpc.BeforeFunc[*App](func(ctx context.Context, req *jsonrpc.Request, app *App) error {
//	    return nil
//	}), jsonrpc.PhaseBefore)
//
// # Introspection
//
// With Options.EnableIntrospection the endpoint serves __rpc.listMethods,
// __rpc.describe, __rpc.describeAll, __rpc.version and __rpc.capabilities.
// The prefix is configurable and application methods may not use it.
package jsonrpc
