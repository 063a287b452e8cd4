package jsonrpc

import (
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/internal/logctx"
)

const (
	// RequestIDHeader carries the request id. It is echoed on every response
	// and generated when the caller does not send one.
	RequestIDHeader = "X-Request-Id"

	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"

	// DefaultMaxBodyBytes limits request bodies when HTTPOptions does not.
	DefaultMaxBodyBytes = 1 << 20
)

var (
	jsonMediaType = contenttype.NewMediaType(ContentTypeJSON)
	cborMediaType = contenttype.NewMediaType(ContentTypeCBOR)
)

// HTTPOptions configures the HTTP binding.
type HTTPOptions struct {
	// MaxBodyBytes limits the request body. Zero uses DefaultMaxBodyBytes and
	// a negative value disables the limit.
	MaxBodyBytes int64
	// Processors run after the request id is assigned and before the
	// request is checked, e.g. security headers or access logging.
	Processors []endpoint.Processor
}

type httpParams struct {
	Safe string `header:"X-RPC-Safe-Enabled"`
	Body []byte `body:""`
}

// HTTPHandler serves the endpoint over HTTP.
//
// Requests must be POSTs carrying application/json or application/cbor. The
// response mirrors the request encoding and is 204 No Content when there is
// nothing to send back. Safe-mode endpoints mark every response with the
// SafeHeader.
func (e *Endpoint[C]) HTTPHandler(opts *HTTPOptions) http.Handler {
	var o HTTPOptions
	if opts != nil {
		o = *opts
	}
	limit := o.MaxBodyBytes
	if limit == 0 {
		limit = DefaultMaxBodyBytes
	}

	processors := make([]endpoint.Processor, 0, len(o.Processors)+3)
	processors = append(processors, endpoint.ProcessorFunc(e.requestContext))
	processors = append(processors, o.Processors...)
	processors = append(processors, endpoint.ProcessorFunc(checkHTTPRequest), endpoint.MaxBodyBytes(limit))
	return endpoint.Handler(e.serveHTTP, processors...)
}

// requestContext assigns the request id, marks safe-mode responses and
// attaches request data for logging.
func (e *Endpoint[C]) requestContext(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	if e.opts.SafeMode {
		w.Header().Set(SafeHeader, "true")
	}

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Safe:       IsSafeMarker(r.Header.Get(SafeHeader)),
	})
	return next(w, r.WithContext(ctx))
}

func checkHTTPRequest(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	if _, ok := requestMediaType(r); !ok {
		return endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json or application/cbor", nil)
	}
	return next(w, r)
}

// requestMediaType reports the request encoding. A missing Content-Type is
// treated as JSON.
func requestMediaType(r *http.Request) (contenttype.MediaType, bool) {
	if r.Header.Get("Content-Type") == "" {
		return jsonMediaType, true
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil {
		return contenttype.MediaType{}, false
	}
	switch {
	case ctype.Matches(jsonMediaType):
		return jsonMediaType, true
	case ctype.Matches(cborMediaType):
		return cborMediaType, true
	}
	return contenttype.MediaType{}, false
}

func (e *Endpoint[C]) serveHTTP(w http.ResponseWriter, r *http.Request, p httpParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	if e.opts.SafeMode && e.opts.WarnOnUnsafe && !IsSafeMarker(p.Safe) {
		e.log.WarnContext(ctx, "rpc.unsafe_peer", "header", SafeHeader)
	}

	mt, _ := requestMediaType(r)
	isCBOR := mt.Matches(cborMediaType)

	var out []byte
	if isCBOR {
		body, err := cborToJSON(p.Body)
		if err != nil {
			e.log.WarnContext(ctx, "cbor.decode_failed", "error", err)
			out = e.encode(ctx, newErrorResponse(nil, NewParseError("Invalid CBOR")))
		} else {
			out = e.Handle(ctx, body)
		}
	} else {
		out = e.Handle(ctx, p.Body)
	}

	if len(out) == 0 {
		return &endpoint.NoContentRenderer{}, nil
	}
	if isCBOR {
		encoded, err := jsonToCBOR(out)
		if err != nil {
			return nil, endpoint.Error(http.StatusInternalServerError, "", err)
		}
		return &endpoint.BytesRenderer{ContentType: ContentTypeCBOR, Body: encoded}, nil
	}
	return &endpoint.BytesRenderer{ContentType: ContentTypeJSON, Body: out}, nil
}

// IsSafeMarker reports whether a SafeHeader value advertises safe mode.
func IsSafeMarker(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
