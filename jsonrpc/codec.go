package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Codec encodes and decodes JSON-RPC envelopes. When Safe is set, params and
// results go through the safe-mode type tagging rules.
//
// The zero value is a plain JSON codec.
type Codec struct {
	Safe bool
}

// DecodeRequest parses a single request envelope.
//
// It returns a ParseError for malformed JSON and an InvalidRequest error for
// JSON that is not a request object. When the id could be read, the returned
// request is non-nil even if err is set, so the error response can echo it.
// Protocol version and method checks are left to the endpoint.
func (c Codec) DecodeRequest(data []byte) (*Request, error) {
	if !json.Valid(data) {
		return nil, NewParseError("Invalid JSON")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewInvalidRequestError("Invalid Request")
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, NewInvalidRequestError("Invalid Request")
	}

	req := &Request{}
	if id, ok := members["id"]; ok {
		if !validID(id) {
			return nil, NewInvalidRequestError("Invalid Request: id must be a string, number or null")
		}
		if !isNullID(id) {
			req.ID = id
		}
	}
	if v, ok := members["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &req.JSONRPC); err != nil {
			return req, NewInvalidRequestError("Invalid Request: jsonrpc must be a string")
		}
	}
	if v, ok := members["method"]; ok {
		if err := json.Unmarshal(v, &req.Method); err != nil {
			return req, NewInvalidRequestError("Invalid Request: method must be a string")
		}
	}
	if v, ok := members["params"]; ok && !isNullID(v) {
		req.Params = v
	}
	return req, nil
}

// DecodeBatch splits a batch envelope into its raw elements.
func (c Codec) DecodeBatch(data []byte) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, NewParseError("Invalid JSON")
	}
	return elems, nil
}

// EncodeRequest serializes a request, filling in the protocol version.
func (c Codec) EncodeRequest(req *Request) ([]byte, error) {
	out := *req
	if out.JSONRPC == "" {
		out.JSONRPC = Version
	}
	return json.Marshal(&out)
}

// EncodeResponse serializes a single response.
func (c Codec) EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// EncodeBatch serializes responses as one JSON array.
func (c Codec) EncodeBatch(resps []*Response) ([]byte, error) {
	if resps == nil {
		resps = []*Response{}
	}
	return json.Marshal(resps)
}

// DecodeResponse parses a single response envelope.
func (c Codec) DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecodeBatchResponse parses a response array. A single error object is
// accepted too, since servers answer batch-level failures with one response.
func (c Codec) DecodeBatchResponse(data []byte) ([]*Response, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		resp, err := c.DecodeResponse(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Response{resp}, nil
	}
	var resps []*Response
	if err := json.Unmarshal(trimmed, &resps); err != nil {
		return nil, err
	}
	return resps, nil
}

// MarshalValue encodes a param or result value.
func (c Codec) MarshalValue(v interface{}) (json.RawMessage, error) {
	if !c.Safe {
		return json.Marshal(v)
	}
	return marshalSafe(v)
}

// UnmarshalValue decodes a param or result value into v.
func (c Codec) UnmarshalValue(data json.RawMessage, v interface{}) error {
	if !c.Safe {
		return json.Unmarshal(data, v)
	}
	return unmarshalSafe(data, v)
}

// isBatch reports whether data holds a JSON array at the top level.
func isBatch(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}
