package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Version is the only protocol version accepted by the endpoint.
const Version = "2.0"

var nullID = json.RawMessage("null")

// Request is a decoded JSON-RPC request envelope.
//
// Params and ID are kept as raw JSON: params are bound by the handler, and the
// id is echoed back verbatim.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id (absent or null).
func (r *Request) IsNotification() bool {
	return isNullID(r.ID)
}

// Response is a JSON-RPC response envelope. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string
	Result  json.RawMessage
	Error   *JSONRPCError
	ID      json.RawMessage
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// MarshalJSON writes the members in jsonrpc, result|error, id order and always
// emits the id, using null when it is unknown.
func (r Response) MarshalJSON() ([]byte, error) {
	version := r.JSONRPC
	if version == "" {
		version = Version
	}
	id := r.ID
	if len(id) == 0 {
		id = nullID
	}
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			Error   *JSONRPCError   `json:"error"`
			ID      json.RawMessage `json:"id"`
		}{version, r.Error, id})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		ID      json.RawMessage `json:"id"`
	}{version, result, id})
}

// UnmarshalJSON decodes a response envelope, rejecting envelopes that carry
// both or neither of result and error.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *JSONRPCError   `json:"error"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	hasResult := raw.Result != nil
	if hasResult == (raw.Error != nil) {
		return NewInternalError("response must have exactly one of result or error")
	}
	r.JSONRPC = raw.JSONRPC
	r.Result = raw.Result
	r.Error = raw.Error
	r.ID = raw.ID
	if isNullID(r.ID) {
		r.ID = nil
	}
	return nil
}

func newResult(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

func newErrorResponse(id json.RawMessage, err *JSONRPCError) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

func isNullID(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullID)
}

// validID reports whether id is a string, number or null.
func validID(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 {
		return true
	}
	switch trimmed[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}
