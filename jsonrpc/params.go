package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Params gives a handler access to the params of a call. Decoding honours the
// endpoint's safe mode, so handlers are written the same way in both modes.
type Params struct {
	raw   json.RawMessage
	codec Codec
}

// NewParams wraps raw params for a handler. It is mainly useful in tests.
func NewParams(raw json.RawMessage, safe bool) Params {
	return Params{raw: raw, codec: Codec{Safe: safe}}
}

// Raw returns the params exactly as received.
func (p Params) Raw() json.RawMessage {
	return p.raw
}

// IsZero reports whether the request carried no params.
func (p Params) IsZero() bool {
	return isNullID(p.raw)
}

// IsArray reports whether the params are positional.
func (p Params) IsArray() bool {
	trimmed := bytes.TrimSpace(p.raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Safe reports whether the params use safe-mode encoding.
func (p Params) Safe() bool {
	return p.codec.Safe
}

// Decode binds the params into v. Failures are reported as InvalidParams.
func (p Params) Decode(v interface{}) error {
	if p.IsZero() {
		return NewInvalidParamsError("Invalid params: params are required")
	}
	if err := p.codec.UnmarshalValue(p.raw, v); err != nil {
		return NewInvalidParamsError("Invalid params: " + err.Error())
	}
	return nil
}

// Value decodes the params into generic Go values: maps, slices, strings,
// bools, float64 and, in safe mode, time.Time, *big.Int and int64.
// It returns nil when there are no params.
func (p Params) Value() (interface{}, error) {
	if p.IsZero() {
		return nil, nil
	}
	if !p.codec.Safe {
		var v interface{}
		if err := json.Unmarshal(p.raw, &v); err != nil {
			return nil, NewInvalidParamsError("Invalid params: " + err.Error())
		}
		return v, nil
	}
	var v interface{}
	if err := unmarshalSafe(p.raw, &v); err != nil {
		return nil, NewInvalidParamsError("Invalid params: " + err.Error())
	}
	return v, nil
}
