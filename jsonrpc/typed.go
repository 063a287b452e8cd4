package jsonrpc

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
)

// Func adapts a typed function to a Handler. The params type P is bound from
// the request:
//
//   - Struct types accept named params (an object keyed by json tag names,
//     every field required unless tagged omitempty) and positional params (an
//     array whose elements map to the exported fields in declaration order).
//   - Other types are decoded directly.
//
// Binding failures are reported as InvalidParams. The application context is
// not passed to fn; use FuncWithContext for that.
//
//	e.AddMethod("add", jsonrpc.Func[*App](func(ctx context.Context, p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	}))
func Func[C, P, R any](fn func(ctx context.Context, params P) (R, error)) Handler[C] {
	return FuncWithContext[C](func(ctx context.Context, params P, _ C) (R, error) {
		return fn(ctx, params)
	})
}

// FuncWithContext is like Func but also passes the application context.
func FuncWithContext[C, P, R any](fn func(ctx context.Context, params P, app C) (R, error)) Handler[C] {
	b := newBinder(reflect.TypeFor[P]())
	return func(ctx context.Context, params Params, app C) (interface{}, error) {
		var p P
		if err := b.bind(params, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p, app)
	}
}

// binder holds the reflection data needed to bind params into a P.
type binder struct {
	isStruct bool
	names    []string // required json names for named params
	fields   []int    // field indices for positional params
}

func newBinder(t reflect.Type) *binder {
	b := &binder{}
	if t.Kind() != reflect.Struct {
		return b
	}
	b.isStruct = true
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		b.fields = append(b.fields, i)
		if !strings.Contains(opts, "omitempty") {
			b.names = append(b.names, name)
		}
	}
	return b
}

func (b *binder) bind(params Params, dst interface{}) error {
	if !b.isStruct {
		if params.IsZero() {
			return nil
		}
		return params.Decode(dst)
	}

	if params.IsZero() {
		if len(b.names) > 0 {
			return NewInvalidParamsError("missing param: " + b.names[0])
		}
		return nil
	}

	v := reflect.ValueOf(dst).Elem()
	if params.IsArray() {
		// Positional params: array elements map to struct fields by declaration order.
		var list []json.RawMessage
		if err := json.Unmarshal(params.Raw(), &list); err != nil {
			return NewInvalidParamsError("Invalid params")
		}
		if len(list) != len(b.fields) {
			return NewInvalidParamsError("invalid number of params")
		}
		for i, elem := range list {
			field := v.Field(b.fields[i])
			if err := params.codec.UnmarshalValue(elem, field.Addr().Interface()); err != nil {
				return NewInvalidParamsError("Invalid params: " + err.Error())
			}
		}
		return nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(params.Raw(), &members); err != nil {
		return NewInvalidParamsError("Invalid params")
	}
	for _, name := range b.names {
		if _, ok := members[name]; !ok {
			return NewInvalidParamsError("missing param: " + name)
		}
	}
	if err := params.codec.UnmarshalValue(params.Raw(), dst); err != nil {
		return NewInvalidParamsError("Invalid params: " + err.Error())
	}
	return nil
}
