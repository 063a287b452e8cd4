package endpoint

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
)

// Unmarshal populates dst (must be a non-nil pointer to a struct) from the
// request.
//
// Supported struct tags:
//   - `header:"name"` copies a request header into a string or []string
//     field. An empty name uses the field name.
//   - `body:""` reads the whole request body into a string or []byte field.
//     At most one field may carry it.
//
// Untagged and unexported fields are left unchanged. A body cut short by
// MaxBodyBytes is reported as 413 Request Entity Too Large.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := root.Type()
	bodyField := -1
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if name, ok := sf.Tag.Lookup("header"); ok {
			if name == "" {
				name = sf.Name
			}
			if err := setHeaderField(root.Field(i), r.Header.Values(name)); err != nil {
				return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: header %s: %w", name, err))
			}
			continue
		}
		if _, ok := sf.Tag.Lookup("body"); ok {
			if bodyField >= 0 {
				return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: multiple body fields"))
			}
			bodyField = i
		}
	}

	if bodyField < 0 {
		return nil
	}
	b, err := readBody(r)
	if err != nil {
		return err
	}
	if err := setBodyField(root.Field(bodyField), b); err != nil {
		return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, Error(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: decode: body exceeds %d bytes", mbe.Limit))
		}
		return nil, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	return b, nil
}

func setHeaderField(v reflect.Value, values []string) error {
	if len(values) == 0 {
		return nil
	}
	switch {
	case v.Kind() == reflect.String:
		v.SetString(values[0])
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String:
		out := reflect.MakeSlice(v.Type(), len(values), len(values))
		for i, s := range values {
			out.Index(i).SetString(s)
		}
		v.Set(out)
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}

func setBodyField(v reflect.Value, b []byte) error {
	switch {
	case v.Kind() == reflect.String:
		v.SetString(string(b))
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		v.SetBytes(b)
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}

// MaxBodyBytes returns a Processor that limits request bodies to n bytes.
// Requests that declare a larger Content-Length are rejected up front. A
// limit of zero or less disables the check.
func MaxBodyBytes(n int64) Processor {
	return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		if n <= 0 || r.Body == nil {
			return next(w, r)
		}
		if r.ContentLength > n {
			return Error(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: body of %d bytes exceeds limit of %d", r.ContentLength, n))
		}
		r.Body = http.MaxBytesReader(w, r.Body, n)
		return next(w, r)
	})
}
