package jsonrpc

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Safe mode wire tags.
const (
	safeStringPrefix = "S:"
	safeDatePrefix   = "D:"
	safeBigIntSuffix = "n"

	safeNaN         = "NaN"
	safePosInfinity = "Infinity"
	safeNegInfinity = "-Infinity"
)

// SafeHeader is the out-of-band marker a safe-mode peer sets on every message.
const SafeHeader = "X-RPC-Safe-Enabled"

// EncodeSafeString tags a string for the wire.
func EncodeSafeString(s string) string {
	return safeStringPrefix + s
}

// DecodeSafeString strips the string tag. Untagged input is returned unchanged
// so values from peers without safe mode still decode.
func DecodeSafeString(s string) string {
	return strings.TrimPrefix(s, safeStringPrefix)
}

// EncodeSafeTime tags a timestamp for the wire, keeping sub-second precision.
func EncodeSafeTime(t time.Time) string {
	return safeDatePrefix + t.UTC().Format(time.RFC3339Nano)
}

// DecodeSafeTime parses a tagged timestamp, or an untagged RFC 3339 one.
func DecodeSafeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(s, safeDatePrefix))
	if err != nil {
		return time.Time{}, fmt.Errorf("jsonrpc: safe date %q: %w", s, err)
	}
	return t, nil
}

// EncodeSafeBigInt tags an arbitrary-precision integer for the wire.
func EncodeSafeBigInt(n *big.Int) string {
	if n == nil {
		return "0" + safeBigIntSuffix
	}
	return n.String() + safeBigIntSuffix
}

// DecodeSafeBigInt parses a tagged integer, or an untagged decimal numeral.
func DecodeSafeBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSuffix(s, safeBigIntSuffix), 10)
	if !ok {
		return nil, fmt.Errorf("jsonrpc: safe bigint %q: invalid numeral", s)
	}
	return n, nil
}

func encodeSafeFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return safeNaN
	case math.IsInf(f, 1):
		return safePosInfinity
	case math.IsInf(f, -1):
		return safeNegInfinity
	}
	return f
}

func decodeSafeFloat(s string) (float64, bool) {
	switch s {
	case safeNaN:
		return math.NaN(), true
	case safePosInfinity:
		return math.Inf(1), true
	case safeNegInfinity:
		return math.Inf(-1), true
	}
	return 0, false
}

// isSafeBigInt reports whether s looks like "<digits>n".
func isSafeBigInt(s string) bool {
	if len(s) < 2 || !strings.HasSuffix(s, safeBigIntSuffix) {
		return false
	}
	digits := s[:len(s)-1]
	if digits[0] == '-' || digits[0] == '+' {
		digits = digits[1:]
	}
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// UnwrapSafe converts a generic JSON tree (as produced by a decoder with
// UseNumber) into Go values, resolving safe-mode tags: "S:" strings become
// string, "D:" strings become time.Time, "<digits>n" become *big.Int and
// "NaN"/"Infinity"/"-Infinity" become float64. Other values are unchanged.
func UnwrapSafe(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return unwrapSafeString(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = UnwrapSafe(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = UnwrapSafe(e)
		}
		return out
	}
	return v
}

func unwrapSafeString(s string) interface{} {
	switch {
	case strings.HasPrefix(s, safeStringPrefix):
		return s[len(safeStringPrefix):]
	case strings.HasPrefix(s, safeDatePrefix):
		if t, err := DecodeSafeTime(s); err == nil {
			return t
		}
	case isSafeBigInt(s):
		if n, err := DecodeSafeBigInt(s); err == nil {
			return n
		}
	}
	if f, ok := decodeSafeFloat(s); ok {
		return f
	}
	return s
}

var (
	timeType        = reflect.TypeOf(time.Time{})
	bigIntType      = reflect.TypeOf(big.Int{})
	rawMessageType  = reflect.TypeOf(json.RawMessage(nil))
	numberType      = reflect.TypeOf(json.Number(""))
	marshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textMarshaler   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// maxSafeDepth bounds how deep safeTree descends, matching the nesting limit
// encoding/json enforces when decoding. Cyclic values hit it instead of
// overflowing the stack.
const maxSafeDepth = 10000

var errSafeDepth = fmt.Errorf("jsonrpc: safe mode value nested deeper than %d levels, possibly cyclic", maxSafeDepth)

func marshalSafe(v interface{}) (json.RawMessage, error) {
	tree, err := safeTree(reflect.ValueOf(v), 0)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// orderedObject keeps struct fields in declaration order on the wire.
type orderedObject struct {
	keys   []string
	values []interface{}
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// safeTree walks v and returns a value that encoding/json renders in safe
// mode form.
func safeTree(v reflect.Value, depth int) (interface{}, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if depth > maxSafeDepth {
		return nil, errSafeDepth
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return safeTree(v.Elem(), depth+1)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		switch v.Type().Elem() {
		case timeType, bigIntType:
			return safeTree(v.Elem(), depth+1)
		}
		if v.Type().Implements(marshalerType) {
			return marshalRaw(v)
		}
		return safeTree(v.Elem(), depth+1)
	}

	switch v.Type() {
	case timeType:
		return EncodeSafeTime(v.Interface().(time.Time)), nil
	case bigIntType:
		n := new(big.Int)
		if v.CanAddr() {
			n.Set(v.Addr().Interface().(*big.Int))
		} else {
			x := v.Interface().(big.Int)
			n.Set(&x)
		}
		return EncodeSafeBigInt(n), nil
	case rawMessageType:
		if v.Len() == 0 {
			return nil, nil
		}
		return json.RawMessage(v.Bytes()), nil
	case numberType:
		return v.Interface().(json.Number), nil
	}

	if v.Type().Implements(marshalerType) {
		return marshalRaw(v)
	}
	if v.CanAddr() && reflect.PointerTo(v.Type()).Implements(marshalerType) {
		return marshalRaw(v.Addr())
	}
	if v.Kind() != reflect.String && v.Type().Implements(textMarshaler) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, err
		}
		return EncodeSafeString(string(text)), nil
	}

	switch v.Kind() {
	case reflect.String:
		return EncodeSafeString(v.String()), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return encodeSafeFloat(v.Float()), nil
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return EncodeSafeString(base64.StdEncoding.EncodeToString(v.Bytes())), nil
		}
		return safeList(v, depth)
	case reflect.Array:
		return safeList(v, depth)
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		return safeMap(v, depth)
	case reflect.Struct:
		return safeStruct(v, depth)
	}
	return nil, fmt.Errorf("jsonrpc: safe mode cannot encode %s", v.Type())
}

func marshalRaw(v reflect.Value) (interface{}, error) {
	b, err := v.Interface().(json.Marshaler).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func safeList(v reflect.Value, depth int) (interface{}, error) {
	out := make([]interface{}, v.Len())
	for i := range out {
		e, err := safeTree(v.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func safeMap(v reflect.Value, depth int) (interface{}, error) {
	out := make(map[string]interface{}, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKeyString(iter.Key())
		if err != nil {
			return nil, err
		}
		e, err := safeTree(iter.Value(), depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = e
	}
	return out, nil
}

func mapKeyString(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		return string(b), err
	}
	return "", fmt.Errorf("jsonrpc: safe mode cannot encode map key %s", k.Type())
}

func safeStruct(v reflect.Value, depth int) (interface{}, error) {
	obj := &orderedObject{}
	for _, f := range cachedFields(v.Type()) {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		e, err := safeTree(fv, depth+1)
		if err == errSafeDepth {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		obj.keys = append(obj.keys, f.name)
		obj.values = append(obj.values, e)
	}
	return obj, nil
}

type safeField struct {
	name      string
	index     []int
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type -> []safeField

func cachedFields(t reflect.Type) []safeField {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]safeField)
	}
	f, _ := fieldCache.LoadOrStore(t, structFields(t))
	return f.([]safeField)
}

// structFields lists the JSON members of a struct type following the
// encoding/json tag rules. Fields of the outer struct win over promoted ones.
func structFields(t reflect.Type) []safeField {
	var out []safeField
	seen := map[string]bool{}
	var walk func(t reflect.Type, index []int)
	walk = func(t reflect.Type, index []int) {
		var embedded []reflect.StructField
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag := f.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			if f.Anonymous && name == "" {
				ft := f.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if ft.Kind() == reflect.Struct {
					embedded = append(embedded, f)
					continue
				}
			}
			if !f.IsExported() {
				continue
			}
			if name == "" {
				name = f.Name
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			idx := append(append([]int(nil), index...), i)
			out = append(out, safeField{
				name:      name,
				index:     idx,
				omitEmpty: strings.Contains(","+opts+",", ",omitempty,"),
			})
		}
		for _, f := range embedded {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			walk(ft, append(append([]int(nil), index...), f.Index...))
		}
	}
	walk(t, nil)
	return out
}

func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func fieldByIndexAlloc(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// unmarshalSafe decodes safe-mode wire data into dst, guided by dst's type.
func unmarshalSafe(data []byte, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("jsonrpc: decode target must be a non-nil pointer, got %T", dst)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return err
	}
	return bindSafe(tree, rv.Elem())
}

// bindSafe assigns a generic wire value to dst, resolving safe-mode tags
// according to the destination type.
func bindSafe(src interface{}, dst reflect.Value) error {
	if src == nil {
		switch dst.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
			dst.Set(reflect.Zero(dst.Type()))
		}
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		switch dst.Type().Elem() {
		case timeType, bigIntType:
		default:
			if dst.Type().Implements(unmarshalerType) {
				if dst.IsNil() {
					dst.Set(reflect.New(dst.Type().Elem()))
				}
				return unmarshalRaw(src, dst)
			}
		}
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return bindSafe(src, dst.Elem())
	}

	switch dst.Type() {
	case timeType:
		s, ok := src.(string)
		if !ok {
			return bindError(src, dst)
		}
		t, err := DecodeSafeTime(s)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	case bigIntType:
		n, err := bigFromWire(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(n).Elem())
		return nil
	case rawMessageType:
		b, err := json.Marshal(src)
		if err != nil {
			return err
		}
		dst.SetBytes(b)
		return nil
	}

	if dst.CanAddr() && dst.Kind() != reflect.Interface && reflect.PointerTo(dst.Type()).Implements(unmarshalerType) {
		return unmarshalRaw(src, dst.Addr())
	}
	if dst.CanAddr() && dst.Kind() != reflect.String && reflect.PointerTo(dst.Type()).Implements(textUnmarshaler) {
		s, ok := src.(string)
		if !ok {
			return bindError(src, dst)
		}
		return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(DecodeSafeString(s)))
	}

	switch dst.Kind() {
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return bindError(src, dst)
		}
		dst.Set(reflect.ValueOf(numbersToGo(UnwrapSafe(src))))
		return nil
	case reflect.String:
		s, ok := src.(string)
		if !ok {
			return bindError(src, dst)
		}
		dst.SetString(DecodeSafeString(s))
		return nil
	case reflect.Bool:
		b, ok := src.(bool)
		if !ok {
			return bindError(src, dst)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := bigFromWire(src)
		if err != nil || !n.IsInt64() {
			return bindError(src, dst)
		}
		if dst.OverflowInt(n.Int64()) {
			return bindError(src, dst)
		}
		dst.SetInt(n.Int64())
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := bigFromWire(src)
		if err != nil || !n.IsUint64() {
			return bindError(src, dst)
		}
		if dst.OverflowUint(n.Uint64()) {
			return bindError(src, dst)
		}
		dst.SetUint(n.Uint64())
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := floatFromWire(src)
		if err != nil {
			return bindError(src, dst)
		}
		dst.SetFloat(f)
		return nil
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			s, ok := src.(string)
			if !ok {
				return bindError(src, dst)
			}
			b, err := base64.StdEncoding.DecodeString(DecodeSafeString(s))
			if err != nil {
				return err
			}
			dst.SetBytes(b)
			return nil
		}
		list, ok := src.([]interface{})
		if !ok {
			return bindError(src, dst)
		}
		out := reflect.MakeSlice(dst.Type(), len(list), len(list))
		for i, e := range list {
			if err := bindSafe(e, out.Index(i)); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Array:
		list, ok := src.([]interface{})
		if !ok {
			return bindError(src, dst)
		}
		for i := 0; i < dst.Len(); i++ {
			if i < len(list) {
				if err := bindSafe(list[i], dst.Index(i)); err != nil {
					return err
				}
			} else {
				dst.Index(i).Set(reflect.Zero(dst.Type().Elem()))
			}
		}
		return nil
	case reflect.Map:
		obj, ok := src.(map[string]interface{})
		if !ok {
			return bindError(src, dst)
		}
		if dst.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("jsonrpc: safe mode cannot decode map key %s", dst.Type().Key())
		}
		if dst.IsNil() {
			dst.Set(reflect.MakeMapWithSize(dst.Type(), len(obj)))
		}
		for k, e := range obj {
			ev := reflect.New(dst.Type().Elem()).Elem()
			if err := bindSafe(e, ev); err != nil {
				return err
			}
			dst.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), ev)
		}
		return nil
	case reflect.Struct:
		obj, ok := src.(map[string]interface{})
		if !ok {
			return bindError(src, dst)
		}
		fields := cachedFields(dst.Type())
		for key, e := range obj {
			f, ok := lookupField(fields, key)
			if !ok {
				continue
			}
			if err := bindSafe(e, fieldByIndexAlloc(dst, f.index)); err != nil {
				return fmt.Errorf("field %s: %w", f.name, err)
			}
		}
		return nil
	}
	return bindError(src, dst)
}

func lookupField(fields []safeField, key string) (safeField, bool) {
	for _, f := range fields {
		if f.name == key {
			return f, true
		}
	}
	for _, f := range fields {
		if strings.EqualFold(f.name, key) {
			return f, true
		}
	}
	return safeField{}, false
}

func unmarshalRaw(src interface{}, ptr reflect.Value) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return ptr.Interface().(json.Unmarshaler).UnmarshalJSON(b)
}

func bigFromWire(src interface{}) (*big.Int, error) {
	switch x := src.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(string(x), 10)
		if !ok {
			return nil, fmt.Errorf("jsonrpc: %s is not an integer", x)
		}
		return n, nil
	case string:
		return DecodeSafeBigInt(x)
	}
	return nil, fmt.Errorf("jsonrpc: cannot decode %T as integer", src)
}

func floatFromWire(src interface{}) (float64, error) {
	switch x := src.(type) {
	case json.Number:
		return x.Float64()
	case string:
		if f, ok := decodeSafeFloat(x); ok {
			return f, nil
		}
		if isSafeBigInt(x) {
			n, err := DecodeSafeBigInt(x)
			if err != nil {
				return 0, err
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f, nil
		}
	}
	return 0, fmt.Errorf("jsonrpc: cannot decode %T as float", src)
}

func bindError(src interface{}, dst reflect.Value) error {
	return fmt.Errorf("jsonrpc: cannot decode %T into %s", src, dst.Type())
}

// numbersToGo replaces json.Number leaves with int64 or float64 so generic
// values look like what encoding/json would produce for interface targets
// without losing integer precision.
func numbersToGo(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return string(x)
	case []interface{}:
		for i, e := range x {
			x[i] = numbersToGo(e)
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = numbersToGo(e)
		}
		return x
	}
	return v
}
