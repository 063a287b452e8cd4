package jsonrpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

var cborDecMode = mustCBORDecMode()

func mustCBORDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("jsonrpc: cbor decode mode: " + err.Error())
	}
	return dm
}

// cborToJSON transcodes a CBOR message into the equivalent JSON so it can be
// dispatched like any other request.
func cborToJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := cborDecMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// jsonToCBOR transcodes an encoded response. Integers keep their precision:
// values beyond 64 bits become CBOR bignums.
func jsonToCBOR(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return cbor.Marshal(cborNumbers(v))
}

func cborNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		return cborNumber(x)
	case []interface{}:
		for i, e := range x {
			x[i] = cborNumbers(e)
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = cborNumbers(e)
		}
		return x
	}
	return v
}

func cborNumber(n json.Number) interface{} {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b
		}
	}
	f, _ := n.Float64()
	return f
}
