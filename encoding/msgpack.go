// Package encoding provides serialization for everything durasql persists
// outside of user tables: KV values and catalog records.
//
// Thread Safety: all functions and Codec methods are safe for concurrent use.
package encoding

import (
	"bytes"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data into a typed destination.
// When decoding into interface{}, numbers widen to int64/uint64/float64.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// decodeValue decodes a dynamically typed value. Unlike Unmarshal it keeps
// msgpack bin as []byte so blobs round-trip, then widens numbers itself.
func decodeValue(data []byte) (interface{}, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	return widen(v), nil
}

func widen(v interface{}) interface{} {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		// Go ints are written in their shortest unsigned form.
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case []interface{}:
		for i := range x {
			x[i] = widen(x[i])
		}
		return x
	case map[string]interface{}:
		for k := range x {
			x[k] = widen(x[k])
		}
		return x
	case map[interface{}]interface{}:
		for k := range x {
			x[k] = widen(x[k])
		}
		return x
	default:
		return v
	}
}
