package encoding

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Envelope header bytes. Every encoded value starts with one.
const (
	formatRaw  byte = 0x00
	formatZstd byte = 0x01
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Codec turns KV values into stored bytes: msgpack, zstd-compressed when the
// msgpack form is larger than the threshold.
type Codec struct {
	threshold int
}

// NewCodec returns a codec compressing values above threshold bytes.
// A threshold of 0 disables compression.
func NewCodec(threshold int) *Codec {
	return &Codec{threshold: threshold}
}

// Encode serializes v into an envelope.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not serializable: %w", err)
	}

	if c.threshold > 0 && len(raw) > c.threshold {
		out := make([]byte, 1, len(raw)/2+1)
		out[0] = formatZstd
		return zstdEncoder.EncodeAll(raw, out), nil
	}

	out := make([]byte, 0, len(raw)+1)
	out = append(out, formatRaw)
	return append(out, raw...), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty value envelope")
	}

	payload := data[1:]
	switch data[0] {
	case formatRaw:
	case formatZstd:
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("corrupt compressed value: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown value format 0x%02x", data[0])
	}

	return decodeValue(payload)
}

// Compressed reports whether an envelope holds a compressed payload.
func Compressed(data []byte) bool {
	return len(data) > 0 && data[0] == formatZstd
}
