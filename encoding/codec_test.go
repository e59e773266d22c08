package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec(64)

	tests := []struct {
		name     string
		input    interface{}
		expected interface{}
	}{
		{"nil", nil, nil},
		{"small int widens", 1, int64(1)},
		{"negative int", -300, int64(-300)},
		{"large int", int64(9876543210), int64(9876543210)},
		{"large plain int", 9876543210, int64(9876543210)},
		{"uint16 range", 300, int64(300)},
		{"float", 2.5, 2.5},
		{"bool", true, true},
		{"string", "hello", "hello"},
		{"bytes stay bytes", []byte{0xDE, 0xAD}, []byte{0xDE, 0xAD}},
		{"slice", []interface{}{1, "a"}, []interface{}{int64(1), "a"}},
		{"map", map[string]interface{}{"n": 2}, map[string]interface{}{"n": int64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := c.Encode(tt.input)
			require.NoError(t, err)
			assert.False(t, Compressed(data))

			got, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCodec_CompressesLargeValues(t *testing.T) {
	c := NewCodec(64)
	value := strings.Repeat("durable ", 200)

	data, err := c.Encode(value)
	require.NoError(t, err)
	assert.True(t, Compressed(data))
	assert.Less(t, len(data), len(value))

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestCodec_ZeroThresholdNeverCompresses(t *testing.T) {
	c := NewCodec(0)
	data, err := c.Encode(strings.Repeat("x", 10000))
	require.NoError(t, err)
	assert.False(t, Compressed(data))
}

func TestCodec_Errors(t *testing.T) {
	c := NewCodec(0)

	_, err := c.Encode(make(chan int))
	assert.Error(t, err)

	_, err = c.Decode(nil)
	assert.Error(t, err)

	_, err = c.Decode([]byte{0x7F, 0x01})
	assert.ErrorContains(t, err, "unknown value format")

	_, err = c.Decode([]byte{formatZstd, 0x01, 0x02})
	assert.Error(t, err)
}
