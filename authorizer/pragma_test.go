package authorizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
		valid    bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"on", true, true},
		{"Yes", true, true},
		{"1", true, true},
		{"false", false, true},
		{"OFF", false, true},
		{"no", false, true},
		{"0", false, true},
		{"", false, false},
		{"2", false, false},
		{"enable", false, false},
		{"'on", false, false},
		{"o n", false, false},
		{"  on  ", false, false},
		{" on", false, false},
		{"'off'", false, false},
		{"01", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBool(tt.input)
			if !tt.valid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestClassifyPragma(t *testing.T) {
	assert.Equal(t, PragmaIntrospect, ClassifyPragma("table_info"))
	assert.Equal(t, PragmaIntrospect, ClassifyPragma("Index_List"))
	assert.Equal(t, PragmaToggle, ClassifyPragma("foreign_keys"))
	assert.Equal(t, PragmaDenied, ClassifyPragma("journal_mode"))
	assert.Equal(t, PragmaDenied, ClassifyPragma("cache_size"))
	assert.Equal(t, "toggle", PragmaToggle.String())
}
