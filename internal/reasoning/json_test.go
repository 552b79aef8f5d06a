package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":2}\n```", `{"a":2}`},
		{"surrounded by prose", `Sure! {"a":{"b":"}"}} hope that helps`, `{"a":{"b":"}"}}`},
		{"skips invalid braces", `use {placeholder} then {"ok":true}`, `{"ok":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	for _, in := range []string{"", "no json here", "[1,2,3]", "{unterminated"} {
		_, err := ExtractJSON(in)
		assert.ErrorIs(t, err, ErrMalformedOutput, in)
	}
}

func TestDecodeJSON_TypeMismatch(t *testing.T) {
	var v struct {
		N int `json:"n"`
	}
	err := DecodeJSON(`{"n":"not a number"}`, &v)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}
