package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "bare object",
			text: `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "object wrapped in prose",
			text: "Here is the analysis:\n{\"a\":1}\nHope that helps!",
			want: `{"a":1}`,
		},
		{
			name: "nested objects stay balanced",
			text: `{"outer":{"inner":2}}`,
			want: `{"outer":{"inner":2}}`,
		},
		{
			name: "braces inside string literals are ignored",
			text: `{"code":"func f() { return }"}`,
			want: `{"code":"func f() { return }"}`,
		},
		{
			name: "escaped quotes inside strings",
			text: `{"msg":"she said \"{\" loudly"}`,
			want: `{"msg":"she said \"{\" loudly"}`,
		},
		{
			name: "unbalanced object yields nothing",
			text: `{"truncated": {"a": 1}`,
			want: "",
		},
		{
			name: "no object at all",
			text: "plain prose with no json",
			want: "",
		},
		{
			name: "first balanced object wins",
			text: `{"first":1} {"second":2}`,
			want: `{"first":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractObject(tt.text))
		})
	}
}

func TestExtractArray(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "bare array",
			text: `["a","b"]`,
			want: `["a","b"]`,
		},
		{
			name: "array in prose",
			text: "Keywords: [\"auth\",\"token\"] as requested.",
			want: `["auth","token"]`,
		},
		{
			name: "brackets inside strings are ignored",
			text: `["slice[0]","map[k]"]`,
			want: `["slice[0]","map[k]"]`,
		},
		{
			name: "unbalanced array yields nothing",
			text: `["a","b"`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractArray(tt.text))
		})
	}
}
