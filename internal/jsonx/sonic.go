// Package jsonx routes all JSON serialization in the engine through Sonic.
// LLM responses are parsed on every extraction and query, so the decode path
// is hot enough to matter.
package jsonx

import (
	"github.com/bytedance/sonic"
)

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses JSON-encoded data into the value pointed to by v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns a string, avoiding a copy.
func MarshalToString(v any) (string, error) {
	return sonic.MarshalString(v)
}

// UnmarshalFromString parses a JSON string into v.
func UnmarshalFromString(data string, v any) error {
	return sonic.UnmarshalString(data, v)
}

// Valid reports whether data is valid JSON.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}
