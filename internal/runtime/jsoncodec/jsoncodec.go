// Package jsoncodec is the JSON encoder used for failure reports and the admin API.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal encodes v with standard-library compatible semantics.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v followed by a newline to w.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}
