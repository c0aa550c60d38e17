package transport

import (
	"github.com/bytedance/sonic"
)

// Codec encodes structured payloads for transport
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes values as JSON using sonic
type JSONCodec struct {
	api sonic.API
}

// NewJSONCodec returns a codec compatible with encoding/json semantics
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{api: sonic.ConfigStd}
}

// Marshal encodes v
func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

// Unmarshal decodes data into v
func (c *JSONCodec) Unmarshal(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}
