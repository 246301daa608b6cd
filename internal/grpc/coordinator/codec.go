package coordinator

import (
	"github.com/bytedance/sonic"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype negotiated by clients.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
