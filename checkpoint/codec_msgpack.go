package checkpoint

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec encodes values as base64-wrapped MessagePack. Denser
// than JSON for large channel-value payloads; both sides of a state
// file must agree on the codec.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) (Blob, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("loom: encode payload: %w", err)
	}
	return Blob(base64.StdEncoding.EncodeToString(data)), nil
}

func (c *MsgpackCodec) Decode(b Blob) (any, error) {
	data, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("loom: decode payload: %w", err)
	}
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("loom: decode payload: %w", err)
	}
	return v, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
