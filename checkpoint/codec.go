package checkpoint

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Codec defines the serialization contract for checkpoint payloads.
// Implementations turn arbitrary values into opaque base64 blobs and
// back; the store never looks inside.
type Codec interface {
	// Encode serializes a value to an opaque blob.
	Encode(v any) (Blob, error)

	// Decode deserializes a blob back into a value.
	Decode(b Blob) (any, error)

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// CodecName constants for codec selection.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	case CodecNameJSON, "":
		return &JSONCodec{}
	default:
		return &JSONCodec{}
	}
}

// JSONCodec encodes values as base64-wrapped JSON. This is the default
// codec and the one the persisted state file format assumes.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) (Blob, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("loom: encode payload: %w", err)
	}
	return Blob(base64.StdEncoding.EncodeToString(data)), nil
}

func (c *JSONCodec) Decode(b Blob) (any, error) {
	data, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("loom: decode payload: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("loom: decode payload: %w", err)
	}
	return v, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }
