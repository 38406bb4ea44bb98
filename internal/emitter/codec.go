package emitter

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes published events.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                  { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

// Marshal uses the msgpack struct tags of the event types.
func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName returns the codec registered under name ("" means json).
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("emitter: unknown codec %q", name)
	}
}
