package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrKindMismatch is returned when a cached envelope holds a different type than requested.
var ErrKindMismatch = errors.New("cache: cached kind does not match requested type")

// Codec serializes cache payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec is the default, compact codec.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return "msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JSONCodec keeps payloads human readable, e.g. when inspecting a shared Redis.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// envelope tags each payload with the Go type it was produced from so a
// reader asking for a different shape gets an error instead of a partial decode.
type envelope struct {
	Kind    string `json:"k" msgpack:"k"`
	Payload []byte `json:"p" msgpack:"p"`
}

func kindOf(t reflect.Type) string {
	return t.String()
}

func encodeEnvelope(codec Codec, value any) ([]byte, error) {
	payload, err := codec.Marshal(value)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(envelope{
		Kind:    kindOf(reflect.TypeOf(value)),
		Payload: payload,
	})
}

func decodeEnvelope(codec Codec, data []byte, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("cache: destination must be a non-nil pointer, got %T", dest)
	}

	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("cache: decode envelope: %w", err)
	}

	want := kindOf(rv.Type().Elem())
	if env.Kind != want {
		return fmt.Errorf("%w: cached %q, want %q", ErrKindMismatch, env.Kind, want)
	}

	if err := codec.Unmarshal(env.Payload, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", want, err)
	}
	return nil
}
