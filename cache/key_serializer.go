package cache

import (
	"encoding"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	hex "github.com/tmthrgd/go-hex"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = ":"

// KeyCodec builds cache keys from a namespace, the caller identity and the
// query parameters. Logically identical parameters must produce the same key.
type KeyCodec interface {
	Key(namespace, ownerID string, params ...any) string
}

// defaultKeyCodec serializes parameters into a canonical string with
// reflection and hashes it with xxhash.
type defaultKeyCodec struct{}

// NewDefaultKeyCodec creates a new instance of the default key codec.
func NewDefaultKeyCodec() KeyCodec {
	return &defaultKeyCodec{}
}

// Key returns "<namespace>:<ownerID>:<digest>" where digest is the 64 bit
// xxhash of the canonical parameter string rendered as 16 hex characters.
func (c *defaultKeyCodec) Key(namespace, ownerID string, params ...any) string {
	return strings.Join([]string{namespace, ownerID, Digest(Canonical(params...))}, KeySeparator)
}

// Digest hashes s with xxhash and renders the 64 bit sum as hex.
func Digest(s string) string {
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64String(s))
	return hex.EncodeToString(sum[:])
}

// Canonical renders params deterministically. Struct fields and map entries
// are emitted in sorted name order and strings are quoted, so field
// declaration order and delimiter characters inside values cannot change or
// collide keys. Function values are not key material and render by type only.
func Canonical(params ...any) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = serializeValue(p)
	}
	return strings.Join(parts, "|")
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// serializeValue handles individual argument serialization based on type.
func serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	if rt == timeType {
		return "time:" + v.(time.Time).UTC().Format(time.RFC3339Nano)
	}

	switch rt.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return "nil"
		}
		return serializeValue(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return serializeSequence("slice", rv)
	case reflect.Array:
		return serializeSequence("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return serializeMap(rv)
	case reflect.Struct:
		if rt.Implements(textMarshalerType) {
			if text, err := v.(encoding.TextMarshaler).MarshalText(); err == nil {
				return "text:" + strconv.Quote(string(text))
			}
		}
		return serializeStruct(rv, rt)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "unsupported:" + rt.String()
	case reflect.String:
		return strconv.Quote(rv.String())
	}

	if isBasicType(rt.Kind()) {
		return serializeBasic(rv)
	}

	return jsonFallback(v)
}

// serializeBasic formats the underlying value. Stringer and TextMarshaler
// implementations are ignored so distinct values never share a rendering.
func serializeBasic(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Complex64:
		return strconv.FormatComplex(rv.Complex(), 'g', -1, 64)
	default:
		return strconv.FormatComplex(rv.Complex(), 'g', -1, 128)
	}
}

// serializeSequence handles slices and arrays recursively
func serializeSequence(label string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		parts[i] = serializeValue(rv.Index(i).Interface())
	}

	return fmt.Sprintf("%s[%d]:{%s}", label, length, strings.Join(parts, ","))
}

// serializeMap handles map serialization with sorted keys for determinism
func serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, serializeValue(iter.Key().Interface())+"="+serializeValue(iter.Value().Interface()))
	}
	sort.Strings(pairs)

	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

// serializeStruct emits exported fields sorted by name.
func serializeStruct(rv reflect.Value, rt reflect.Type) string {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}

		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}

		parts = append(parts, field.Name+"="+serializeValue(fieldValue.Interface()))
	}
	sort.Strings(parts)

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

// isBasicType checks if a kind represents a basic Go type
func isBasicType(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	default:
		return false
	}
}

// jsonFallback provides JSON serialization as a last resort
func jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "fallback:" + reflect.TypeOf(v).String()
	}
	return "json:" + string(data)
}
