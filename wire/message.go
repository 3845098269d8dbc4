// Package wire implements the HTSP message value (spec §4.A) and its
// binary wire format (spec §4.B-§4.D): a length-prefixed, tagged,
// self-describing framing codec, plus the Reader that assembles bytes fed
// to it into whole Messages and the Writer that drains queued Messages to
// a socket-shaped io.Writer under write-readiness.
package wire

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// FieldType tags the wire encoding of a single field's data (spec §4.B).
type FieldType uint8

const (
	TypeMap FieldType = 1
	TypeS64 FieldType = 2
	TypeStr FieldType = 3
	TypeBin FieldType = 4
	TypeList FieldType = 5
)

// Value is the tagged union a Message field holds: exactly one of Int64,
// Bytes, List, or Map is meaningful, discriminated by Type.
type Value struct {
	Type  FieldType
	Int64 int64
	Bytes []byte  // also backs Str; string-ness is a getter-side coercion
	List  []Value
	Map   *Message
}

// Message is an ordered string-keyed mapping (spec §4.A). Order is
// preserved because the wire format is an ordered field list and
// round-tripping must reproduce the same bytes for the same logical
// content when re-encoded in insertion order.
// Message is logically frozen once handed to the dispatcher's send path:
// the dispatcher is the sole writer of "seq" (spec §4.A), and by
// convention callers stop mutating a Message once it has been enqueued.
type Message struct {
	keys   []string
	values map[string]Value
}

// New returns an empty Message ready for field assignment.
func New() *Message {
	return &Message{values: make(map[string]Value)}
}

func (m *Message) ensure() {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
}

func (m *Message) set(key string, v Value) {
	m.ensure()
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Keys returns field names in insertion/wire order.
func (m *Message) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Message) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// SetInt64 sets an integer field, encoded as S64 on the wire.
func (m *Message) SetInt64(key string, v int64) *Message {
	m.set(key, Value{Type: TypeS64, Int64: v})
	return m
}

// SetString sets a UTF-8 string field, encoded as Str.
func (m *Message) SetString(key, v string) *Message {
	m.set(key, Value{Type: TypeStr, Bytes: []byte(v)})
	return m
}

// SetBytes sets a raw binary field, encoded as Bin.
func (m *Message) SetBytes(key string, v []byte) *Message {
	m.set(key, Value{Type: TypeBin, Bytes: v})
	return m
}

// SetMessage nests another Message as a Map field.
func (m *Message) SetMessage(key string, v *Message) *Message {
	m.set(key, Value{Type: TypeMap, Map: v})
	return m
}

// SetList sets an ordered list field.
func (m *Message) SetList(key string, v []Value) *Message {
	m.set(key, Value{Type: TypeList, List: v})
	return m
}

// Int64 returns an integer field, or def if absent or of the wrong type.
func (m *Message) Int64(key string, def int64) int64 {
	v, ok := m.values[key]
	if !ok || v.Type != TypeS64 {
		return def
	}
	return v.Int64
}

func (m *Message) Int(key string, def int) int { return int(m.Int64(key, int64(def))) }

// String coerces a Str/Bin field to a Go string. The parser treats
// strings as opaque bytes, and this getter returns them as-is: invalid
// UTF-8 is neither detected nor reported.
func (m *Message) String(key, def string) string {
	v, ok := m.values[key]
	if !ok || (v.Type != TypeStr && v.Type != TypeBin) {
		return def
	}
	return string(v.Bytes)
}

// Bytes returns a Bin/Str field's raw bytes, or nil if absent.
func (m *Message) Bytes(key string) []byte {
	v, ok := m.values[key]
	if !ok || (v.Type != TypeBin && v.Type != TypeStr) {
		return nil
	}
	return v.Bytes
}

// NestedMessage returns a Map field, or nil if absent or of the wrong type.
func (m *Message) NestedMessage(key string) *Message {
	v, ok := m.values[key]
	if !ok || v.Type != TypeMap {
		return nil
	}
	return v.Map
}

// List returns a List field, or nil if absent or of the wrong type.
func (m *Message) List(key string) []Value {
	v, ok := m.values[key]
	if !ok || v.Type != TypeList {
		return nil
	}
	return v.List
}

// Method is shorthand for String("method", "").
func (m *Message) Method() string { return m.String("method", "") }

// SetMethod is shorthand for SetString("method", method).
func (m *Message) SetMethod(method string) *Message { return m.SetString("method", method) }

// Seq is shorthand for Int64("seq", 0); 0 means unset.
func (m *Message) Seq() int64 { return m.Int64("seq", 0) }

// jsonView is a debug-only projection (SPEC_FULL §12) used by
// cmd/htsp-probe to pretty-print decoded frames; it is lossy (binary
// fields become base64 via jsoniter's default []byte handling) and is
// never used on the wire path.
func (m *Message) jsonView() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		v := m.values[k]
		switch v.Type {
		case TypeS64:
			out[k] = v.Int64
		case TypeStr:
			out[k] = string(v.Bytes)
		case TypeBin:
			out[k] = v.Bytes
		case TypeMap:
			out[k] = v.Map.jsonView()
		case TypeList:
			list := make([]any, len(v.List))
			for i, item := range v.List {
				list[i] = valueJSON(item)
			}
			out[k] = list
		}
	}
	return out
}

func valueJSON(v Value) any {
	switch v.Type {
	case TypeS64:
		return v.Int64
	case TypeStr:
		return string(v.Bytes)
	case TypeBin:
		return v.Bytes
	case TypeMap:
		return v.Map.jsonView()
	case TypeList:
		list := make([]any, len(v.List))
		for i, item := range v.List {
			list[i] = valueJSON(item)
		}
		return list
	default:
		return nil
	}
}

// JSON renders a debug-only JSON projection of the message via jsoniter.
func (m *Message) JSON() (string, error) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(m.jsonView())
	if err != nil {
		return "", fmt.Errorf("wire: marshal message: %w", err)
	}
	return string(b), nil
}
