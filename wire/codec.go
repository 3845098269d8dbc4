package wire

import (
	"encoding/binary"

	"github.com/cyberjacob/android-htsp/internal/herr"
)

const (
	lengthPrefixSize = 4
	fieldHeaderSize  = 1 + 1 + 4 // type + namelen + datalen
	maxNameLen       = 0xFF
)

// Encode serializes m into a complete HTSP frame: a u32 BE length prefix
// followed by that many bytes of field list (spec §4.B). Root messages
// have no enclosing Map wrapper — the frame body IS the field list.
func Encode(m *Message) []byte {
	body := encodeFieldList(m.keys, m.values)
	frame := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(body)))
	copy(frame[lengthPrefixSize:], body)
	return frame
}

func encodeFieldList(keys []string, values map[string]Value) []byte {
	var out []byte
	for _, k := range keys {
		out = append(out, encodeField(k, values[k])...)
	}
	return out
}

func encodeField(name string, v Value) []byte {
	var data []byte
	switch v.Type {
	case TypeS64:
		data = encodeS64(v.Int64)
	case TypeStr, TypeBin:
		data = v.Bytes
	case TypeMap:
		if v.Map != nil {
			data = encodeFieldList(v.Map.keys, v.Map.values)
		}
	case TypeList:
		for _, item := range v.List {
			data = append(data, encodeField("", item)...)
		}
	}

	out := make([]byte, fieldHeaderSize+len(name)+len(data))
	out[0] = byte(v.Type)
	out[1] = byte(len(name))
	binary.BigEndian.PutUint32(out[2:6], uint32(len(data)))
	n := copy(out[6:], name)
	copy(out[6+n:], data)
	return out
}

// encodeS64 produces the minimum-byte big-endian two's-complement
// representation of v, per spec §4.B. Zero encodes as zero bytes.
func encodeS64(v int64) []byte {
	if v == 0 {
		return nil
	}
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], uint64(v))

	start := 0
	for start < 7 {
		b := full[start]
		next := full[start+1]
		if b == 0x00 && next&0x80 == 0 {
			start++
			continue
		}
		if b == 0xFF && next&0x80 != 0 {
			start++
			continue
		}
		break
	}
	return full[start:]
}

// decodeS64 sign-extends a big-endian two's-complement field of 0..8
// bytes into an int64.
func decodeS64(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) > 8 {
		return 0, herr.NewErrMalformed("s64 field too long: %d bytes", len(data))
	}
	var full [8]byte
	if data[0]&0x80 != 0 {
		for i := range full {
			full[i] = 0xFF
		}
	}
	copy(full[8-len(data):], data)
	return int64(binary.BigEndian.Uint64(full[:])), nil
}

// DecodeFrame decodes a single complete frame (length prefix + body) and
// returns the Message plus the total number of bytes consumed. Callers
// that already stripped the length prefix should use DecodeBody instead.
func DecodeFrame(frame []byte) (*Message, int, error) {
	if len(frame) < lengthPrefixSize {
		return nil, 0, herr.NewErrMalformed("frame shorter than length prefix: %d bytes", len(frame))
	}
	length := binary.BigEndian.Uint32(frame[:lengthPrefixSize])
	total := lengthPrefixSize + int(length)
	if len(frame) < total {
		return nil, 0, herr.NewErrMalformed("truncated frame: need %d bytes, have %d", total, len(frame))
	}
	m, err := DecodeBody(frame[lengthPrefixSize:total])
	if err != nil {
		return nil, 0, err
	}
	return m, total, nil
}

// DecodeBody parses a raw field list (no length prefix) into a Message.
func DecodeBody(body []byte) (*Message, error) {
	m := New()
	keys, values, _, err := decodeFieldList(body)
	if err != nil {
		return nil, err
	}
	m.keys = keys
	m.values = values
	return m, nil
}

// decodeList parses a raw field list into a flat slice of Values,
// discarding names (spec: list elements carry an empty name).
func decodeList(body []byte) ([]Value, error) {
	var out []Value
	off := 0
	for off < len(body) {
		v, _, n, err := decodeOneField(body[off:])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		off += n
	}
	return out, nil
}

func decodeFieldList(body []byte) (keys []string, values map[string]Value, consumed int, err error) {
	values = make(map[string]Value)
	off := 0
	for off < len(body) {
		v, name, n, ferr := decodeOneField(body[off:])
		if ferr != nil {
			return nil, nil, 0, ferr
		}
		if _, exists := values[name]; !exists {
			keys = append(keys, name)
		}
		values[name] = v
		off += n
	}
	return keys, values, off, nil
}

// decodeOneField decodes exactly one field starting at body[0], returning
// the decoded Value, its name, and the number of bytes consumed.
func decodeOneField(body []byte) (v Value, name string, consumed int, err error) {
	if len(body) < fieldHeaderSize {
		return Value{}, "", 0, herr.NewErrMalformed("truncated field header: %d bytes", len(body))
	}
	typ := FieldType(body[0])
	nameLen := int(body[1])
	dataLen := int(binary.BigEndian.Uint32(body[2:6]))
	if typ < TypeMap || typ > TypeList {
		return Value{}, "", 0, herr.NewErrMalformed("unknown field type %d", typ)
	}

	off := fieldHeaderSize
	if len(body) < off+nameLen {
		return Value{}, "", 0, herr.NewErrMalformed("truncated field name: need %d, have %d", nameLen, len(body)-off)
	}
	name = string(body[off : off+nameLen])
	off += nameLen

	if dataLen < 0 || len(body) < off+dataLen {
		return Value{}, "", 0, herr.NewErrMalformed("field %q declares %d data bytes, only %d available", name, dataLen, len(body)-off)
	}
	data := body[off : off+dataLen]
	off += dataLen

	switch typ {
	case TypeS64:
		n, derr := decodeS64(data)
		if derr != nil {
			return Value{}, "", 0, derr
		}
		v = Value{Type: TypeS64, Int64: n}
	case TypeStr:
		v = Value{Type: TypeStr, Bytes: append([]byte(nil), data...)}
	case TypeBin:
		v = Value{Type: TypeBin, Bytes: append([]byte(nil), data...)}
	case TypeMap:
		keys, values, _, derr := decodeFieldList(data)
		if derr != nil {
			return Value{}, "", 0, derr
		}
		v = Value{Type: TypeMap, Map: &Message{keys: keys, values: values}}
	case TypeList:
		list, derr := decodeList(data)
		if derr != nil {
			return Value{}, "", 0, derr
		}
		v = Value{Type: TypeList, List: list}
	}
	return v, name, off, nil
}
