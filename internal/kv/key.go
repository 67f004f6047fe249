package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Segment type tags. Their numeric order defines the cross-type order of
// key segments.
const (
	tagBytes  byte = 0x01
	tagString byte = 0x02
	tagInt    byte = 0x21
	tagFalse  byte = 0x26
	tagTrue   byte = 0x27
)

// Key is an ordered tuple of typed segments. Supported segment types are
// []byte, string, int, int64 and bool. Keys compare segment by segment:
// first by type ([]byte < string < integer < false < true), then by value.
type Key []any

// Encode returns the order-preserving byte form of k. The encoding of a
// key is a byte prefix of the encoding of every key that extends it.
func (k Key) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for i, part := range k {
		switch v := part.(type) {
		case []byte:
			buf.WriteByte(tagBytes)
			writeEscaped(&buf, v)
		case string:
			buf.WriteByte(tagString)
			writeEscaped(&buf, []byte(v))
		case int:
			writeInt(&buf, int64(v))
		case int64:
			writeInt(&buf, v)
		case bool:
			if v {
				buf.WriteByte(tagTrue)
			} else {
				buf.WriteByte(tagFalse)
			}
		default:
			return nil, fmt.Errorf("%w: segment %d has unsupported type %T", ErrInvalidKey, i, part)
		}
	}
	return buf.Bytes(), nil
}

// String renders k for logs, e.g. ["room_act",3].
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		switch v := p.(type) {
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		case []byte:
			parts[i] = fmt.Sprintf("0x%x", v)
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Equal reports whether k and other encode to the same bytes.
func (k Key) Equal(other Key) bool {
	a, errA := k.Encode()
	b, errB := other.Encode()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Zero bytes inside a segment are written as 0x00 0xFF so that the single
// 0x00 terminator sorts before any continuation.
func writeEscaped(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
}

func writeInt(buf *bytes.Buffer, v int64) {
	var b [9]byte
	b[0] = tagInt
	binary.BigEndian.PutUint64(b[1:], uint64(v)^(1<<63))
	buf.Write(b[:])
}

// DecodeKey parses bytes produced by Key.Encode. Integer segments decode
// as int64.
func DecodeKey(b []byte) (Key, error) {
	var k Key
	for i := 0; i < len(b); {
		tag := b[i]
		i++
		switch tag {
		case tagBytes, tagString:
			seg, n, err := readEscaped(b[i:])
			if err != nil {
				return nil, err
			}
			i += n
			if tag == tagString {
				k = append(k, string(seg))
			} else {
				k = append(k, seg)
			}
		case tagInt:
			if len(b)-i < 8 {
				return nil, fmt.Errorf("%w: truncated integer segment", ErrInvalidKey)
			}
			k = append(k, int64(binary.BigEndian.Uint64(b[i:i+8])^(1<<63)))
			i += 8
		case tagFalse:
			k = append(k, false)
		case tagTrue:
			k = append(k, true)
		default:
			return nil, fmt.Errorf("%w: unknown segment tag 0x%02x", ErrInvalidKey, tag)
		}
	}
	return k, nil
}

func readEscaped(b []byte) ([]byte, int, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return out, i + 1, nil
	}
	return nil, 0, fmt.Errorf("%w: unterminated segment", ErrInvalidKey)
}

// prefixRange returns the half-open byte range [start, end) holding every
// key that strictly extends prefix. A following segment always begins with
// a tag below 0xFF, while an escaped zero inside the last segment continues
// with 0xFF and falls outside the range.
func prefixRange(prefix Key) (start, end []byte, err error) {
	enc, err := prefix.Encode()
	if err != nil {
		return nil, nil, err
	}
	start = append(append(make([]byte, 0, len(enc)+1), enc...), 0x00)
	end = append(append(make([]byte, 0, len(enc)+1), enc...), 0xFF)
	return start, end, nil
}

// successor returns the smallest byte string greater than b.
func successor(b []byte) []byte {
	next := make([]byte, len(b)+1)
	copy(next, b)
	return next
}
