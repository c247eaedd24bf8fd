// Package layout packs and unpacks fixed-width binary records described by
// struct-style format strings such as "<5I" or "<64s 64s 5H".
package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind is the type of a single field in a Layout.
type Kind int

const (
	Uint8 Kind = iota
	Uint16
	Uint32
	Bytes
)

func (k Kind) String() string {
	switch k {
	case Uint8:
		return "B"
	case Uint16:
		return "H"
	case Uint32:
		return "I"
	case Bytes:
		return "s"
	}
	return "?"
}

// Field is one entry of a Layout. Size is the width in bytes.
type Field struct {
	Kind Kind
	Size int
}

// Layout is a parsed, fixed-width record description.
type Layout struct {
	format string
	order  binary.ByteOrder
	fields []Field
	size   int
}

// Parse parses a format string. The first character may select the byte order
// ('<' little-endian, '>' big-endian); little-endian is the default. Each code
// may be prefixed by a repeat count, except 's' where the count is the string
// width. Whitespace is ignored.
func Parse(format string) (*Layout, error) {
	l := &Layout{format: format, order: binary.LittleEndian}

	s := strings.Join(strings.Fields(format), "")
	if s != "" {
		switch s[0] {
		case '<':
			s = s[1:]
		case '>':
			l.order = binary.BigEndian
			s = s[1:]
		}
	}

	for len(s) > 0 {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		count := 1
		if i > 0 {
			n, err := strconv.Atoi(s[:i])
			if err != nil {
				return nil, fmt.Errorf("invalid count in layout %q: %w", format, err)
			}
			count = n
		}
		if i >= len(s) {
			return nil, fmt.Errorf("layout %q ends with a dangling count", format)
		}

		switch s[i] {
		case 'B':
			l.repeat(Field{Uint8, 1}, count)
		case 'H':
			l.repeat(Field{Uint16, 2}, count)
		case 'I':
			l.repeat(Field{Uint32, 4}, count)
		case 's':
			l.fields = append(l.fields, Field{Bytes, count})
			l.size += count
		default:
			return nil, fmt.Errorf("unsupported code %q in layout %q", s[i], format)
		}
		s = s[i+1:]
	}

	return l, nil
}

// MustParse is like Parse but panics on error. Intended for package-level layouts.
func MustParse(format string) *Layout {
	l, err := Parse(format)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Layout) repeat(f Field, n int) {
	for j := 0; j < n; j++ {
		l.fields = append(l.fields, f)
	}
	l.size += f.Size * n
}

// Size returns the number of bytes a record of this layout occupies.
func (l *Layout) Size() int { return l.size }

// Fields returns the parsed fields in order.
func (l *Layout) Fields() []Field { return l.fields }

func (l *Layout) String() string { return l.format }

// Unpack reads exactly Size() bytes from r and decodes them. Integer fields are
// returned as uint8, uint16 or uint32 and string fields as []byte.
func (l *Layout) Unpack(r io.Reader) ([]any, error) {
	buf := make([]byte, l.size)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, &DecodeError{Layout: l.format, Want: l.size, Got: n, Err: err}
	}
	return l.decode(buf), nil
}

// UnpackBytes decodes the first Size() bytes of b.
func (l *Layout) UnpackBytes(b []byte) ([]any, error) {
	if len(b) < l.size {
		return nil, &DecodeError{Layout: l.format, Want: l.size, Got: len(b), Err: io.ErrUnexpectedEOF}
	}
	return l.decode(b[:l.size]), nil
}

func (l *Layout) decode(buf []byte) []any {
	values := make([]any, len(l.fields))
	off := 0
	for i, f := range l.fields {
		chunk := buf[off : off+f.Size]
		switch f.Kind {
		case Uint8:
			values[i] = chunk[0]
		case Uint16:
			values[i] = l.order.Uint16(chunk)
		case Uint32:
			values[i] = l.order.Uint32(chunk)
		case Bytes:
			values[i] = bytes.Clone(chunk)
		}
		off += f.Size
	}
	return values
}

// Pack encodes values and writes exactly Size() bytes to w. String fields
// accept []byte or string and are NUL-padded or truncated to their width.
// Integer fields accept any Go integer type that fits.
func (l *Layout) Pack(w io.Writer, values ...any) (int, error) {
	buf, err := l.PackBytes(values...)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// PackBytes encodes values into a new buffer of Size() bytes.
func (l *Layout) PackBytes(values ...any) ([]byte, error) {
	if len(values) != len(l.fields) {
		return nil, &EncodeError{Layout: l.format, Field: -1,
			Reason: fmt.Sprintf("got %d values, want %d", len(values), len(l.fields))}
	}

	buf := make([]byte, l.size)
	off := 0
	for i, f := range l.fields {
		chunk := buf[off : off+f.Size]
		switch f.Kind {
		case Bytes:
			switch v := values[i].(type) {
			case []byte:
				copy(chunk, v)
			case string:
				copy(chunk, v)
			default:
				return nil, &EncodeError{Layout: l.format, Field: i,
					Reason: fmt.Sprintf("want []byte or string, got %T", values[i])}
			}
		default:
			n, ok := toUint64(values[i])
			if !ok {
				return nil, &EncodeError{Layout: l.format, Field: i,
					Reason: fmt.Sprintf("want integer, got %T", values[i])}
			}
			if n>>(8*uint(f.Size)) != 0 {
				return nil, &EncodeError{Layout: l.format, Field: i,
					Reason: fmt.Sprintf("value %d overflows %s", n, f.Kind)}
			}
			switch f.Kind {
			case Uint8:
				chunk[0] = byte(n)
			case Uint16:
				l.order.PutUint16(chunk, uint16(n))
			case Uint32:
				l.order.PutUint32(chunk, uint32(n))
			}
		}
		off += f.Size
	}
	return buf, nil
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case int:
		return uint64(n), n >= 0
	case int8:
		return uint64(n), n >= 0
	case int16:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	}
	return 0, false
}
