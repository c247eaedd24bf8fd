package sga

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/jazware/essencefs/pkg/sga/layout"
)

// ArchivePtrs delimit the header (TOC) and data regions of an archive. All
// values are absolute stream offsets except HeaderSize.
type ArchivePtrs struct {
	HeaderPos  int64
	HeaderSize int64
	DataPos    int64
}

// Validate checks that the data region does not start inside the header.
func (p ArchivePtrs) Validate() error {
	if p.HeaderSize < 0 || p.DataPos < p.HeaderPos+p.HeaderSize {
		return Formatf("archive pointers", "data at 0x%x overlaps header [0x%x, +%d)", p.DataPos, p.HeaderPos, p.HeaderSize)
	}
	return nil
}

// MetaBlock is the archive-level header that follows the magic and version.
type MetaBlock struct {
	Name      string
	Ptrs      ArchivePtrs
	FileMD5   [16]byte
	HeaderMD5 [16]byte
}

// NameWidth is the byte width of the UTF-16LE archive name field.
const NameWidth = 128

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// MetaSerializer reads and writes MetaBlocks laid out as
// file_md5, name, header_md5, header_size, data_pos.
type MetaSerializer struct {
	Layout *layout.Layout
}

// DefaultMetaLayout is the meta block layout shared by the v2 family.
var DefaultMetaLayout = layout.MustParse("<16s 128s 16s I I")

// NewMetaSerializer returns a MetaSerializer over DefaultMetaLayout.
func NewMetaSerializer() *MetaSerializer {
	return &MetaSerializer{Layout: DefaultMetaLayout}
}

// Unpack decodes a MetaBlock. HeaderPos is not stored in the file: it is the
// stream position immediately after the block.
func (s *MetaSerializer) Unpack(r io.ReadSeeker) (MetaBlock, error) {
	values, err := s.Layout.Unpack(r)
	if err != nil {
		return MetaBlock{}, &FormatError{Section: "meta block", Reason: "short read", Err: err}
	}
	headerPos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return MetaBlock{}, fmt.Errorf("locating header: %w", err)
	}

	name, err := DecodeName(values[1].([]byte))
	if err != nil {
		return MetaBlock{}, &FormatError{Section: "meta block", Reason: "archive name", Err: err}
	}

	m := MetaBlock{
		Name: name,
		Ptrs: ArchivePtrs{
			HeaderPos:  headerPos,
			HeaderSize: int64(values[3].(uint32)),
			DataPos:    int64(values[4].(uint32)),
		},
	}
	copy(m.FileMD5[:], values[0].([]byte))
	copy(m.HeaderMD5[:], values[2].([]byte))
	return m, nil
}

// Pack encodes m. The name is truncated or NUL-padded to NameWidth bytes.
func (s *MetaSerializer) Pack(w io.Writer, m MetaBlock) (int, error) {
	name, err := EncodeName(m.Name)
	if err != nil {
		return 0, fmt.Errorf("encoding archive name: %w", err)
	}
	if m.Ptrs.HeaderSize < 0 || m.Ptrs.HeaderSize > 0xFFFFFFFF || m.Ptrs.DataPos < 0 || m.Ptrs.DataPos > 0xFFFFFFFF {
		return 0, fmt.Errorf("archive pointers out of range: %+v", m.Ptrs)
	}
	return s.Layout.Pack(w, m.FileMD5[:], name, m.HeaderMD5[:], uint32(m.Ptrs.HeaderSize), uint32(m.Ptrs.DataPos))
}

// EncodeName encodes name as fixed-width UTF-16LE.
func EncodeName(name string) ([]byte, error) {
	enc, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, NameWidth)
	n := len(enc)
	if n > NameWidth {
		n = NameWidth
	}
	// Drop a dangling high surrogate instead of splitting the pair.
	if n == NameWidth && len(enc) > NameWidth {
		hi := uint16(enc[n-2]) | uint16(enc[n-1])<<8
		if hi >= 0xD800 && hi < 0xDC00 {
			n -= 2
		}
	}
	copy(buf, enc[:n])
	return buf, nil
}

// DecodeName decodes a UTF-16LE name buffer and strips trailing NULs.
func DecodeName(b []byte) (string, error) {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	dec, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(dec), "\x00"), nil
}
