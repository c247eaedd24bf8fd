package sga

import (
	"fmt"
	"io"

	"github.com/jazware/essencefs/pkg/sga/layout"
)

// FileDef is one file record of the table of contents. DataPos is relative to
// the archive's data region.
type FileDef struct {
	NamePos         uint32
	StorageType     StorageType
	DataPos         uint32
	LengthInArchive uint32 // bytes physically stored
	LengthOnDisk    uint32 // bytes after decompression
}

// FileDefSerializer reads and writes FileDefs in a fixed 5-field layout:
// name_pos, storage_type, data_pos, length_in_archive, length_on_disk.
type FileDefSerializer struct {
	Layout *layout.Layout
}

// NewFileDefSerializer returns a serializer over the given layout, which must
// describe five integer fields.
func NewFileDefSerializer(l *layout.Layout) (*FileDefSerializer, error) {
	if n := len(l.Fields()); n != 5 {
		return nil, fmt.Errorf("file def layout %q has %d fields, want 5", l, n)
	}
	return &FileDefSerializer{Layout: l}, nil
}

// Unpack decodes a FileDef from r.
func (s *FileDefSerializer) Unpack(r io.Reader) (FileDef, error) {
	values, err := s.Layout.Unpack(r)
	if err != nil {
		return FileDef{}, &FormatError{Section: "file def", Reason: "short read", Err: err}
	}
	return s.fromValues(values)
}

// UnpackBytes decodes a FileDef from b.
func (s *FileDefSerializer) UnpackBytes(b []byte) (FileDef, error) {
	values, err := s.Layout.UnpackBytes(b)
	if err != nil {
		return FileDef{}, &FormatError{Section: "file def", Reason: "short read", Err: err}
	}
	return s.fromValues(values)
}

func (s *FileDefSerializer) fromValues(values []any) (FileDef, error) {
	ints := make([]uint32, len(values))
	for i, v := range values {
		n, ok := asUint32(v)
		if !ok {
			return FileDef{}, Formatf("file def", "field %d is not an integer", i)
		}
		ints[i] = n
	}

	st, err := StorageTypeFromCode(ints[1])
	if err != nil {
		return FileDef{}, err
	}
	return FileDef{
		NamePos:         ints[0],
		StorageType:     st,
		DataPos:         ints[2],
		LengthInArchive: ints[3],
		LengthOnDisk:    ints[4],
	}, nil
}

// Pack encodes f to w and returns the bytes written.
func (s *FileDefSerializer) Pack(w io.Writer, f FileDef) (int, error) {
	if !f.StorageType.Valid() {
		return 0, fmt.Errorf("packing file def: unknown storage type %d", f.StorageType)
	}
	return s.Layout.Pack(w, f.NamePos, f.StorageType.Code(), f.DataPos, f.LengthInArchive, f.LengthOnDisk)
}

func asUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint8:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	case uint32:
		return n, true
	}
	return 0, false
}
