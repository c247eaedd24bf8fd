package sga

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jazware/essencefs/pkg/sga/layout"
)

// TocPtr locates one TOC sub-table. Offset is relative to the header position.
type TocPtr struct {
	Offset uint32
	Count  uint16
}

// TocHeader is the TOC preamble.
type TocHeader struct {
	Drives  TocPtr
	Folders TocPtr
	Files   TocPtr
	Names   TocPtr
}

// TocHeaderSerializer reads and writes the four (offset, count) pairs.
type TocHeaderSerializer struct {
	Layout *layout.Layout
}

// DefaultTocHeaderLayout is the preamble layout used by v2.
var DefaultTocHeaderLayout = layout.MustParse("<IH IH IH IH")

func NewTocHeaderSerializer() *TocHeaderSerializer {
	return &TocHeaderSerializer{Layout: DefaultTocHeaderLayout}
}

func (s *TocHeaderSerializer) Unpack(r io.Reader) (TocHeader, error) {
	values, err := s.Layout.Unpack(r)
	if err != nil {
		return TocHeader{}, &FormatError{Section: "toc header", Reason: "short read", Err: err}
	}
	ptr := func(i int) TocPtr {
		return TocPtr{Offset: values[i].(uint32), Count: values[i+1].(uint16)}
	}
	return TocHeader{Drives: ptr(0), Folders: ptr(2), Files: ptr(4), Names: ptr(6)}, nil
}

func (s *TocHeaderSerializer) Pack(w io.Writer, h TocHeader) (int, error) {
	return s.Layout.Pack(w,
		h.Drives.Offset, h.Drives.Count,
		h.Folders.Offset, h.Folders.Count,
		h.Files.Offset, h.Files.Count,
		h.Names.Offset, h.Names.Count,
	)
}

// DriveDef is a drive record. Folder and file ranges are half-open [first, last).
type DriveDef struct {
	Alias       string
	Name        string
	FirstFolder uint16
	LastFolder  uint16
	FirstFile   uint16
	LastFile    uint16
	RootFolder  uint16
}

// DriveDefSerializer reads and writes DriveDefs laid out as
// alias, name, first_folder, last_folder, first_file, last_file, root_folder.
type DriveDefSerializer struct {
	Layout *layout.Layout
}

var DefaultDriveLayout = layout.MustParse("<64s 64s 5H")

func NewDriveDefSerializer() *DriveDefSerializer {
	return &DriveDefSerializer{Layout: DefaultDriveLayout}
}

func (s *DriveDefSerializer) UnpackBytes(b []byte) (DriveDef, error) {
	values, err := s.Layout.UnpackBytes(b)
	if err != nil {
		return DriveDef{}, &FormatError{Section: "drive def", Reason: "short read", Err: err}
	}
	return DriveDef{
		Alias:       cString(values[0].([]byte)),
		Name:        cString(values[1].([]byte)),
		FirstFolder: values[2].(uint16),
		LastFolder:  values[3].(uint16),
		FirstFile:   values[4].(uint16),
		LastFile:    values[5].(uint16),
		RootFolder:  values[6].(uint16),
	}, nil
}

func (s *DriveDefSerializer) Pack(w io.Writer, d DriveDef) (int, error) {
	return s.Layout.Pack(w, d.Alias, d.Name, d.FirstFolder, d.LastFolder, d.FirstFile, d.LastFile, d.RootFolder)
}

// FolderDef is a folder record. Its name is a drive-relative path using '\'
// separators; the root folder's name is empty.
type FolderDef struct {
	NamePos     uint32
	FirstFolder uint16
	LastFolder  uint16
	FirstFile   uint16
	LastFile    uint16
}

// FolderDefSerializer reads and writes FolderDefs laid out as
// name_pos, first_folder, last_folder, first_file, last_file.
type FolderDefSerializer struct {
	Layout *layout.Layout
}

var DefaultFolderLayout = layout.MustParse("<I 4H")

func NewFolderDefSerializer() *FolderDefSerializer {
	return &FolderDefSerializer{Layout: DefaultFolderLayout}
}

func (s *FolderDefSerializer) UnpackBytes(b []byte) (FolderDef, error) {
	values, err := s.Layout.UnpackBytes(b)
	if err != nil {
		return FolderDef{}, &FormatError{Section: "folder def", Reason: "short read", Err: err}
	}
	return FolderDef{
		NamePos:     values[0].(uint32),
		FirstFolder: values[1].(uint16),
		LastFolder:  values[2].(uint16),
		FirstFile:   values[3].(uint16),
		LastFile:    values[4].(uint16),
	}, nil
}

func (s *FolderDefSerializer) Pack(w io.Writer, f FolderDef) (int, error) {
	return s.Layout.Pack(w, f.NamePos, f.FirstFolder, f.LastFolder, f.FirstFile, f.LastFile)
}

// NameTable is the blob of NUL-terminated names referenced by folder and file
// records. Positions are byte offsets into the blob.
type NameTable struct {
	names   []string
	offsets map[uint32]string
	index   map[string]uint32
	size    uint32
}

func NewNameTable() *NameTable {
	return &NameTable{
		offsets: make(map[uint32]string),
		index:   make(map[string]uint32),
	}
}

// Add interns name and returns its position.
func (t *NameTable) Add(name string) (uint32, error) {
	if pos, ok := t.index[name]; ok {
		return pos, nil
	}
	if strings.IndexByte(name, 0) >= 0 {
		return 0, fmt.Errorf("name %q contains NUL", name)
	}
	pos := t.size
	t.names = append(t.names, name)
	t.offsets[pos] = name
	t.index[name] = pos
	t.size += uint32(len(name)) + 1
	return pos, nil
}

// Lookup resolves a position to a name. Positions that do not start a name are
// a format error.
func (t *NameTable) Lookup(pos uint32) (string, error) {
	name, ok := t.offsets[pos]
	if !ok {
		return "", Formatf("name table", "no name at offset %d", pos)
	}
	return name, nil
}

// Len returns the number of names.
func (t *NameTable) Len() int { return len(t.names) }

// Size returns the encoded size in bytes.
func (t *NameTable) Size() uint32 { return t.size }

// Bytes encodes the table.
func (t *NameTable) Bytes() []byte {
	buf := make([]byte, 0, t.size)
	for _, n := range t.names {
		buf = append(buf, n...)
		buf = append(buf, 0)
	}
	return buf
}

// ParseNameTable decodes a name table from data. When countIsNames is true,
// count is the number of names and data may extend past the table; otherwise
// count is the byte size of the table.
func ParseNameTable(data []byte, count int, countIsNames bool) (*NameTable, error) {
	t := NewNameTable()
	if !countIsNames {
		if count > len(data) {
			return nil, Formatf("name table", "size %d exceeds header (%d bytes left)", count, len(data))
		}
		data = data[:count]
	}

	var pos uint32
	for len(data) > 0 {
		if countIsNames && t.Len() == count {
			break
		}
		i := bytes.IndexByte(data, 0)
		if i < 0 {
			return nil, Formatf("name table", "unterminated name at offset %d", pos)
		}
		name := string(data[:i])
		t.names = append(t.names, name)
		t.offsets[pos] = name
		if _, dup := t.index[name]; !dup {
			t.index[name] = pos
		}
		pos += uint32(i) + 1
		data = data[i+1:]
	}
	t.size = pos

	if countIsNames && t.Len() != count {
		return nil, Formatf("name table", "found %d names, want %d", t.Len(), count)
	}
	return t, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
