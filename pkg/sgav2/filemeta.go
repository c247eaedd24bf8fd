package sgav2

import (
	"bytes"
	"fmt"

	"github.com/jazware/essencefs/pkg/sga"
	"github.com/jazware/essencefs/pkg/sga/layout"
)

// fileHeaderLayout is the record written immediately before every payload:
// name, unk, crc32.
var fileHeaderLayout = layout.MustParse("<256s I I")

// FileHeaderSize is the width of the per-file header.
var FileHeaderSize = fileHeaderLayout.Size()

const fileHeaderNameWidth = 256

// FileHeader is the per-file record preceding each payload in the data region.
type FileHeader struct {
	Name  string
	Unk   uint32
	CRC32 uint32
}

func (h FileHeader) pack() ([]byte, error) {
	if len(h.Name) > fileHeaderNameWidth {
		return nil, fmt.Errorf("file name %q longer than %d bytes", h.Name, fileHeaderNameWidth)
	}
	return fileHeaderLayout.PackBytes(h.Name, h.Unk, h.CRC32)
}

func unpackFileHeader(b []byte) (FileHeader, error) {
	values, err := fileHeaderLayout.UnpackBytes(b)
	if err != nil {
		return FileHeader{}, &sga.FormatError{Section: "file header", Reason: "short read", Err: err}
	}
	name := values[0].([]byte)
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return FileHeader{
		Name:  string(name),
		Unk:   values[1].(uint32),
		CRC32: values[2].(uint32),
	}, nil
}

// probeFileHeader reads the header before a payload at dataOff (absolute).
// ok is false when there is no room for a header, the name does not match or
// the stored CRC is zero; the caller then regenerates the CRC.
func probeFileHeader(stream *sga.SharedStream, regionStart, dataOff int64, want string) (FileHeader, bool, error) {
	start := dataOff - int64(FileHeaderSize)
	if start < regionStart {
		return FileHeader{}, false, nil
	}
	raw, err := stream.ReadAt(start, int64(FileHeaderSize))
	if err != nil {
		return FileHeader{}, false, err
	}
	h, err := unpackFileHeader(raw)
	if err != nil {
		return FileHeader{}, false, nil
	}
	if h.Name != want || h.CRC32 == 0 {
		return h, false, nil
	}
	return h, true, nil
}
