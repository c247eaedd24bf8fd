package sgav2

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/jazware/essencefs/pkg/sga"
	"github.com/jazware/essencefs/pkg/sga/layout"
)

// NameTocIsCount is true for v2: the names TocPtr counts strings, not bytes.
const NameTocIsCount = true

var (
	tocHeaders = sga.NewTocHeaderSerializer()
	driveDefs  = sga.NewDriveDefSerializer()
	folderDefs = sga.NewFolderDefSerializer()
	fileDefs   = mustFileDefSerializer(layout.MustParse("<5I"))

	tocHeaderSize = tocHeaders.Layout.Size()
	driveDefSize  = driveDefs.Layout.Size()
	folderDefSize = folderDefs.Layout.Size()
	fileDefSize   = fileDefs.Layout.Size()
)

func mustFileDefSerializer(l *layout.Layout) *sga.FileDefSerializer {
	s, err := sga.NewFileDefSerializer(l)
	if err != nil {
		panic(err)
	}
	return s
}

// toc is a decoded table of contents.
type toc struct {
	header  sga.TocHeader
	drives  []sga.DriveDef
	folders []sga.FolderDef
	files   []sga.FileDef
	names   *sga.NameTable
}

type tocSpan struct {
	name       string
	start, end int64
}

// parseToc decodes and validates the header region. Every table must lie
// inside the region without overlapping another, and every range and name
// reference must resolve. Nothing is returned unless all of it holds.
func parseToc(raw []byte) (*toc, error) {
	if len(raw) < tocHeaderSize {
		return nil, sga.Formatf("toc", "header region of %d bytes is smaller than the %d byte preamble", len(raw), tocHeaderSize)
	}
	h, err := tocHeaders.Unpack(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	spans := []tocSpan{{name: "preamble", start: 0, end: int64(tocHeaderSize)}}
	table := func(name string, ptr sga.TocPtr, recSize int) ([]byte, error) {
		start := int64(ptr.Offset)
		end := start + int64(ptr.Count)*int64(recSize)
		if end > int64(len(raw)) {
			return nil, sga.Formatf("toc", "%s table [%d, %d) extends past the %d byte header", name, start, end, len(raw))
		}
		spans = append(spans, tocSpan{name: name, start: start, end: end})
		return raw[start:end], nil
	}

	driveRaw, err := table("drive", h.Drives, driveDefSize)
	if err != nil {
		return nil, err
	}
	folderRaw, err := table("folder", h.Folders, folderDefSize)
	if err != nil {
		return nil, err
	}
	fileRaw, err := table("file", h.Files, fileDefSize)
	if err != nil {
		return nil, err
	}

	if int64(h.Names.Offset) > int64(len(raw)) {
		return nil, sga.Formatf("toc", "name table offset %d past the %d byte header", h.Names.Offset, len(raw))
	}
	names, err := sga.ParseNameTable(raw[h.Names.Offset:], int(h.Names.Count), NameTocIsCount)
	if err != nil {
		return nil, err
	}
	spans = append(spans, tocSpan{name: "name", start: int64(h.Names.Offset), end: int64(h.Names.Offset) + int64(names.Size())})

	if err := checkOverlap(spans); err != nil {
		return nil, err
	}

	t := &toc{header: h, names: names}
	for i := 0; i < int(h.Drives.Count); i++ {
		d, err := driveDefs.UnpackBytes(driveRaw[i*driveDefSize:])
		if err != nil {
			return nil, err
		}
		t.drives = append(t.drives, d)
	}
	for i := 0; i < int(h.Folders.Count); i++ {
		f, err := folderDefs.UnpackBytes(folderRaw[i*folderDefSize:])
		if err != nil {
			return nil, err
		}
		t.folders = append(t.folders, f)
	}
	for i := 0; i < int(h.Files.Count); i++ {
		f, err := fileDefs.UnpackBytes(fileRaw[i*fileDefSize : (i+1)*fileDefSize])
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		t.files = append(t.files, f)
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func checkOverlap(spans []tocSpan) error {
	spans = slices.DeleteFunc(slices.Clone(spans), func(s tocSpan) bool { return s.start == s.end })
	slices.SortFunc(spans, func(a, b tocSpan) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return sga.Formatf("toc", "%s table [%d, %d) overlaps %s table [%d, %d)",
				spans[i].name, spans[i].start, spans[i].end,
				spans[i-1].name, spans[i-1].start, spans[i-1].end)
		}
	}
	return nil
}

func (t *toc) validate() error {
	nFolders, nFiles := len(t.folders), len(t.files)
	for i, d := range t.drives {
		if d.FirstFolder > d.LastFolder || int(d.LastFolder) > nFolders {
			return sga.Formatf("drive", "%q folder range [%d, %d) outside %d folders", d.Alias, d.FirstFolder, d.LastFolder, nFolders)
		}
		if d.FirstFile > d.LastFile || int(d.LastFile) > nFiles {
			return sga.Formatf("drive", "%q file range [%d, %d) outside %d files", d.Alias, d.FirstFile, d.LastFile, nFiles)
		}
		if d.RootFolder < d.FirstFolder || d.RootFolder >= d.LastFolder {
			return sga.Formatf("drive", "%q (#%d) root folder %d outside its folder range [%d, %d)", d.Alias, i, d.RootFolder, d.FirstFolder, d.LastFolder)
		}
	}
	for i, f := range t.folders {
		if _, err := t.names.Lookup(f.NamePos); err != nil {
			return fmt.Errorf("folder %d: %w", i, err)
		}
		if f.FirstFolder > f.LastFolder || int(f.LastFolder) > nFolders {
			return sga.Formatf("folder", "#%d subfolder range [%d, %d) outside %d folders", i, f.FirstFolder, f.LastFolder, nFolders)
		}
		if f.FirstFile > f.LastFile || int(f.LastFile) > nFiles {
			return sga.Formatf("folder", "#%d file range [%d, %d) outside %d files", i, f.FirstFile, f.LastFile, nFiles)
		}
	}
	for i, f := range t.files {
		if _, err := t.names.Lookup(f.NamePos); err != nil {
			return fmt.Errorf("file %d: %w", i, err)
		}
		if f.StorageType.Compressed() && int64(f.LengthOnDisk) > int64(f.LengthInArchive)*sga.MaxDeflateRatio {
			return sga.Formatf("file", "#%d declares %d bytes from a %d byte compressed payload", i, f.LengthOnDisk, f.LengthInArchive)
		}
	}
	return nil
}

// encode lays out preamble, drives, folders, files and names back to back.
func (t *toc) encode() ([]byte, error) {
	for _, n := range []struct {
		what  string
		count int
	}{
		{"drives", len(t.drives)},
		{"folders", len(t.folders)},
		{"files", len(t.files)},
		{"names", t.names.Len()},
	} {
		if n.count > math.MaxUint16 {
			return nil, fmt.Errorf("too many %s for a v2 archive: %d", n.what, n.count)
		}
	}

	off := uint32(tocHeaderSize)
	next := func(count, size int) sga.TocPtr {
		p := sga.TocPtr{Offset: off, Count: uint16(count)}
		off += uint32(count * size)
		return p
	}
	t.header = sga.TocHeader{
		Drives:  next(len(t.drives), driveDefSize),
		Folders: next(len(t.folders), folderDefSize),
		Files:   next(len(t.files), fileDefSize),
	}
	t.header.Names = sga.TocPtr{Offset: off, Count: uint16(t.names.Len())}

	var buf bytes.Buffer
	buf.Grow(int(off) + int(t.names.Size()))
	if _, err := tocHeaders.Pack(&buf, t.header); err != nil {
		return nil, fmt.Errorf("packing toc header: %w", err)
	}
	for _, d := range t.drives {
		if _, err := driveDefs.Pack(&buf, d); err != nil {
			return nil, fmt.Errorf("packing drive %q: %w", d.Alias, err)
		}
	}
	for _, f := range t.folders {
		if _, err := folderDefs.Pack(&buf, f); err != nil {
			return nil, fmt.Errorf("packing folder: %w", err)
		}
	}
	for _, f := range t.files {
		if _, err := fileDefs.Pack(&buf, f); err != nil {
			return nil, fmt.Errorf("packing file: %w", err)
		}
	}
	buf.Write(t.names.Bytes())
	return buf.Bytes(), nil
}
