package sgav2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jazware/essencefs/pkg/essencefs"
	"github.com/jazware/essencefs/pkg/sga"
)

// plannedFile is one file on its way into the data region.
type plannedFile struct {
	path    string // alias-qualified
	name    string
	namePos uint32
	storage sga.StorageType
	unk     uint32

	size    int
	crc     uint32
	payload []byte
}

// disassembler turns an EssenceFS into archive bytes.
type disassembler struct {
	opts options
	fsys *essencefs.EssenceFS

	toc   *toc
	files []*plannedFile
}

func newDisassembler(fsys *essencefs.EssenceFS, opts options) *disassembler {
	return &disassembler{
		opts: opts,
		fsys: fsys,
		toc:  &toc{names: sga.NewNameTable()},
	}
}

// plan lays out every drive breadth first so that the subfolders and files
// of each folder occupy contiguous index ranges.
func (d *disassembler) plan() error {
	for _, drive := range d.fsys.Drives() {
		def := sga.DriveDef{
			Alias:       drive.Alias(),
			Name:        drive.Name(),
			FirstFolder: uint16(len(d.toc.folders)),
			FirstFile:   uint16(len(d.files)),
			RootFolder:  uint16(len(d.toc.folders)),
		}
		if len(def.Alias) > 64 || len(def.Name) > 64 {
			return fmt.Errorf("drive %q: alias and name are limited to 64 bytes", def.Alias)
		}

		queue := []string{"/"}
		d.toc.folders = append(d.toc.folders, sga.FolderDef{})
		for qi := 0; qi < len(queue); qi++ {
			dir := queue[qi]
			infos, err := drive.ScanDir(dir, essencefs.NamespaceEssence)
			if err != nil {
				return fmt.Errorf("listing %s:%s: %w", drive.Alias(), dir, err)
			}

			namePos, err := d.toc.names.Add(archiveFolderName(dir))
			if err != nil {
				return fmt.Errorf("folder %s:%s: %w", drive.Alias(), dir, err)
			}
			folder := sga.FolderDef{
				NamePos:     namePos,
				FirstFolder: uint16(len(d.toc.folders)),
			}
			for _, info := range infos {
				if info.IsDir {
					queue = append(queue, essencefs.JoinPath(dir, info.Name))
					d.toc.folders = append(d.toc.folders, sga.FolderDef{})
				}
			}
			folder.LastFolder = uint16(len(d.toc.folders))

			folder.FirstFile = uint16(len(d.files))
			for _, info := range infos {
				if info.IsDir {
					continue
				}
				f, err := d.planFile(drive, dir, info)
				if err != nil {
					return err
				}
				d.files = append(d.files, f)
			}
			folder.LastFile = uint16(len(d.files))

			d.toc.folders[int(def.FirstFolder)+qi] = folder
		}

		def.LastFolder = uint16(len(d.toc.folders))
		def.LastFile = uint16(len(d.files))
		d.toc.drives = append(d.toc.drives, def)

		if len(d.toc.folders) > math.MaxUint16 || len(d.files) > math.MaxUint16 {
			return fmt.Errorf("too many entries for a v2 archive: %d folders, %d files", len(d.toc.folders), len(d.files))
		}
	}
	return nil
}

func (d *disassembler) planFile(drive *essencefs.DriveFS, dir string, info *essencefs.Info) (*plannedFile, error) {
	p := essencefs.JoinPath(dir, info.Name)
	namePos, err := d.toc.names.Add(info.Name)
	if err != nil {
		return nil, fmt.Errorf("file %s:%s: %w", drive.Alias(), p, err)
	}
	storage, err := essenceStorage(info.Essence, d.opts.defaultStorage)
	if err != nil {
		return nil, fmt.Errorf("file %s:%s: %w", drive.Alias(), p, err)
	}
	unk, _ := info.Essence[EssenceUnk].(uint32)
	return &plannedFile{
		path:    drive.Alias() + ":" + p,
		name:    info.Name,
		namePos: namePos,
		storage: storage,
		unk:     unk,
	}, nil
}

// archiveFolderName renders a drive path as a folder record name.
func archiveFolderName(dir string) string {
	return strings.ReplaceAll(strings.TrimPrefix(dir, "/"), "/", `\`)
}

func essenceStorage(e essencefs.Essence, def sga.StorageType) (sga.StorageType, error) {
	switch v := e[essencefs.EssenceStorageType].(type) {
	case nil:
		return def, nil
	case sga.StorageType:
		if v.Valid() {
			return v, nil
		}
	case string:
		if st, ok := sga.ParseStorageType(v); ok {
			return st, nil
		}
	case uint32:
		return sga.StorageTypeFromCode(v)
	}
	return 0, fmt.Errorf("unusable storage type %v (%T)", e[essencefs.EssenceStorageType], e[essencefs.EssenceStorageType])
}

// compress reads and encodes every planned file. Work is spread over a
// bounded errgroup; results land in each plannedFile.
func (d *disassembler) compress(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.concurrency)
	for _, f := range d.files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := d.fsys.ReadBytes(f.path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.path, err)
			}
			if int64(len(data)) > math.MaxUint32 {
				return fmt.Errorf("%s: %d bytes exceeds the v2 file size limit", f.path, len(data))
			}
			f.size = len(data)
			f.crc = CRC32(data)
			f.payload = data
			if !f.storage.Compressed() {
				return nil
			}

			start := time.Now()
			packed, err := sga.Deflate(data, d.opts.level)
			compressDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				return fmt.Errorf("compressing %s: %w", f.path, err)
			}
			if len(packed) > len(data) {
				// Compressed payloads may never be larger than their content.
				d.opts.logger.Warn("storing incompressible file", "path", f.path, "declared", f.storage.String(), "size", len(data), "compressed", len(packed))
				f.storage = sga.StorageStore
				return nil
			}
			f.payload = packed
			return nil
		})
	}
	return g.Wait()
}

// layoutData writes headers and payloads in TOC order and fills in the file
// records.
func (d *disassembler) layoutData() ([]byte, error) {
	var buf bytes.Buffer
	d.toc.files = make([]sga.FileDef, len(d.files))
	for i, f := range d.files {
		hdr, err := FileHeader{Name: f.name, Unk: f.unk, CRC32: f.crc}.pack()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
		buf.Write(hdr)
		pos := buf.Len()
		buf.Write(f.payload)
		if int64(buf.Len()) > math.MaxUint32 {
			return nil, fmt.Errorf("data region exceeds %d bytes", uint32(math.MaxUint32))
		}
		d.toc.files[i] = sga.FileDef{
			NamePos:         f.namePos,
			StorageType:     f.storage,
			DataPos:         uint32(pos),
			LengthInArchive: uint32(len(f.payload)),
			LengthOnDisk:    uint32(f.size),
		}
		f.payload = nil
	}
	return buf.Bytes(), nil
}

// disassemble writes the whole archive to w and returns the bytes written.
func (d *disassembler) disassemble(ctx context.Context, w io.Writer) (int64, error) {
	if err := d.plan(); err != nil {
		return 0, err
	}
	if err := d.compress(ctx); err != nil {
		return 0, err
	}
	data, err := d.layoutData()
	if err != nil {
		return 0, err
	}
	header, err := d.toc.encode()
	if err != nil {
		return 0, err
	}

	metaSer := sga.NewMetaSerializer()
	headerPos := int64(sga.MagicVersionSize + metaSer.Layout.Size())
	name, _ := d.fsys.GetMeta(essencefs.MetaNamespace)[essencefs.MetaName].(string)
	meta := sga.MetaBlock{
		Name: name,
		Ptrs: sga.ArchivePtrs{
			HeaderPos:  headerPos,
			HeaderSize: int64(len(header)),
			DataPos:    headerPos + int64(len(header)),
		},
		FileMD5:   SaltedMD5(FileMD5Salt, header, data),
		HeaderMD5: SaltedMD5(HeaderMD5Salt, header),
	}

	var total int64
	n, err := sga.WriteMagicVersion(w, Version)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("writing magic: %w", err)
	}
	n, err = metaSer.Pack(w, meta)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("writing meta block: %w", err)
	}
	n, err = w.Write(header)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("writing toc: %w", err)
	}
	n, err = w.Write(data)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("writing data: %w", err)
	}

	d.opts.logger.Debug("wrote archive",
		"name", name,
		"drives", len(d.toc.drives),
		"folders", len(d.toc.folders),
		"files", len(d.toc.files),
		"bytes", total,
	)
	return total, nil
}
