package sgav2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/jazware/essencefs/pkg/essencefs"
	"github.com/jazware/essencefs/pkg/factory"
	"github.com/jazware/essencefs/pkg/sga"
)

// Essence keys specific to v2 files.
const EssenceUnk = "unk"

// Filesystem meta keys under essencefs.MetaNamespace.
const (
	MetaFileMD5   = "file_md5"
	MetaHeaderMD5 = "header_md5"
)

// assembler turns one archive stream into an EssenceFS.
type assembler struct {
	opts   options
	logger *slog.Logger

	rs      io.ReadSeeker
	stream  *sga.SharedStream
	size    int64
	dataPos int64
	meta    sga.MetaBlock
	toc     *toc
	cache   *lru.ARCCache[int64, []byte]
}

func newAssembler(rs io.ReadSeeker, opts options) (*assembler, error) {
	a := &assembler{opts: opts, logger: opts.logger, rs: rs}
	if opts.cacheSize > 0 {
		cache, err := lru.NewARC[int64, []byte](opts.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating content cache: %w", err)
		}
		a.cache = cache
	}
	return a, nil
}

func (a *assembler) assemble(ctx context.Context) (*essencefs.EssenceFS, error) {
	if err := a.readHeader(); err != nil {
		return nil, err
	}
	if err := a.verifyDigests(); err != nil {
		return nil, err
	}

	fsys := essencefs.New(essencefs.WithLogger(a.opts.baseLogger))
	fsys.OnClose(a.stream.Close)
	for i, d := range a.toc.drives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		drive, err := fsys.CreateDrive(d.Alias, d.Name)
		if err != nil {
			return nil, &sga.FormatError{Section: "drive", Reason: fmt.Sprintf("#%d", i), Err: err}
		}
		if err := a.assembleDrive(ctx, drive, d); err != nil {
			return nil, err
		}
	}

	fsys.SetMeta(essencefs.MetaNamespace, map[string]any{
		essencefs.MetaVersion: Version,
		essencefs.MetaName:    a.meta.Name,
		MetaFileMD5:           slices.Clone(a.meta.FileMD5[:]),
		MetaHeaderMD5:         slices.Clone(a.meta.HeaderMD5[:]),
	})
	return fsys, nil
}

// readHeader reads magic, version, meta block and TOC, and validates the TOC
// structurally.
func (a *assembler) readHeader() error {
	start, err := a.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locating archive start: %w", err)
	}
	v, err := sga.ReadMagicVersion(a.rs)
	if err != nil {
		return err
	}
	if v != Version {
		return &factory.VersionNotSupportedError{Version: v, Known: []sga.Version{Version}}
	}
	a.meta, err = sga.NewMetaSerializer().Unpack(a.rs)
	if err != nil {
		return err
	}
	a.size, err = a.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("locating archive end: %w", err)
	}

	ptrs := a.meta.Ptrs
	ptrs.DataPos += start
	a.meta.Ptrs = ptrs
	if err := ptrs.Validate(); err != nil {
		return err
	}
	if ptrs.HeaderPos+ptrs.HeaderSize > a.size || ptrs.DataPos > a.size {
		return sga.Formatf("archive pointers", "header [0x%x, +%d) or data at 0x%x past the end of a %d byte archive",
			ptrs.HeaderPos, ptrs.HeaderSize, ptrs.DataPos, a.size)
	}
	a.dataPos = ptrs.DataPos

	a.stream = sga.NewSharedStream(a.rs)
	raw, err := a.stream.ReadAt(ptrs.HeaderPos, ptrs.HeaderSize)
	if err != nil {
		return &sga.FormatError{Section: "toc", Reason: "short read", Err: err}
	}
	a.toc, err = parseToc(raw)
	if err != nil {
		return err
	}
	if a.opts.verify >= VerifyHeader {
		if sum := SaltedMD5(HeaderMD5Salt, raw); sum != a.meta.HeaderMD5 {
			checksumMismatchesTotal.WithLabelValues("header_md5").Inc()
			return &sga.MismatchError{What: "header md5", Expected: a.meta.HeaderMD5[:], Actual: sum[:]}
		}
	}
	return nil
}

func (a *assembler) verifyDigests() error {
	if a.opts.verify < VerifyAll {
		return nil
	}
	h := newSaltedMD5(FileMD5Salt)
	if _, err := a.stream.CopyFrom(h, a.meta.Ptrs.HeaderPos); err != nil {
		return fmt.Errorf("hashing archive body: %w", err)
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	if sum != a.meta.FileMD5 {
		checksumMismatchesTotal.WithLabelValues("file_md5").Inc()
		return &sga.MismatchError{What: "file md5", Expected: a.meta.FileMD5[:], Actual: sum[:]}
	}
	return nil
}

// assembleDrive walks the drive's folders from its root. Each folder may be
// reached once and only through its drive's ranges.
func (a *assembler) assembleDrive(ctx context.Context, drive *essencefs.DriveFS, d sga.DriveDef) error {
	visited := make(map[uint16]bool)
	var walk func(idx uint16) error
	walk = func(idx uint16) error {
		if idx < d.FirstFolder || idx >= d.LastFolder {
			return sga.Formatf("folder", "#%d outside drive %q range [%d, %d)", idx, d.Alias, d.FirstFolder, d.LastFolder)
		}
		if visited[idx] {
			return sga.Formatf("folder", "#%d reached twice in drive %q", idx, d.Alias)
		}
		visited[idx] = true

		f := a.toc.folders[idx]
		name, err := a.toc.names.Lookup(f.NamePos)
		if err != nil {
			return err
		}
		dir, err := folderPath(name)
		if err != nil {
			return err
		}
		if dir != "/" {
			if err := drive.MakeDirs(dir); err != nil {
				return &sga.FormatError{Section: "folder", Reason: fmt.Sprintf("#%d", idx), Err: err}
			}
		}

		for i := f.FirstFile; i < f.LastFile; i++ {
			if i < d.FirstFile || i >= d.LastFile {
				return sga.Formatf("folder", "#%d file %d outside drive %q range [%d, %d)", idx, i, d.Alias, d.FirstFile, d.LastFile)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a.assembleFile(drive, dir, int(i)); err != nil {
				return err
			}
		}
		for c := f.FirstFolder; c < f.LastFolder; c++ {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(d.RootFolder)
}

// folderPath converts an archive folder name ("sub\deep") to a drive path.
func folderPath(name string) (string, error) {
	p := "/" + strings.ReplaceAll(name, `\`, "/")
	for _, part := range strings.Split(p, "/")[1:] {
		if part == "." || part == ".." || (part == "" && name != "") {
			return "", sga.Formatf("folder", "invalid folder name %q", name)
		}
	}
	return essencefs.JoinPath(p), nil
}

// assembleFile attaches one FileDef to the drive as a lazily read file.
func (a *assembler) assembleFile(drive *essencefs.DriveFS, dir string, idx int) error {
	def := a.toc.files[idx]
	name, err := a.toc.names.Lookup(def.NamePos)
	if err != nil {
		return err
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return sga.Formatf("file", "#%d has invalid name %q", idx, name)
	}
	p := essencefs.JoinPath(dir, name)
	if drive.Exists(p) {
		return sga.Formatf("file", "#%d duplicates %q", idx, p)
	}

	jump := a.dataPos + int64(def.DataPos)
	if jump+int64(def.LengthInArchive) > a.size {
		return sga.Formatf("file", "%q payload [0x%x, +%d) past the end of a %d byte archive", p, jump, def.LengthInArchive, a.size)
	}
	reader := &sga.LazyBlockReader{
		Stream:       a.stream,
		JumpTo:       jump,
		PackedSize:   int64(def.LengthInArchive),
		UnpackedSize: int64(def.LengthOnDisk),
		Decompress:   def.StorageType.Compressed(),
	}
	src := &fileSource{reader: reader, path: p, cache: a.cache}

	essence := essencefs.Essence{
		essencefs.EssenceName:        name,
		essencefs.EssenceStorageType: def.StorageType,
	}

	hdr, ok, err := probeFileHeader(a.stream, a.dataPos, jump, name)
	if err != nil {
		return &sga.FormatError{Section: "file header", Reason: p, Err: err}
	}
	if ok {
		essence[essencefs.EssenceCRC32] = hdr.CRC32
		essence[EssenceUnk] = hdr.Unk
		src.crc = hdr.CRC32
		src.check = true
		if a.opts.verify >= VerifyAll {
			if _, err := src.ReadAll(); err != nil {
				return err
			}
		}
	} else {
		// No usable header: regenerate the CRC from the payload.
		data, err := reader.ReadAll()
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		crc := CRC32(data)
		essence[essencefs.EssenceCRC32] = crc
		essence[EssenceUnk] = uint32(0)
		src.crc = crc
		src.store(data)
		crcFallbacksTotal.Inc()
		a.logger.Debug("regenerated file crc", "path", p, "crc32", crc)
	}

	if err := drive.WriteSource(p, src, essence); err != nil {
		return &sga.FormatError{Section: "file", Reason: p, Err: err}
	}
	filesAssembledTotal.WithLabelValues(def.StorageType.String()).Inc()
	return nil
}

// fileSource is the content of one archived file. When check is set the
// stored CRC is compared against the payload on the first successful read.
type fileSource struct {
	reader   *sga.LazyBlockReader
	path     string
	crc      uint32
	check    bool
	verified atomic.Bool
	cache    *lru.ARCCache[int64, []byte]
}

func (s *fileSource) Size() int64 { return s.reader.UnpackedSize }

func (s *fileSource) ReadAll() ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(s.reader.JumpTo); ok {
			contentCacheTotal.WithLabelValues("hit").Inc()
			return slices.Clone(data), nil
		}
		contentCacheTotal.WithLabelValues("miss").Inc()
	}

	data, err := s.reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if s.check && !s.verified.Load() {
		if err := VerifyCRC(s.path, s.crc, data); err != nil {
			return nil, err
		}
		s.verified.Store(true)
	}
	s.store(data)
	return data, nil
}

func (s *fileSource) store(data []byte) {
	if s.cache != nil {
		s.cache.Add(s.reader.JumpTo, slices.Clone(data))
	}
}

// VerifyCRC compares the CRC32 of data with expected.
func VerifyCRC(path string, expected uint32, data []byte) error {
	if actual := CRC32(data); actual != expected {
		checksumMismatchesTotal.WithLabelValues("crc32").Inc()
		return &sga.MismatchError{What: "crc32", Path: path, Expected: crcBytes(expected), Actual: crcBytes(actual)}
	}
	return nil
}

// VerifyFS reads every file of every drive and checks it against the crc32
// in its essence. Files without a crc32 are skipped. All mismatches are
// reported.
func VerifyFS(ctx context.Context, fsys *essencefs.EssenceFS) error {
	ctx, span := tracer.Start(ctx, "VerifyFS")
	defer span.End()

	var errs []error
	for _, drive := range fsys.Drives() {
		err := drive.Walk("/", func(p string, info *essencefs.Info) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if info.IsDir {
				return nil
			}
			crc, ok := info.Essence.CRC32()
			if !ok {
				return nil
			}
			data, err := drive.ReadBytes(p)
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			if err := VerifyCRC(drive.Alias()+":"+p, crc, data); err != nil {
				errs = append(errs, err)
			}
			return nil
		}, essencefs.NamespaceEssence)
		if err != nil {
			return err
		}
	}
	if len(errs) > 0 {
		span.RecordError(errs[0])
	}
	return errors.Join(errs...)
}
