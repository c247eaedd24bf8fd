package sga

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// LazyBlockReader is a not-yet-read file payload inside an archive.
type LazyBlockReader struct {
	Stream       *SharedStream
	JumpTo       int64 // absolute offset of the payload
	PackedSize   int64 // bytes stored in the archive
	UnpackedSize int64 // bytes after decompression
	Decompress   bool
}

// ReadAll seeks to the payload, reads PackedSize bytes and inflates them if
// needed. The result must be exactly UnpackedSize bytes long. Calls are
// idempotent; the seek is absolute.
func (l *LazyBlockReader) ReadAll() ([]byte, error) {
	raw, err := l.Stream.ReadAt(l.JumpTo, l.PackedSize)
	if err != nil {
		if err == ErrStreamClosed {
			return nil, err
		}
		return nil, &ContentExtractionError{Offset: l.JumpTo, Expected: l.UnpackedSize, Err: err}
	}
	lazyReadsTotal.Inc()

	if !l.Decompress {
		if int64(len(raw)) != l.UnpackedSize {
			return nil, &ContentExtractionError{Offset: l.JumpTo, Expected: l.UnpackedSize, Actual: int64(len(raw))}
		}
		return raw, nil
	}

	out, err := Inflate(raw, l.UnpackedSize)
	if err != nil {
		return nil, &ContentExtractionError{Offset: l.JumpTo, Expected: l.UnpackedSize, Err: err}
	}
	if int64(len(out)) != l.UnpackedSize {
		return nil, &ContentExtractionError{Offset: l.JumpTo, Expected: l.UnpackedSize, Actual: int64(len(out))}
	}
	bytesInflatedTotal.Add(float64(len(out)))
	return out, nil
}

// MaxDeflateRatio bounds how much a deflate stream can expand: a payload of n
// bytes never inflates to more than n*MaxDeflateRatio bytes.
const MaxDeflateRatio = 1032

// Inflate decompresses a zlib stream. At most sizeHint+1 bytes are read so
// oversized payloads are detected without inflating them fully. sizeHint is
// untrusted; the initial buffer is capped by what data can expand to.
func Inflate(data []byte, sizeHint int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := bytes.NewBuffer(make([]byte, 0, max(0, min(sizeHint, int64(len(data))*MaxDeflateRatio))))
	if _, err := io.Copy(out, io.LimitReader(zr, sizeHint+1)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Deflate compresses data as a zlib stream at the given level.
func Deflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
