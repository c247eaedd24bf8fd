// Package sgav2 reads and writes version 2.0 SGA archives.
//
// A v2 archive is laid out as
//
//	magic "_ARCHIVE" | version <2H> | meta block | TOC | data
//
// where the TOC holds drive, folder and file records plus a names table, and
// the data region holds, for every file, a 264 byte header (name, unk, crc32)
// followed by its payload. Both digests in the meta block are salted MD5s:
// one over the TOC, one over everything from the TOC to the end of the
// archive.
package sgav2

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jazware/essencefs/pkg/essencefs"
	"github.com/jazware/essencefs/pkg/factory"
	"github.com/jazware/essencefs/pkg/sga"
)

// Version is the archive version handled by this package.
var Version = sga.Version{Major: 2, Minor: 0}

// Handler implements factory.Handler for v2.0.
type Handler struct {
	opts options
}

var _ factory.Handler = (*Handler)(nil)

// NewHandler returns a v2 handler.
func NewHandler(opts ...Option) *Handler {
	return &Handler{opts: newOptions(opts)}
}

// Register installs a v2 handler built from opts into reg.
func Register(reg *factory.Registry, opts ...Option) *Handler {
	h := NewHandler(opts...)
	reg.Register(Version, h)
	return h
}

func (h *Handler) Version() sga.Version { return Version }

// Read parses the archive at the current position of rs. File contents stay
// in rs and are read on demand; rs must stay open while the filesystem is in
// use. Closing the filesystem invalidates pending reads but does not close rs.
func (h *Handler) Read(ctx context.Context, rs io.ReadSeeker) (fsys *essencefs.EssenceFS, err error) {
	ctx, span := tracer.Start(ctx, "Read")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		archivesReadTotal.WithLabelValues(resultLabel(err)).Inc()
	}()
	span.SetAttributes(attribute.String("sga.verify", h.opts.verify.String()))

	a, err := newAssembler(rs, h.opts)
	if err != nil {
		return nil, err
	}
	fsys, err = a.assemble(ctx)
	if err != nil {
		if a.stream != nil {
			a.stream.Close()
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("sga.name", a.meta.Name),
		attribute.Int("sga.drives", len(a.toc.drives)),
		attribute.Int("sga.files", len(a.toc.files)),
	)
	h.opts.logger.Debug("read archive",
		"name", a.meta.Name,
		"drives", len(a.toc.drives),
		"folders", len(a.toc.folders),
		"files", len(a.toc.files),
		"size", a.size,
	)
	return fsys, nil
}

// Write serializes fsys as a v2 archive. Digests are computed from the bytes
// produced, never taken from the filesystem meta.
func (h *Handler) Write(ctx context.Context, w io.Writer, fsys *essencefs.EssenceFS) (n int64, err error) {
	ctx, span := tracer.Start(ctx, "Write")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Int64("sga.bytes", n))
		span.End()
		archivesWrittenTotal.WithLabelValues(resultLabel(err)).Inc()
		bytesWrittenTotal.Add(float64(n))
	}()

	return newDisassembler(fsys, h.opts).disassemble(ctx, w)
}
