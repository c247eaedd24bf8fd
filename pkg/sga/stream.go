package sga

import (
	"fmt"
	"io"
	"sync"
)

// SharedStream serialises absolute reads against one archive stream. Every
// LazyBlockReader created while reading an archive holds the same
// SharedStream, so seek+read pairs from different goroutines never interleave.
//
// A SharedStream does not own the underlying stream unless created with
// WithOwnership. After Close, all reads fail with ErrStreamClosed.
type SharedStream struct {
	mu     sync.Mutex
	rs     io.ReadSeeker
	closed bool
	owned  bool
}

// StreamOption configures a SharedStream.
type StreamOption func(*SharedStream)

// WithOwnership makes Close also close the underlying stream if it is an
// io.Closer.
func WithOwnership() StreamOption {
	return func(s *SharedStream) { s.owned = true }
}

// NewSharedStream wraps rs.
func NewSharedStream(rs io.ReadSeeker, opts ...StreamOption) *SharedStream {
	s := &SharedStream{rs: rs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadAt reads exactly n bytes starting at the absolute offset off.
func (s *SharedStream) ReadAt(off int64, n int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to 0x%x: %w", off, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.rs, buf); err != nil {
		return nil, fmt.Errorf("reading %d bytes at 0x%x: %w", n, off, err)
	}
	return buf, nil
}

// Size returns the total length of the stream.
func (s *SharedStream) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	return s.rs.Seek(0, io.SeekEnd)
}

// CopyFrom copies the byte range [off, end of stream) into w.
func (s *SharedStream) CopyFrom(w io.Writer, off int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking to 0x%x: %w", off, err)
	}
	return io.Copy(w, s.rs)
}

// Closed reports whether Close has been called.
func (s *SharedStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close invalidates all readers sharing this stream.
func (s *SharedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.rs.(io.Closer); ok && s.owned {
		return c.Close()
	}
	return nil
}
