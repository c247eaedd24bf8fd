package sga

import (
	"errors"
	"fmt"
)

// Error classes. Every typed error in this package (and in version handlers)
// matches exactly one of these with errors.Is.
var (
	// ErrFormat marks structural corruption: bad magic, unknown enum codes,
	// tables outside the stream, dangling name references.
	ErrFormat = errors.New("sga: format error")

	// ErrVersion marks archives whose version has no handler.
	ErrVersion = errors.New("sga: version not supported")

	// ErrIntegrity marks checksum or length mismatches between stored and
	// recomputed values.
	ErrIntegrity = errors.New("sga: integrity error")

	// ErrStreamClosed is returned by lazy reads after the shared stream is closed.
	ErrStreamClosed = errors.New("sga: archive stream closed")
)

// FormatError describes a structural problem in an archive.
type FormatError struct {
	Section string
	Reason  string
	Err     error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("sga: invalid %s: %s", e.Section, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFormat, e.Err}
	}
	return []error{ErrFormat}
}

// Formatf returns a *FormatError for the given section.
func Formatf(section, format string, args ...any) error {
	return &FormatError{Section: section, Reason: fmt.Sprintf(format, args...)}
}

// MagicError is returned when a stream does not start with the archive magic.
type MagicError struct {
	Got []byte
}

func (e *MagicError) Error() string {
	return fmt.Sprintf("sga: bad magic: %q, want %q", e.Got, Magic[:])
}

func (e *MagicError) Is(target error) bool { return target == ErrFormat }

// UnknownStorageTypeError is returned for storage codes outside the known table.
type UnknownStorageTypeError struct {
	Code uint32
}

func (e *UnknownStorageTypeError) Error() string {
	return fmt.Sprintf("sga: unknown storage type code 0x%x", e.Code)
}

func (e *UnknownStorageTypeError) Is(target error) bool { return target == ErrFormat }

// MismatchError reports a stored checksum that disagrees with a recomputed one.
type MismatchError struct {
	What     string // "crc32", "file md5", "header md5"
	Path     string
	Expected []byte
	Actual   []byte
}

func (e *MismatchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sga: %s mismatch for %q: stored %x, computed %x", e.What, e.Path, e.Expected, e.Actual)
	}
	return fmt.Sprintf("sga: %s mismatch: stored %x, computed %x", e.What, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool { return target == ErrIntegrity }

// ContentExtractionError is returned when a lazily read payload does not
// inflate to its declared size.
type ContentExtractionError struct {
	Offset   int64
	Expected int64
	Actual   int64
	Err      error
}

func (e *ContentExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sga: extracting block at 0x%x: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("sga: extracting block at 0x%x: got %d bytes, want %d", e.Offset, e.Actual, e.Expected)
}

func (e *ContentExtractionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrIntegrity, e.Err}
	}
	return []error{ErrIntegrity}
}
