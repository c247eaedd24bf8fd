// Package sga implements the version-independent pieces of the SGA archive
// container: magic and version words, the archive meta block, file and TOC
// record serializers, and lazy block reads over a shared archive stream.
package sga

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jazware/essencefs/pkg/sga/layout"
)

// Magic is the word every archive starts with.
var Magic = [8]byte{'_', 'A', 'R', 'C', 'H', 'I', 'V', 'E'}

var versionLayout = layout.MustParse("<2H")

// MagicVersionSize is the number of bytes taken by the magic word plus version.
const MagicVersionSize = len(Magic) + 4

// Version identifies an on-disk format revision.
type Version struct {
	Major uint16
	Minor uint16
}

func (v Version) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// ParseVersion parses the "v{major}.{minor}" form produced by String.
func ParseVersion(s string) (Version, error) {
	var v Version
	if _, err := fmt.Sscanf(s, "v%d.%d", &v.Major, &v.Minor); err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}
	if v.String() != s {
		return Version{}, fmt.Errorf("parsing version %q: trailing data", s)
	}
	return v, nil
}

// Less orders versions by major, then minor.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// ReadMagicVersion reads and validates the magic word, then reads the version.
func ReadMagicVersion(r io.Reader) (Version, error) {
	var magic [8]byte
	if n, err := io.ReadFull(r, magic[:]); err != nil {
		if n > 0 && !bytes.Equal(magic[:n], Magic[:n]) {
			return Version{}, &MagicError{Got: magic[:n]}
		}
		return Version{}, &FormatError{Section: "magic", Reason: "short read", Err: err}
	}
	if magic != Magic {
		return Version{}, &MagicError{Got: magic[:]}
	}

	values, err := versionLayout.Unpack(r)
	if err != nil {
		return Version{}, &FormatError{Section: "version", Reason: "short read", Err: err}
	}
	return Version{Major: values[0].(uint16), Minor: values[1].(uint16)}, nil
}

// WriteMagicVersion writes the magic word followed by v.
func WriteMagicVersion(w io.Writer, v Version) (int, error) {
	n, err := w.Write(Magic[:])
	if err != nil {
		return n, err
	}
	m, err := versionLayout.Pack(w, v.Major, v.Minor)
	return n + m, err
}

// PeekVersion reads the magic and version from rs and seeks back to where it
// started.
func PeekVersion(rs io.ReadSeeker) (Version, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return Version{}, fmt.Errorf("locating stream start: %w", err)
	}
	v, err := ReadMagicVersion(rs)
	if _, serr := rs.Seek(start, io.SeekStart); serr != nil && err == nil {
		err = fmt.Errorf("rewinding stream: %w", serr)
	}
	return v, err
}
