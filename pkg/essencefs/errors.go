package essencefs

import (
	"errors"
	"fmt"
	"io/fs"
)

// Path errors. Operations return them wrapped in *fs.PathError; match with
// errors.Is.
var (
	ErrResourceNotFound  = fmt.Errorf("resource not found: %w", fs.ErrNotExist)
	ErrInvalidPath       = fmt.Errorf("invalid path: %w", fs.ErrInvalid)
	ErrDirectoryExpected = errors.New("directory expected")
	ErrFileExpected      = errors.New("file expected")
	ErrDirectoryExists   = fmt.Errorf("directory exists: %w", fs.ErrExist)
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrRemoveRoot        = errors.New("root directory may not be removed")
	ErrFilesystemClosed  = fmt.Errorf("filesystem closed: %w", fs.ErrClosed)
	ErrDriveExists       = fmt.Errorf("drive exists: %w", fs.ErrExist)
)

func pathErr(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}
