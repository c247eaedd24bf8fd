// Package essencefs is the in-memory filesystem view of an archive: a set of
// named drives, each a tree of directories and files carrying archive
// metadata ("essence").
package essencefs

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MetaNamespace is the filesystem meta namespace archive handlers use.
const MetaNamespace = "essence"

// FS is the operation set shared by a single drive and the drive aggregate.
type FS interface {
	GetInfo(p string, namespaces ...string) (*Info, error)
	SetInfo(p string, update InfoUpdate) error
	GetEssence(p string) (Essence, error)
	SetEssence(p string, essence Essence) error
	MakeDir(p string) error
	MakeDirs(p string) error
	WriteBytes(p string, data []byte) error
	WriteSource(p string, src Source, essence Essence) error
	ReadBytes(p string) ([]byte, error)
	ListDir(p string) ([]string, error)
	ScanDir(p string, namespaces ...string) ([]*Info, error)
	Walk(p string, fn WalkFunc, namespaces ...string) error
	Exists(p string) bool
	IsDir(p string) bool
	IsFile(p string) bool
	Remove(p string) error
	RemoveDir(p string) error
	RemoveTree(p string) error
	Close() error
}

var (
	_ FS = (*DriveFS)(nil)
	_ FS = (*EssenceFS)(nil)
)

// EssenceFS aggregates drives. Paths may be prefixed with "alias:" to address
// a drive directly; unprefixed reads go to the first drive that holds the
// path and unprefixed writes go to the first drive created.
type EssenceFS struct {
	logger *slog.Logger

	mu      sync.RWMutex
	drives  []*DriveFS
	meta    map[string]map[string]any
	onClose []func() error
	closed  bool
}

// Option configures an EssenceFS.
type Option func(*EssenceFS)

// WithLogger sets the logger used for drive bookkeeping.
func WithLogger(logger *slog.Logger) Option {
	return func(e *EssenceFS) {
		e.logger = logger
	}
}

// New returns an empty filesystem with no drives.
func New(opts ...Option) *EssenceFS {
	e := &EssenceFS{
		logger: slog.Default(),
		meta:   make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "essencefs")
	return e
}

// CreateDrive adds an empty drive. Aliases must be unique and may not contain
// ':' or path separators.
func (e *EssenceFS) CreateDrive(alias, name string) (*DriveFS, error) {
	if alias == "" || strings.ContainsAny(alias, `:/\`) {
		return nil, pathErr("createdrive", alias, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, pathErr("createdrive", alias, ErrFilesystemClosed)
	}
	for _, d := range e.drives {
		if d.alias == alias {
			return nil, pathErr("createdrive", alias, ErrDriveExists)
		}
	}
	d := NewDriveFS(alias, name)
	e.drives = append(e.drives, d)
	e.logger.Debug("created drive", "alias", alias, "name", name, "writable", len(e.drives) == 1)
	return d, nil
}

// Drive returns the drive with the given alias.
func (e *EssenceFS) Drive(alias string) (*DriveFS, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, d := range e.drives {
		if d.alias == alias {
			return d, true
		}
	}
	return nil, false
}

// Drives returns the drives in creation order.
func (e *EssenceFS) Drives() []*DriveFS {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Clone(e.drives)
}

// WritableDrive returns the drive unprefixed writes go to, nil if none exists.
func (e *EssenceFS) WritableDrive() *DriveFS {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.drives) == 0 {
		return nil
	}
	return e.drives[0]
}

func (e *EssenceFS) delegate(op, p string, write bool) (*DriveFS, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, pathErr(op, p, ErrFilesystemClosed)
	}
	if alias, _, ok := SplitAlias(p); ok {
		for _, d := range e.drives {
			if d.alias == alias {
				return d, nil
			}
		}
		return nil, pathErr(op, p, ErrInvalidPath)
	}
	if len(e.drives) == 0 {
		return nil, pathErr(op, p, ErrResourceNotFound)
	}
	if !write {
		for _, d := range e.drives {
			if d.Exists(p) {
				return d, nil
			}
		}
	}
	return e.drives[0], nil
}

// GetInfo returns info for p.
func (e *EssenceFS) GetInfo(p string, namespaces ...string) (*Info, error) {
	d, err := e.delegate("getinfo", p, false)
	if err != nil {
		return nil, err
	}
	return d.GetInfo(p, namespaces...)
}

// SetInfo updates the entry at p.
func (e *EssenceFS) SetInfo(p string, update InfoUpdate) error {
	d, err := e.delegate("setinfo", p, false)
	if err != nil {
		return err
	}
	return d.SetInfo(p, update)
}

// GetEssence returns the essence of p.
func (e *EssenceFS) GetEssence(p string) (Essence, error) {
	d, err := e.delegate("getessence", p, false)
	if err != nil {
		return nil, err
	}
	return d.GetEssence(p)
}

// SetEssence replaces the essence of p.
func (e *EssenceFS) SetEssence(p string, essence Essence) error {
	d, err := e.delegate("setessence", p, false)
	if err != nil {
		return err
	}
	return d.SetEssence(p, essence)
}

// MakeDir creates a directory.
func (e *EssenceFS) MakeDir(p string) error {
	d, err := e.delegate("makedir", p, true)
	if err != nil {
		return err
	}
	return d.MakeDir(p)
}

// MakeDirs creates a directory and its parents.
func (e *EssenceFS) MakeDirs(p string) error {
	d, err := e.delegate("makedirs", p, true)
	if err != nil {
		return err
	}
	return d.MakeDirs(p)
}

// WriteBytes creates or replaces a file.
func (e *EssenceFS) WriteBytes(p string, data []byte) error {
	d, err := e.delegate("writebytes", p, true)
	if err != nil {
		return err
	}
	return d.WriteBytes(p, data)
}

// WriteSource creates or replaces a file backed by src.
func (e *EssenceFS) WriteSource(p string, src Source, essence Essence) error {
	d, err := e.delegate("writesource", p, true)
	if err != nil {
		return err
	}
	return d.WriteSource(p, src, essence)
}

// ReadBytes returns the content of a file.
func (e *EssenceFS) ReadBytes(p string) ([]byte, error) {
	d, err := e.delegate("readbytes", p, false)
	if err != nil {
		return nil, err
	}
	return d.ReadBytes(p)
}

// ListDir lists a directory. Without an alias the listings of every drive
// holding the directory are merged.
func (e *EssenceFS) ListDir(p string) ([]string, error) {
	infos, err := e.ScanDir(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

// ScanDir returns info for a directory's entries. Without an alias entries
// from earlier drives shadow same-named entries from later ones.
func (e *EssenceFS) ScanDir(p string, namespaces ...string) ([]*Info, error) {
	if _, _, ok := SplitAlias(p); ok {
		d, err := e.delegate("scandir", p, false)
		if err != nil {
			return nil, err
		}
		return d.ScanDir(p, namespaces...)
	}

	var (
		merged   = make(map[string]*Info)
		found    bool
		firstErr error
	)
	for _, d := range e.Drives() {
		infos, err := d.ScanDir(p, namespaces...)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		found = true
		for _, info := range infos {
			if _, ok := merged[info.Name]; !ok {
				merged[info.Name] = info
			}
		}
	}
	if !found {
		if firstErr == nil {
			firstErr = pathErr("scandir", p, ErrResourceNotFound)
		}
		return nil, firstErr
	}
	out := make([]*Info, 0, len(merged))
	for _, name := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, merged[name])
	}
	return out, nil
}

// Walk walks p on the drive that holds it.
func (e *EssenceFS) Walk(p string, fn WalkFunc, namespaces ...string) error {
	d, err := e.delegate("walk", p, false)
	if err != nil {
		return err
	}
	return d.Walk(p, fn, namespaces...)
}

// Exists reports whether p names an entry on any drive.
func (e *EssenceFS) Exists(p string) bool {
	d, err := e.delegate("exists", p, false)
	return err == nil && d.Exists(p)
}

// IsDir reports whether p names a directory.
func (e *EssenceFS) IsDir(p string) bool {
	d, err := e.delegate("isdir", p, false)
	return err == nil && d.IsDir(p)
}

// IsFile reports whether p names a file.
func (e *EssenceFS) IsFile(p string) bool {
	d, err := e.delegate("isfile", p, false)
	return err == nil && d.IsFile(p)
}

// Remove deletes a file.
func (e *EssenceFS) Remove(p string) error {
	d, err := e.delegate("remove", p, false)
	if err != nil {
		return err
	}
	return d.Remove(p)
}

// RemoveDir deletes an empty directory.
func (e *EssenceFS) RemoveDir(p string) error {
	d, err := e.delegate("removedir", p, false)
	if err != nil {
		return err
	}
	return d.RemoveDir(p)
}

// RemoveTree deletes a directory and everything below it.
func (e *EssenceFS) RemoveTree(p string) error {
	d, err := e.delegate("removetree", p, false)
	if err != nil {
		return err
	}
	return d.RemoveTree(p)
}

// GetMeta returns a copy of the filesystem meta for namespace.
func (e *EssenceFS) GetMeta(namespace string) map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return maps.Clone(e.meta[namespace])
}

// SetMeta merges values into the meta for namespace.
func (e *EssenceFS) SetMeta(namespace string, values map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.meta[namespace]
	if !ok {
		m = make(map[string]any, len(values))
		e.meta[namespace] = m
	}
	maps.Copy(m, values)
}

// Close closes every drive and runs the registered close hooks.
func (e *EssenceFS) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	drives := e.drives
	hooks := e.onClose
	e.onClose = nil
	e.mu.Unlock()

	var errs []error
	for _, d := range drives {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing drive %q: %w", d.alias, err))
		}
	}
	for _, hook := range hooks {
		if err := hook(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnClose registers fn to run when the filesystem is closed. Archive readers
// use it to release the backing stream.
func (e *EssenceFS) OnClose(fn func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onClose = append(e.onClose, fn)
}
