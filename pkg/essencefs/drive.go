package essencefs

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sync"
	"time"
)

// Source produces file content on demand. Archive readers hand these out so
// payloads are only read when asked for.
type Source interface {
	ReadAll() ([]byte, error)
	Size() int64
}

// BytesSource is an in-memory Source.
type BytesSource []byte

func (b BytesSource) ReadAll() ([]byte, error) { return []byte(b), nil }
func (b BytesSource) Size() int64              { return int64(len(b)) }

type entryState int

const (
	stateUnvisited entryState = iota
	statePopulated
	stateDeleted
)

type entry struct {
	name  string
	dir   bool
	state entryState

	children map[string]*entry
	source   Source
	essence  Essence

	created  time.Time
	modified time.Time
	accessed time.Time
}

func newEntry(name string, dir bool) *entry {
	now := time.Now()
	e := &entry{name: name, dir: dir, created: now, modified: now, accessed: now}
	if dir {
		e.children = make(map[string]*entry)
	}
	return e
}

func (e *entry) size() int64 {
	if e.dir || e.source == nil {
		return 0
	}
	return e.source.Size()
}

func (e *entry) attach(child *entry) {
	e.children[child.name] = child
	e.state = statePopulated
	e.modified = time.Now()
}

func (e *entry) detach(name string) {
	if child, ok := e.children[name]; ok {
		child.markDeleted()
		delete(e.children, name)
		e.modified = time.Now()
	}
}

func (e *entry) markDeleted() {
	e.state = stateDeleted
	for _, c := range e.children {
		c.markDeleted()
	}
}

func (e *entry) sortedNames() []string {
	names := make([]string, 0, len(e.children))
	for n := range e.children {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// DriveFS is one named tree inside an archive. Paths use '/' separators;
// '\' is accepted and an optional "alias:" prefix naming this drive is
// stripped. All methods are safe for concurrent use.
type DriveFS struct {
	alias string
	name  string

	mu     sync.RWMutex
	root   *entry
	closed bool
}

// NewDriveFS creates an empty drive.
func NewDriveFS(alias, name string) *DriveFS {
	return &DriveFS{alias: alias, name: name, root: newEntry("", true)}
}

// Alias returns the short identifier used in "alias:/path" references.
func (d *DriveFS) Alias() string { return d.alias }

// Name returns the display name of the drive.
func (d *DriveFS) Name() string { return d.name }

func (d *DriveFS) validatePath(p string) (string, error) {
	if alias, rest, ok := SplitAlias(p); ok {
		if alias != d.alias {
			return "", ErrInvalidPath
		}
		p = rest
	}
	norm, ok := normalizePath(p)
	if !ok {
		return "", ErrInvalidPath
	}
	return norm, nil
}

// lookup resolves p to an entry. Callers hold d.mu.
func (d *DriveFS) lookup(op, p string) (*entry, string, error) {
	if d.closed {
		return nil, p, pathErr(op, p, ErrFilesystemClosed)
	}
	norm, err := d.validatePath(p)
	if err != nil {
		return nil, p, pathErr(op, p, err)
	}
	cur := d.root
	for _, part := range splitPath(norm) {
		if !cur.dir {
			return nil, norm, pathErr(op, norm, ErrResourceNotFound)
		}
		next, ok := cur.children[part]
		if !ok {
			return nil, norm, pathErr(op, norm, ErrResourceNotFound)
		}
		cur = next
	}
	return cur, norm, nil
}

// parentOf resolves the directory that holds p and returns it with the base
// name. Callers hold d.mu.
func (d *DriveFS) parentOf(op, p string) (*entry, string, string, error) {
	if d.closed {
		return nil, "", p, pathErr(op, p, ErrFilesystemClosed)
	}
	norm, err := d.validatePath(p)
	if err != nil {
		return nil, "", p, pathErr(op, p, err)
	}
	parts := splitPath(norm)
	if len(parts) == 0 {
		return nil, "", norm, nil
	}
	cur := d.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.children[part]
		if !ok {
			return nil, "", norm, pathErr(op, norm, ErrResourceNotFound)
		}
		if !next.dir {
			return nil, "", norm, pathErr(op, norm, ErrDirectoryExpected)
		}
		cur = next
	}
	return cur, parts[len(parts)-1], norm, nil
}

// GetInfo returns the entry's info. The basic namespace is always filled;
// pass NamespaceDetails or NamespaceEssence for more.
func (d *DriveFS) GetInfo(p string, namespaces ...string) (*Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, _, err := d.lookup("getinfo", p)
	if err != nil {
		return nil, err
	}
	return e.info(namespaces), nil
}

// SetInfo updates timestamps and/or essence of an existing entry.
func (d *DriveFS) SetInfo(p string, update InfoUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, base, norm, err := d.parentOf("setinfo", p)
	if err != nil {
		return err
	}
	e := d.root
	if parent != nil {
		var ok bool
		if e, ok = parent.children[base]; !ok {
			return pathErr("setinfo", norm, ErrResourceNotFound)
		}
	}
	if update.Created != nil {
		e.created = *update.Created
	}
	if update.Modified != nil {
		e.modified = *update.Modified
	}
	if update.Accessed != nil {
		e.accessed = *update.Accessed
	}
	if update.Essence != nil {
		e.essence = update.Essence.Clone()
	}
	return nil
}

// GetEssence returns a copy of the entry's essence, nil if none was set.
func (d *DriveFS) GetEssence(p string) (Essence, error) {
	info, err := d.GetInfo(p, NamespaceEssence)
	if err != nil {
		return nil, err
	}
	return info.Essence, nil
}

// SetEssence replaces the entry's essence.
func (d *DriveFS) SetEssence(p string, essence Essence) error {
	if essence == nil {
		essence = Essence{}
	}
	return d.SetInfo(p, InfoUpdate{Essence: essence})
}

// MakeDir creates a directory. The parent must exist.
func (d *DriveFS) MakeDir(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, base, norm, err := d.parentOf("makedir", p)
	if err != nil {
		return err
	}
	if parent == nil {
		return pathErr("makedir", norm, ErrDirectoryExists)
	}
	if existing, ok := parent.children[base]; ok {
		if existing.dir {
			return pathErr("makedir", norm, ErrDirectoryExists)
		}
		return pathErr("makedir", norm, ErrDirectoryExpected)
	}
	parent.attach(newEntry(base, true))
	return nil
}

// MakeDirs creates a directory and any missing parents. Existing directories
// along the way are fine.
func (d *DriveFS) MakeDirs(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.makeDirs("makedirs", p)
	return err
}

func (d *DriveFS) makeDirs(op, p string) (*entry, error) {
	if d.closed {
		return nil, pathErr(op, p, ErrFilesystemClosed)
	}
	norm, err := d.validatePath(p)
	if err != nil {
		return nil, pathErr(op, p, err)
	}
	cur := d.root
	for _, part := range splitPath(norm) {
		next, ok := cur.children[part]
		if !ok {
			next = newEntry(part, true)
			cur.attach(next)
		} else if !next.dir {
			return nil, pathErr(op, norm, ErrDirectoryExpected)
		}
		cur = next
	}
	return cur, nil
}

// WriteBytes creates or replaces a file with data. The parent must exist.
func (d *DriveFS) WriteBytes(p string, data []byte) error {
	return d.writeSource("writebytes", p, BytesSource(slices.Clone(data)), nil, false)
}

// WriteSource creates or replaces a file whose content is produced by src.
// A non-nil essence is attached to the new entry.
func (d *DriveFS) WriteSource(p string, src Source, essence Essence) error {
	return d.writeSource("writesource", p, src, essence, false)
}

// AddSource is WriteSource that also creates missing parent directories.
func (d *DriveFS) AddSource(p string, src Source, essence Essence) error {
	return d.writeSource("addsource", p, src, essence, true)
}

func (d *DriveFS) writeSource(op, p string, src Source, essence Essence, parents bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if parents && !d.closed {
		norm, err := d.validatePath(p)
		if err != nil {
			return pathErr(op, p, err)
		}
		if _, err := d.makeDirs(op, path.Dir(norm)); err != nil {
			return err
		}
	}

	parent, base, norm, err := d.parentOf(op, p)
	if err != nil {
		return err
	}
	if parent == nil {
		return pathErr(op, norm, ErrFileExpected)
	}
	if existing, ok := parent.children[base]; ok && existing.dir {
		return pathErr(op, norm, ErrFileExpected)
	}
	e := newEntry(base, false)
	e.source = src
	e.essence = essence.Clone()
	parent.attach(e)
	return nil
}

// ReadBytes returns the full content of a file.
func (d *DriveFS) ReadBytes(p string) ([]byte, error) {
	d.mu.RLock()
	e, norm, err := d.lookup("readbytes", p)
	var src Source
	if err == nil {
		if e.dir {
			err = pathErr("readbytes", norm, ErrFileExpected)
		} else {
			src = e.source
		}
	}
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if src == nil {
		return []byte{}, nil
	}

	// Sources may do I/O; read outside the lock.
	data, err := src.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("readbytes %s: %w", norm, err)
	}
	d.mu.Lock()
	e.accessed = time.Now()
	d.mu.Unlock()
	return data, nil
}

// ListDir returns the sorted names in a directory.
func (d *DriveFS) ListDir(p string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, norm, err := d.lookup("listdir", p)
	if err != nil {
		return nil, err
	}
	if !e.dir {
		return nil, pathErr("listdir", norm, ErrDirectoryExpected)
	}
	return e.sortedNames(), nil
}

// ScanDir returns info for every entry in a directory, sorted by name.
func (d *DriveFS) ScanDir(p string, namespaces ...string) ([]*Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, norm, err := d.lookup("scandir", p)
	if err != nil {
		return nil, err
	}
	if !e.dir {
		return nil, pathErr("scandir", norm, ErrDirectoryExpected)
	}
	infos := make([]*Info, 0, len(e.children))
	for _, name := range e.sortedNames() {
		infos = append(infos, e.children[name].info(namespaces))
	}
	return infos, nil
}

// WalkFunc is called for every entry under the walk root. Returning
// fs.SkipDir from a directory skips its contents; from a file it skips the
// remaining entries of that file's directory. fs.SkipAll ends the walk without
// error and any other error stops it.
type WalkFunc func(path string, info *Info) error

// Walk visits the tree rooted at p depth first in name order. The root itself
// is not passed to fn.
func (d *DriveFS) Walk(p string, fn WalkFunc, namespaces ...string) error {
	d.mu.RLock()
	e, norm, err := d.lookup("walk", p)
	if err == nil && !e.dir {
		err = pathErr("walk", norm, ErrDirectoryExpected)
	}
	if err != nil {
		d.mu.RUnlock()
		return err
	}
	type item struct {
		path      string
		info      *Info
		skip      int // descendants that follow this item
		parentEnd int // index just past the last entry of the parent directory
	}
	// Snapshot under the lock so fn may call back into the drive.
	var items []item
	var collect func(dir *entry, base string) int
	collect = func(dir *entry, base string) int {
		var siblings []int
		total := 0
		for _, name := range dir.sortedNames() {
			child := dir.children[name]
			idx := len(items)
			siblings = append(siblings, idx)
			items = append(items, item{path: JoinPath(base, name), info: child.info(namespaces)})
			n := 0
			if child.dir {
				n = collect(child, items[idx].path)
			}
			items[idx].skip = n
			total += 1 + n
		}
		for _, idx := range siblings {
			items[idx].parentEnd = len(items)
		}
		return total
	}
	collect(e, norm)
	d.mu.RUnlock()

	for i := 0; i < len(items); i++ {
		it := items[i]
		if err := fn(it.path, it.info); err != nil {
			if errors.Is(err, fs.SkipDir) {
				if it.info.IsDir {
					i += it.skip
				} else {
					i = it.parentEnd - 1
				}
				continue
			}
			if errors.Is(err, fs.SkipAll) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (d *DriveFS) Exists(p string) bool {
	_, err := d.GetInfo(p)
	return err == nil
}

// IsDir reports whether p names a directory.
func (d *DriveFS) IsDir(p string) bool {
	info, err := d.GetInfo(p)
	return err == nil && info.IsDir
}

// IsFile reports whether p names a file.
func (d *DriveFS) IsFile(p string) bool {
	info, err := d.GetInfo(p)
	return err == nil && !info.IsDir
}

// Remove deletes a file.
func (d *DriveFS) Remove(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, base, norm, err := d.parentOf("remove", p)
	if err != nil {
		return err
	}
	if parent == nil {
		return pathErr("remove", norm, ErrFileExpected)
	}
	e, ok := parent.children[base]
	if !ok {
		return pathErr("remove", norm, ErrResourceNotFound)
	}
	if e.dir {
		return pathErr("remove", norm, ErrFileExpected)
	}
	parent.detach(base)
	return nil
}

// RemoveDir deletes an empty directory.
func (d *DriveFS) RemoveDir(p string) error {
	return d.removeDir("removedir", p, false)
}

// RemoveTree deletes a directory and everything below it.
func (d *DriveFS) RemoveTree(p string) error {
	return d.removeDir("removetree", p, true)
}

func (d *DriveFS) removeDir(op, p string, recursive bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, base, norm, err := d.parentOf(op, p)
	if err != nil {
		return err
	}
	if parent == nil {
		return pathErr(op, norm, ErrRemoveRoot)
	}
	e, ok := parent.children[base]
	if !ok {
		return pathErr(op, norm, ErrResourceNotFound)
	}
	if !e.dir {
		return pathErr(op, norm, ErrDirectoryExpected)
	}
	if !recursive && len(e.children) > 0 {
		return pathErr(op, norm, ErrDirectoryNotEmpty)
	}
	parent.detach(base)
	return nil
}

// Close releases the tree. Further operations fail with ErrFilesystemClosed.
func (d *DriveFS) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.root.markDeleted()
	d.root = newEntry("", true)
	return nil
}
