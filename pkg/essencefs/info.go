package essencefs

import (
	"maps"
	"time"
)

// Info namespaces.
const (
	NamespaceBasic   = "basic"
	NamespaceDetails = "details"
	NamespaceEssence = "essence"
)

// Essence keys shared by archive handlers.
const (
	EssenceName        = "name"
	EssenceStorageType = "storage_type"
	EssenceCRC32       = "crc32"
)

// Filesystem meta keys under the "essence" namespace.
const (
	MetaVersion = "version"
	MetaName    = "name"
)

// Essence is the archive metadata attached to an entry: checksums, declared
// name, storage classification. Keys are handler specific.
type Essence map[string]any

// Clone returns a shallow copy of e.
func (e Essence) Clone() Essence {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// CRC32 returns the "crc32" value if present.
func (e Essence) CRC32() (uint32, bool) {
	v, ok := e[EssenceCRC32].(uint32)
	return v, ok
}

// String returns a string value for key.
func (e Essence) String(key string) (string, bool) {
	v, ok := e[key].(string)
	return v, ok
}

// Info describes one entry. Fields outside the basic namespace are only filled
// when their namespace was requested.
type Info struct {
	Name  string
	IsDir bool

	// details
	Size     int64
	Created  time.Time
	Modified time.Time
	Accessed time.Time

	// essence
	Essence Essence

	namespaces map[string]bool
}

// HasNamespace reports whether ns was populated.
func (i *Info) HasNamespace(ns string) bool {
	return i.namespaces[ns]
}

// InfoUpdate carries the mutable parts of an entry for SetInfo. Nil fields are
// left unchanged.
type InfoUpdate struct {
	Created  *time.Time
	Modified *time.Time
	Accessed *time.Time
	Essence  Essence
}

func (e *entry) info(namespaces []string) *Info {
	info := &Info{
		Name:       e.name,
		IsDir:      e.dir,
		namespaces: map[string]bool{NamespaceBasic: true},
	}
	for _, ns := range namespaces {
		switch ns {
		case NamespaceDetails:
			info.namespaces[ns] = true
			info.Size = e.size()
			info.Created = e.created
			info.Modified = e.modified
			info.Accessed = e.accessed
		case NamespaceEssence:
			info.namespaces[ns] = true
			info.Essence = e.essence.Clone()
		}
	}
	return info
}
