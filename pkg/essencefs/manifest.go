package essencefs

import (
	"fmt"
	"maps"

	"github.com/goccy/go-json"
)

// Manifest is a JSON-friendly listing of a filesystem: its meta and every
// entry of every drive with size and essence.
type Manifest struct {
	Meta   map[string]map[string]any `json:"meta,omitempty"`
	Drives []ManifestDrive           `json:"drives"`
}

type ManifestDrive struct {
	Alias   string          `json:"alias"`
	Name    string          `json:"name"`
	Entries []ManifestEntry `json:"entries"`
}

type ManifestEntry struct {
	Path    string  `json:"path"`
	Dir     bool    `json:"dir,omitempty"`
	Size    int64   `json:"size"`
	Essence Essence `json:"essence,omitempty"`
}

// Manifest walks every drive and collects the listing.
func (e *EssenceFS) Manifest() (*Manifest, error) {
	e.mu.RLock()
	meta := make(map[string]map[string]any, len(e.meta))
	for ns, m := range e.meta {
		meta[ns] = maps.Clone(m)
	}
	e.mu.RUnlock()

	m := &Manifest{Meta: meta}
	for _, d := range e.Drives() {
		md := ManifestDrive{Alias: d.Alias(), Name: d.Name(), Entries: []ManifestEntry{}}
		err := d.Walk("/", func(p string, info *Info) error {
			md.Entries = append(md.Entries, ManifestEntry{
				Path:    p,
				Dir:     info.IsDir,
				Size:    info.Size,
				Essence: info.Essence,
			})
			return nil
		}, NamespaceDetails, NamespaceEssence)
		if err != nil {
			return nil, fmt.Errorf("walking drive %q: %w", d.Alias(), err)
		}
		m.Drives = append(m.Drives, md)
	}
	return m, nil
}

// MarshalManifest renders the manifest as indented JSON.
func (e *EssenceFS) MarshalManifest() ([]byte, error) {
	m, err := e.Manifest()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}
