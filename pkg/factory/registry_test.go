package factory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jazware/essencefs/pkg/essencefs"
	"github.com/jazware/essencefs/pkg/sga"
)

// fakeHandler writes the magic, its version and a marker, and reads the
// marker back into a one-file filesystem.
type fakeHandler struct {
	version sga.Version
	reads   int
	writes  int
}

func (f *fakeHandler) Version() sga.Version { return f.version }

func (f *fakeHandler) Read(ctx context.Context, rs io.ReadSeeker) (*essencefs.EssenceFS, error) {
	f.reads++
	v, err := sga.ReadMagicVersion(rs)
	if err != nil {
		return nil, err
	}
	rest, err := io.ReadAll(rs)
	if err != nil {
		return nil, err
	}
	fsys := essencefs.New()
	d, _ := fsys.CreateDrive("data", "Data")
	d.WriteBytes("/marker", rest)
	fsys.SetMeta(essencefs.MetaNamespace, map[string]any{essencefs.MetaVersion: v})
	return fsys, nil
}

func (f *fakeHandler) Write(ctx context.Context, w io.Writer, fsys *essencefs.EssenceFS) (int64, error) {
	f.writes++
	n, err := sga.WriteMagicVersion(w, f.version)
	if err != nil {
		return int64(n), err
	}
	m, err := io.WriteString(w, "fake")
	return int64(n + m), err
}

func archiveBytes(t *testing.T, v sga.Version) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := sga.WriteMagicVersion(&buf, v); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("payload")
	return buf.Bytes()
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	v2 := &fakeHandler{version: sga.Version{Major: 2}}
	v5 := &fakeHandler{version: sga.Version{Major: 5}}
	reg := NewRegistry(WithHandlers(v5))
	reg.Register(v2.Version(), v2)

	if diff := cmp.Diff([]sga.Version{{Major: 2}, {Major: 5}}, reg.Versions()); diff != "" {
		t.Errorf("Versions mismatch (-want +got):\n%s", diff)
	}

	fsys, err := reg.Read(ctx, bytes.NewReader(archiveBytes(t, sga.Version{Major: 2})))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v2.reads != 1 || v5.reads != 0 {
		t.Errorf("dispatch went to the wrong handler: v2=%d v5=%d", v2.reads, v5.reads)
	}
	// The handler must see the stream from the start.
	got, err := fsys.ReadBytes("/marker")
	if err != nil || string(got) != "payload" {
		t.Errorf("marker: %q, %v", got, err)
	}

	var out bytes.Buffer
	n, err := reg.Write(ctx, &out, fsys)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if v2.writes != 1 || n != int64(out.Len()) {
		t.Errorf("Write: writes=%d n=%d len=%d", v2.writes, n, out.Len())
	}

	if _, err := reg.WriteVersion(ctx, &out, fsys, sga.Version{Major: 5}); err != nil || v5.writes != 1 {
		t.Errorf("WriteVersion: %v (writes %d)", err, v5.writes)
	}
	if _, err := reg.ReadVersion(ctx, bytes.NewReader(archiveBytes(t, sga.Version{Major: 2})), sga.Version{Major: 5}); err != nil || v5.reads != 1 {
		t.Errorf("ReadVersion: %v (reads %d)", err, v5.reads)
	}
}

func TestRegistryVersionNotSupported(t *testing.T) {
	reg := NewRegistry(WithHandlers(&fakeHandler{version: sga.Version{Major: 2}}))

	_, err := reg.Read(context.Background(), bytes.NewReader(archiveBytes(t, sga.Version{Major: 9, Minor: 1})))
	var notSupported *VersionNotSupportedError
	if !errors.As(err, &notSupported) {
		t.Fatalf("expected VersionNotSupportedError, got %v", err)
	}
	if notSupported.Version != (sga.Version{Major: 9, Minor: 1}) {
		t.Errorf("Version: got %s", notSupported.Version)
	}
	if diff := cmp.Diff([]sga.Version{{Major: 2}}, notSupported.Known); diff != "" {
		t.Errorf("Known mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, sga.ErrVersion) {
		t.Error("should match sga.ErrVersion")
	}

	def := &fakeHandler{version: sga.Version{Major: 1}}
	if h := reg.Lookup(sga.Version{Major: 9}, def); h != def {
		t.Error("Lookup should return the default for unknown versions")
	}
}

func TestRegistryBadMagic(t *testing.T) {
	reg := NewRegistry(WithHandlers(&fakeHandler{version: sga.Version{Major: 2}}))
	_, err := reg.Read(context.Background(), bytes.NewReader([]byte("NOTANARCHIVE")))
	var magicErr *sga.MagicError
	if !errors.As(err, &magicErr) {
		t.Fatalf("expected MagicError, got %v", err)
	}
}

func TestRegistryResolver(t *testing.T) {
	plugin := &fakeHandler{version: sga.Version{Major: 7, Minor: 2}}
	var asked []string
	reg := NewRegistry(WithResolver(func(name string) (Handler, error) {
		asked = append(asked, name)
		if name == "v7.2" {
			return plugin, nil
		}
		return nil, ErrPluginNotFound
	}))

	h, err := reg.Get(sga.Version{Major: 7, Minor: 2})
	if err != nil || h != plugin {
		t.Fatalf("Get via resolver: %v, %v", h, err)
	}
	// Registered after the first lookup; no second resolver call.
	if _, err := reg.Get(sga.Version{Major: 7, Minor: 2}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"v7.2"}, asked); diff != "" {
		t.Errorf("resolver calls (-want +got):\n%s", diff)
	}

	_, err = reg.Get(sga.Version{Major: 3})
	var notSupported *VersionNotSupportedError
	if !errors.As(err, &notSupported) {
		t.Fatalf("expected VersionNotSupportedError, got %v", err)
	}
	if diff := cmp.Diff([]sga.Version{{Major: 7, Minor: 2}}, notSupported.Known); diff != "" {
		t.Errorf("Known mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryPluginLoadError(t *testing.T) {
	boom := errors.New("plugin init failed")
	reg := NewRegistry(WithResolver(func(name string) (Handler, error) {
		return nil, boom
	}))

	_, err := reg.Get(sga.Version{Major: 2})
	var loadErr *PluginLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected PluginLoadError, got %v", err)
	}
	if loadErr.Name != "v2.0" || !errors.Is(err, boom) {
		t.Errorf("PluginLoadError: %+v", loadErr)
	}
}

func TestMetaVersion(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    sga.Version
		wantErr bool
	}{
		{"version value", sga.Version{Major: 2}, sga.Version{Major: 2}, false},
		{"string", "v2.0", sga.Version{Major: 2}, false},
		{"missing", nil, sga.Version{}, true},
		{"garbage string", "two", sga.Version{}, true},
		{"wrong type", 2, sga.Version{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := essencefs.New()
			if tt.value != nil {
				fsys.SetMeta(essencefs.MetaNamespace, map[string]any{essencefs.MetaVersion: tt.value})
			}
			got, err := MetaVersion(fsys)
			if tt.wantErr {
				if !errors.Is(err, sga.ErrVersion) {
					t.Fatalf("expected version error, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %v, %v", got, err)
			}
		})
	}
}
