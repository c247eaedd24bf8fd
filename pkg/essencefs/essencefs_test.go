package essencefs

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

type countingSource struct {
	data  []byte
	reads int
	err   error
}

func (c *countingSource) ReadAll() ([]byte, error) {
	c.reads++
	if c.err != nil {
		return nil, c.err
	}
	return c.data, nil
}

func (c *countingSource) Size() int64 { return int64(len(c.data)) }

func newTestFS(t *testing.T) (*EssenceFS, *DriveFS) {
	t.Helper()
	efs := New()
	d, err := efs.CreateDrive("data", "Data")
	if err != nil {
		t.Fatalf("CreateDrive: %v", err)
	}
	t.Cleanup(func() { efs.Close() })
	return efs, d
}

func TestSplitAlias(t *testing.T) {
	tests := []struct {
		in         string
		alias      string
		rest       string
		wantPrefix bool
	}{
		{"data:/a.txt", "data", "/a.txt", true},
		{"attrib:sub\\b", "attrib", "sub\\b", true},
		{"/a.txt", "", "/a.txt", false},
		{"/dir/x:y", "", "/dir/x:y", false},
		{":/x", "", ":/x", false},
	}
	for _, tt := range tests {
		alias, rest, ok := SplitAlias(tt.in)
		if alias != tt.alias || rest != tt.rest || ok != tt.wantPrefix {
			t.Errorf("SplitAlias(%q) = %q, %q, %v", tt.in, alias, rest, ok)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "/", true},
		{"a.txt", "/a.txt", true},
		{`\sub\b.bin`, "/sub/b.bin", true},
		{"/sub//./b.bin", "/sub/b.bin", true},
		{"/sub/../a.txt", "/a.txt", true},
		{"/../a.txt", "", false},
		{"sub/../../x", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizePath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("normalizePath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDriveReadWrite(t *testing.T) {
	_, d := newTestFS(t)

	if err := d.WriteBytes("/a.txt", []byte("0123456789")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := d.MakeDir("/sub"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := d.WriteBytes(`sub\b.bin`, []byte("bee")); err != nil {
		t.Fatalf("WriteBytes with backslashes: %v", err)
	}

	got, err := d.ReadBytes("data:/a.txt")
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "0123456789" {
		t.Errorf("ReadBytes: got %q", got)
	}

	names, err := d.ListDir("/")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.txt", "sub"}, names); diff != "" {
		t.Errorf("ListDir mismatch (-want +got):\n%s", diff)
	}

	if !d.IsFile("/sub/b.bin") || d.IsDir("/sub/b.bin") || !d.IsDir("/sub") || d.Exists("/nope") {
		t.Error("Exists/IsDir/IsFile disagree with the tree")
	}

	info, err := d.GetInfo("/a.txt", NamespaceDetails)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 10 || !info.HasNamespace(NamespaceDetails) || info.HasNamespace(NamespaceEssence) {
		t.Errorf("GetInfo: got %+v", info)
	}
}

func TestDriveWriteDoesNotAlias(t *testing.T) {
	_, d := newTestFS(t)

	buf := []byte("abc")
	if err := d.WriteBytes("/x", buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'z'
	got, _ := d.ReadBytes("/x")
	if string(got) != "abc" {
		t.Errorf("stored content changed with the caller's buffer: %q", got)
	}
}

func TestDriveErrors(t *testing.T) {
	_, d := newTestFS(t)
	d.WriteBytes("/file", []byte("x"))
	d.MakeDirs("/dir/nested")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"read missing", func() error { _, err := d.ReadBytes("/missing"); return err }(), ErrResourceNotFound},
		{"read dir", func() error { _, err := d.ReadBytes("/dir"); return err }(), ErrFileExpected},
		{"list file", func() error { _, err := d.ListDir("/file"); return err }(), ErrDirectoryExpected},
		{"write missing parent", d.WriteBytes("/nope/x", nil), ErrResourceNotFound},
		{"write under file", d.WriteBytes("/file/x", nil), ErrDirectoryExpected},
		{"write over dir", d.WriteBytes("/dir", nil), ErrFileExpected},
		{"makedir exists", d.MakeDir("/dir"), ErrDirectoryExists},
		{"makedir missing parent", d.MakeDir("/a/b"), ErrResourceNotFound},
		{"makedirs over file", d.MakeDirs("/file/sub"), ErrDirectoryExpected},
		{"escape root", d.WriteBytes("/../x", nil), ErrInvalidPath},
		{"wrong alias", func() error { _, err := d.ReadBytes("other:/file"); return err }(), ErrInvalidPath},
		{"remove dir as file", d.Remove("/dir"), ErrFileExpected},
		{"removedir non-empty", d.RemoveDir("/dir"), ErrDirectoryNotEmpty},
		{"removedir file", d.RemoveDir("/file"), ErrDirectoryExpected},
		{"removedir root", d.RemoveDir("/"), ErrRemoveRoot},
		{"setinfo missing", d.SetInfo("/ghost", InfoUpdate{}), ErrResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Fatalf("got %v, want %v", tt.err, tt.want)
			}
			var pe *fs.PathError
			if !errors.As(tt.err, &pe) {
				t.Errorf("error is not a *fs.PathError: %T", tt.err)
			}
		})
	}

	if err := d.MakeDirs("/dir/nested"); err != nil {
		t.Errorf("MakeDirs on an existing tree: %v", err)
	}
	if _, err := d.ReadBytes("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing resource should match fs.ErrNotExist, got %v", err)
	}
}

func TestDriveRemove(t *testing.T) {
	_, d := newTestFS(t)
	d.MakeDirs("/a/b")
	d.WriteBytes("/a/b/c", []byte("c"))

	if err := d.Remove("/a/b/c"); err != nil {
		t.Fatal(err)
	}
	if d.Exists("/a/b/c") {
		t.Error("file still exists after Remove")
	}
	if err := d.RemoveDir("/a/b"); err != nil {
		t.Fatal(err)
	}

	d.MakeDirs("/t/u/v")
	d.WriteBytes("/t/u/v/w", nil)
	if err := d.RemoveTree("/t"); err != nil {
		t.Fatal(err)
	}
	if d.Exists("/t") || d.Exists("/t/u/v/w") {
		t.Error("RemoveTree left entries behind")
	}
}

func TestDriveEssence(t *testing.T) {
	_, d := newTestFS(t)
	d.WriteBytes("/a.txt", []byte("x"))

	ess, err := d.GetEssence("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ess != nil {
		t.Errorf("fresh file has essence %v", ess)
	}

	want := Essence{EssenceCRC32: uint32(0xDEADBEEF), EssenceName: "a.txt"}
	if err := d.SetEssence("/a.txt", want); err != nil {
		t.Fatal(err)
	}
	got, err := d.GetEssence("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("essence mismatch (-want +got):\n%s", diff)
	}
	if crc, ok := got.CRC32(); !ok || crc != 0xDEADBEEF {
		t.Errorf("CRC32: got %x, %v", crc, ok)
	}

	// Returned essence is a copy.
	got["crc32"] = uint32(1)
	again, _ := d.GetEssence("/a.txt")
	if crc, _ := again.CRC32(); crc != 0xDEADBEEF {
		t.Error("mutating a returned essence changed the entry")
	}

	if err := d.SetEssence("/", Essence{"root": true}); err != nil {
		t.Errorf("SetEssence on root: %v", err)
	}
}

func TestDriveSetInfoTimes(t *testing.T) {
	_, d := newTestFS(t)
	d.WriteBytes("/a", nil)

	ts := time.Date(2004, 9, 20, 0, 0, 0, 0, time.UTC)
	if err := d.SetInfo("/a", InfoUpdate{Modified: &ts}); err != nil {
		t.Fatal(err)
	}
	info, _ := d.GetInfo("/a", NamespaceDetails)
	if !info.Modified.Equal(ts) {
		t.Errorf("Modified: got %v, want %v", info.Modified, ts)
	}
	if info.Created.Equal(ts) {
		t.Error("Created changed without being set")
	}
}

func TestDriveSourceIsLazy(t *testing.T) {
	_, d := newTestFS(t)
	src := &countingSource{data: []byte("lazy")}
	if err := d.AddSource("/deep/er/file", src, Essence{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if src.reads != 0 {
		t.Fatal("source read on write")
	}
	info, _ := d.GetInfo("/deep/er/file", NamespaceDetails)
	if info.Size != 4 || src.reads != 0 {
		t.Errorf("size from source: %d, reads %d", info.Size, src.reads)
	}
	for i := 0; i < 2; i++ {
		got, err := d.ReadBytes("/deep/er/file")
		if err != nil || string(got) != "lazy" {
			t.Fatalf("ReadBytes: %q, %v", got, err)
		}
	}
	if src.reads != 2 {
		t.Errorf("reads: got %d, want 2", src.reads)
	}

	boom := errors.New("boom")
	d.WriteSource("/deep/bad", &countingSource{err: boom}, nil)
	if _, err := d.ReadBytes("/deep/bad"); !errors.Is(err, boom) {
		t.Errorf("source error not propagated: %v", err)
	}
}

func TestDriveWalk(t *testing.T) {
	_, d := newTestFS(t)
	d.MakeDirs("/b/c")
	d.MakeDir("/a")
	d.WriteBytes("/a/1", nil)
	d.WriteBytes("/b/c/2", nil)
	d.WriteBytes("/b/3", nil)
	d.WriteBytes("/z", nil)

	var got []string
	err := d.Walk("/", func(p string, info *Info) error {
		got = append(got, p)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/a", "/a/1", "/b", "/b/3", "/b/c", "/b/c/2", "/z"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("walk order mismatch (-want +got):\n%s", diff)
	}

	got = nil
	d.Walk("/", func(p string, info *Info) error {
		got = append(got, p)
		if p == "/b" {
			return fs.SkipDir
		}
		return nil
	})
	if diff := cmp.Diff([]string{"/a", "/a/1", "/b", "/z"}, got); diff != "" {
		t.Errorf("SkipDir mismatch (-want +got):\n%s", diff)
	}

	// SkipDir from a file skips the rest of its directory.
	got = nil
	err = d.Walk("/", func(p string, info *Info) error {
		got = append(got, p)
		if p == "/b/3" {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SkipDir from a file: %v", err)
	}
	if diff := cmp.Diff([]string{"/a", "/a/1", "/b", "/b/3", "/z"}, got); diff != "" {
		t.Errorf("SkipDir from a file mismatch (-want +got):\n%s", diff)
	}

	got = nil
	err = d.Walk("/", func(p string, info *Info) error {
		got = append(got, p)
		if p == "/b/c/2" {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SkipAll: %v", err)
	}
	if diff := cmp.Diff([]string{"/a", "/a/1", "/b", "/b/3", "/b/c", "/b/c/2"}, got); diff != "" {
		t.Errorf("SkipAll mismatch (-want +got):\n%s", diff)
	}

	// Callbacks may write back into the drive.
	err = d.Walk("/b", func(p string, info *Info) error {
		if !info.IsDir {
			return d.SetEssence(p, Essence{"seen": true})
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if ess, _ := d.GetEssence("/b/c/2"); ess["seen"] != true {
		t.Error("essence set during walk was lost")
	}
}

func TestDriveClose(t *testing.T) {
	_, d := newTestFS(t)
	d.WriteBytes("/a", []byte("a"))
	d.Close()
	if _, err := d.ReadBytes("/a"); !errors.Is(err, ErrFilesystemClosed) {
		t.Errorf("expected ErrFilesystemClosed, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestEssenceFSDrives(t *testing.T) {
	efs, data := newTestFS(t)
	attrib, err := efs.CreateDrive("attrib", "Attributes")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := efs.CreateDrive("data", "again"); !errors.Is(err, ErrDriveExists) {
		t.Errorf("duplicate alias: got %v", err)
	}
	if _, err := efs.CreateDrive("bad:alias", "x"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("invalid alias: got %v", err)
	}
	if efs.WritableDrive() != data {
		t.Error("first drive should be writable")
	}

	// Unprefixed writes land on the first drive.
	if err := efs.WriteBytes("/shared.txt", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if !data.Exists("/shared.txt") || attrib.Exists("/shared.txt") {
		t.Error("unprefixed write went to the wrong drive")
	}

	// Prefixed writes go to the named drive.
	if err := efs.WriteBytes("attrib:/only.txt", []byte("attrib")); err != nil {
		t.Fatal(err)
	}
	attrib.WriteBytes("/shared.txt", []byte("shadowed"))

	got, err := efs.ReadBytes("/only.txt")
	if err != nil || string(got) != "attrib" {
		t.Errorf("unprefixed read should fall through to the drive holding the file: %q, %v", got, err)
	}
	got, _ = efs.ReadBytes("/shared.txt")
	if string(got) != "data" {
		t.Errorf("first drive should win: got %q", got)
	}
	got, _ = efs.ReadBytes("attrib:/shared.txt")
	if string(got) != "shadowed" {
		t.Errorf("prefixed read: got %q", got)
	}

	names, err := efs.ListDir("/")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"only.txt", "shared.txt"}, names); diff != "" {
		t.Errorf("merged ListDir (-want +got):\n%s", diff)
	}
	names, _ = efs.ListDir("data:/")
	if diff := cmp.Diff([]string{"shared.txt"}, names); diff != "" {
		t.Errorf("prefixed ListDir (-want +got):\n%s", diff)
	}

	if _, err := efs.ReadBytes("nodrive:/x"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("unknown alias: got %v", err)
	}
	if _, err := efs.ListDir("/missing"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("merged ListDir of missing dir: got %v", err)
	}
}

func TestEssenceFSNoDrives(t *testing.T) {
	efs := New()
	if err := efs.WriteBytes("/a", nil); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("write without drives: got %v", err)
	}
	if efs.WritableDrive() != nil {
		t.Error("WritableDrive without drives should be nil")
	}
}

func TestEssenceFSMetaAndClose(t *testing.T) {
	efs, _ := newTestFS(t)
	efs.SetMeta(MetaNamespace, map[string]any{MetaName: "Art"})
	efs.SetMeta(MetaNamespace, map[string]any{MetaVersion: "v2.0"})

	meta := efs.GetMeta(MetaNamespace)
	if meta[MetaName] != "Art" || meta[MetaVersion] != "v2.0" {
		t.Errorf("meta: got %v", meta)
	}
	meta[MetaName] = "changed"
	if efs.GetMeta(MetaNamespace)[MetaName] != "Art" {
		t.Error("GetMeta returned a live map")
	}
	if efs.GetMeta("other") != nil {
		t.Error("unknown namespace should be nil")
	}

	hooks := 0
	efs.OnClose(func() error { hooks++; return nil })
	if err := efs.Close(); err != nil {
		t.Fatal(err)
	}
	efs.Close()
	if hooks != 1 {
		t.Errorf("close hooks ran %d times", hooks)
	}
	if _, err := efs.ReadBytes("/a"); !errors.Is(err, ErrFilesystemClosed) {
		t.Errorf("after Close: got %v", err)
	}
}

func TestManifest(t *testing.T) {
	efs, d := newTestFS(t)
	efs.SetMeta(MetaNamespace, map[string]any{MetaName: "Art"})
	d.MakeDir("/sub")
	d.WriteSource("/sub/b.bin", BytesSource("bbb"), Essence{EssenceCRC32: uint32(7)})

	data, err := efs.MarshalManifest()
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if len(m.Drives) != 1 || m.Drives[0].Alias != "data" {
		t.Fatalf("drives: %+v", m.Drives)
	}
	entries := m.Drives[0].Entries
	if len(entries) != 2 || entries[0].Path != "/sub" || !entries[0].Dir {
		t.Fatalf("entries: %+v", entries)
	}
	if entries[1].Size != 3 || entries[1].Essence[EssenceCRC32] != float64(7) {
		t.Errorf("file entry: %+v", entries[1])
	}
	if m.Meta[MetaNamespace][MetaName] != "Art" {
		t.Errorf("meta: %v", m.Meta)
	}
	if !strings.Contains(string(data), `"path": "/sub/b.bin"`) {
		t.Errorf("manifest is not indented JSON:\n%s", data)
	}
}
