package archive

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/pithecene-io/modpatch/iox"
)

func commit(t *testing.T, a *Archive) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "out.apk")
	if err := a.Commit(p); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return p
}

func mustOpen(t *testing.T, p string) *Archive {
	t.Helper()
	a, err := Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

func seed(t *testing.T) string {
	t.Helper()
	a := New()
	files := []struct {
		name string
		data string
	}{
		{"AndroidManifest.xml", "manifest"},
		{"classes.dex", "dex\n035\x00"},
		{"resources.arsc", "table"},
		{"res/a.png", "png!"},
		{"lib/arm64-v8a/libgame.so", "elf"},
	}
	for _, f := range files {
		if err := a.WriteFile(f.name, []byte(f.data)); err != nil {
			t.Fatalf("WriteFile(%s): %v", f.name, err)
		}
	}
	return commit(t, a)
}

func TestCommit_RoundTrip(t *testing.T) {
	a := mustOpen(t, seed(t))
	want := []string{"AndroidManifest.xml", "classes.dex", "resources.arsc", "res/a.png", "lib/arm64-v8a/libgame.so"}
	if got := a.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	b, err := a.ReadFile("classes.dex")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "dex\n035\x00" {
		t.Errorf("classes.dex = %q", b)
	}
	if n, _ := a.Size("resources.arsc"); n != 5 {
		t.Errorf("Size(resources.arsc) = %d, want 5", n)
	}
}

func TestCommit_Mutations(t *testing.T) {
	a := mustOpen(t, seed(t))
	if err := a.WriteFile("AndroidManifest.xml", []byte("patched")); err != nil {
		t.Fatal(err)
	}
	if err := a.Rename("classes.dex", "classes2.dex"); err != nil {
		t.Fatal(err)
	}
	if !a.Remove("res/a.png") {
		t.Error("Remove(res/a.png) = false")
	}
	if a.Remove("res/a.png") {
		t.Error("second Remove should report false")
	}
	if err := a.Rename("missing.dex", "x.dex"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename(missing) error = %v", err)
	}
	if err := a.Rename("classes2.dex", "resources.arsc"); err == nil {
		t.Error("Rename onto existing entry should fail")
	}

	out := mustOpen(t, commit(t, a))
	if out.Has("classes.dex") || !out.Has("classes2.dex") || out.Has("res/a.png") {
		t.Errorf("Names after mutation = %v", out.Names())
	}
	b, _ := out.ReadFile("AndroidManifest.xml")
	if string(b) != "patched" {
		t.Errorf("manifest = %q", b)
	}
	b, _ = out.ReadFile("classes2.dex")
	if string(b) != "dex\n035\x00" {
		t.Errorf("renamed entry contents = %q", b)
	}
	if _, err := out.ReadFile("res/a.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile(removed) error = %v", err)
	}
}

func TestCommit_Alignment(t *testing.T) {
	p := seed(t)
	// Commit twice so raw-copied entries are realigned too.
	a := mustOpen(t, p)
	if err := a.WriteFile("res/odd-name-xx.png", bytes.Repeat([]byte{7}, 13)); err != nil {
		t.Fatal(err)
	}
	p = commit(t, a)

	rc, err := zip.OpenReader(p)
	if err != nil {
		t.Fatalf("zip.OpenReader: %v", err)
	}
	defer iox.DiscardClose(rc)
	for _, f := range rc.File {
		if f.Method != zip.Store {
			continue
		}
		off, err := f.DataOffset()
		if err != nil {
			t.Fatalf("DataOffset(%s): %v", f.Name, err)
		}
		align := int64(DefaultAlignment)
		if filepath.Ext(f.Name) == ".so" {
			align = NativeAlignment
		}
		if off%align != 0 {
			t.Errorf("%s data offset %d not aligned to %d", f.Name, off, align)
		}
	}
}

func TestDefaultMethod(t *testing.T) {
	tests := []struct {
		name string
		want uint16
	}{
		{"resources.arsc", zip.Store},
		{"lib/x86/libfoo.so", zip.Store},
		{"res/icon.png", zip.Store},
		{"classes.dex", zip.Deflate},
		{"AndroidManifest.xml", zip.Deflate},
	}
	for _, tt := range tests {
		if got := DefaultMethod(tt.name); got != tt.want {
			t.Errorf("DefaultMethod(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestWriteFile_Invalid(t *testing.T) {
	a := New()
	for _, name := range []string{"", "dir/", "/abs"} {
		if err := a.WriteFile(name, nil); err == nil {
			t.Errorf("WriteFile(%q) should fail", name)
		}
	}
	if err := a.WriteFileMethod("x", nil, 99); err == nil {
		t.Error("unsupported method should fail")
	}
}

func TestRemoveFunc(t *testing.T) {
	a := mustOpen(t, seed(t))
	got := a.RemoveFunc(func(n string) bool { return filepath.Ext(n) == ".dex" || filepath.Ext(n) == ".so" })
	if !slices.Equal(got, []string{"classes.dex", "lib/arm64-v8a/libgame.so"}) {
		t.Errorf("RemoveFunc = %v", got)
	}
}
