package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/quire/internal/checksum"
)

func tempBundle(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempBundle(t)
	content := []byte(`{"version":1}`)
	if err := s.Write("manifest.json", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("manifest.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempBundle(t)
	if err := s.Write("notes/7.enml", []byte("<en-note/>")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ok, err := s.Exists("notes/7.enml")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if ok, _ := s.Exists("notes"); ok {
		t.Error("a directory is not a file")
	}
	if ok, _ := s.Exists("notes/8.enml"); ok {
		t.Error("missing file reported as existing")
	}
}

func TestDelete(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write(".quire-write-check", []byte("check"))
	if err := s.Delete(".quire-write-check"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(".quire-write-check"); err == nil {
		t.Error("expected error reading deleted file")
	}
	if err := s.Delete(".quire-write-check"); err == nil {
		t.Error("expected error deleting twice")
	}
}

func TestList(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write("notes/1.enml", []byte("a"))
	_ = s.Write("notes/1.json", []byte("{}"))
	_ = s.Write("notes/sub/2.enml", []byte("bb"))
	_ = os.WriteFile(filepath.Join(s.Root(), "notes", ".quire-tmp-123.enml"), []byte("partial"), 0o644)

	files, err := s.List("notes", ".enml")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List returned %d files, want 2: %+v", len(files), files)
	}
	if files[0].Path != "notes/1.enml" || files[1].Path != "notes/sub/2.enml" {
		t.Errorf("List not sorted by path: %+v", files)
	}
	for _, f := range files {
		if strings.Contains(f.Path, `\`) || !strings.HasPrefix(f.Path, "notes/") {
			t.Errorf("path %q is not slash-separated and root-relative", f.Path)
		}
		if f.Path == "notes/sub/2.enml" && (f.Size != 2 || f.Checksum != checksum.Sum([]byte("bb"))) {
			t.Errorf("bad info: %+v", f)
		}
	}
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	s := tempBundle(t)
	files, err := s.List("notes", ".enml")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %+v, want none", files)
	}
	if _, err := s.List("../outside", ".enml"); err == nil {
		t.Error("List outside the root should fail")
	}
}

func TestWriteFileAtomic_Stream(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a", "b", "blob.bin")
	if err := WriteFileAtomic(dst, strings.NewReader("payload")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "payload" {
		t.Fatalf("read back %q, %v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempBundle(t)
	bad := []string{
		"../escape.json",
		"notes/../../escape.json",
		"/etc/passwd",
	}
	for _, p := range bad {
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("Write(%q) should fail", p)
		}
		if _, err := s.Read(p); err == nil {
			t.Errorf("Read(%q) should fail", p)
		}
		if _, err := s.Exists(p); err == nil {
			t.Errorf("Exists(%q) should fail", p)
		}
	}
	abs, err := s.Abs("notes/./1.enml")
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if want := filepath.Join(s.Root(), "notes", "1.enml"); abs != want {
		t.Errorf("Abs = %q, want %q", abs, want)
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	s := tempBundle(t)
	_ = s.Write("manifest.json", []byte("original"))
	if err := s.Write("manifest.json", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("manifest.json")
	if string(got) != "updated" {
		t.Errorf("content = %q", got)
	}
	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".quire-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	if _, err := NewFS(missing, false); err == nil {
		t.Error("expected error for non-existent dir")
	}
	s, err := NewFS(missing, true)
	if err != nil {
		t.Fatalf("NewFS(create): %v", err)
	}
	if s.Root() != missing {
		t.Errorf("Root = %q", s.Root())
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	_ = os.WriteFile(f, []byte("x"), 0o644)
	if _, err := NewFS(f, true); err == nil {
		t.Error("expected error when root is a file")
	}
}
