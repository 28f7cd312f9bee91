package cas

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     e.mode,
			Size:     int64(len(e.content)),
			Linkname: e.linkname,
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %q: %v", e.name, err)
		}
		if len(e.content) > 0 {
			if _, err := tw.Write(e.content); err != nil {
				t.Fatalf("write content %q: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return buf.Bytes()
}

type tarEntry struct {
	name     string
	typeflag byte
	mode     int64
	content  []byte
	linkname string
}

func reg(name string, content []byte) tarEntry {
	return tarEntry{name: name, typeflag: tar.TypeReg, content: content}
}

func TestUnpackDeduplicatesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	storeRoot := filepath.Join(dir, "store")
	dest := filepath.Join(dir, "dest")

	store, err := Open(storeRoot)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ext, err := NewExtractor(store, dest)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	data := writeTar(t, []tarEntry{
		reg("a/one.txt", []byte("same bytes")),
		reg("b/two.txt", []byte("same bytes")),
	})
	if err := ext.Unpack(bytes.NewReader(data)); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	p1 := filepath.Join(dest, "a", "one.txt")
	p2 := filepath.Join(dest, "b", "two.txt")
	fi1, err := os.Stat(p1)
	if err != nil {
		t.Fatalf("stat %q: %v", p1, err)
	}
	fi2, err := os.Stat(p2)
	if err != nil {
		t.Fatalf("stat %q: %v", p2, err)
	}
	if !os.SameFile(fi1, fi2) {
		t.Errorf("expected %q and %q to be hardlinked to the same CAS entry", p1, p2)
	}

	entries, err := os.ReadDir(storeRoot)
	if err != nil {
		t.Fatalf("read store root: %v", err)
	}
	shardCount := 0
	for _, e := range entries {
		if e.IsDir() {
			shardCount++
		}
	}
	if shardCount != 1 {
		t.Errorf("expected exactly one shard directory in the store, got %d", shardCount)
	}
}

func TestUnpackRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dest := filepath.Join(dir, "dest")
	ext, err := NewExtractor(store, dest)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	data := writeTar(t, []tarEntry{
		reg("../../etc/passwd", []byte("evil")),
	})
	err = ext.Unpack(bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected an error for a path-traversal entry")
	}
	if _, ok := err.(PathTraversalError); !ok {
		t.Errorf("expected PathTraversalError, got %T: %v", err, err)
	}

	entries, _ := os.ReadDir(dest)
	if len(entries) != 0 {
		t.Errorf("destination tree should be unchanged after a rejected traversal, found %v", entries)
	}
}

// TestUnpackDotSlashAndDotEntries is scenario 5 from spec.md §8.
func TestUnpackDotSlashAndDotEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dest := filepath.Join(dir, "dest")
	ext, err := NewExtractor(store, dest)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	data := writeTar(t, []tarEntry{
		reg("normal/file.txt", []byte("normal")),
		reg("./dotslash/file.txt", []byte("dotslash")),
		{name: ".", typeflag: tar.TypeDir},
		reg("after_dot/file.txt", []byte("after")),
	})
	if err := ext.Unpack(bytes.NewReader(data)); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	for _, want := range []struct {
		path    string
		content string
	}{
		{"normal/file.txt", "normal"},
		{"dotslash/file.txt", "dotslash"},
		{"after_dot/file.txt", "after"},
	} {
		got, err := os.ReadFile(filepath.Join(dest, want.path))
		if err != nil {
			t.Errorf("read %q: %v", want.path, err)
			continue
		}
		if string(got) != want.content {
			t.Errorf("%q content = %q, want %q", want.path, got, want.content)
		}
	}
}

func TestUnpackSymlinkEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dest := filepath.Join(dir, "dest")
	ext, err := NewExtractor(store, dest)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	data := writeTar(t, []tarEntry{
		{name: "link", typeflag: tar.TypeSymlink, linkname: "../../outside"},
	})
	err = ext.Unpack(bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected an error for a symlink escaping the destination")
	}
	if _, ok := err.(PathTraversalError); !ok {
		t.Errorf("expected PathTraversalError, got %T: %v", err, err)
	}
}
