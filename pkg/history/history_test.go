package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history")

	e1 := Entry{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Specs:     []string{"numpy"},
		Added:     []string{"https://example.com/numpy-1.0-0.tar.bz2"},
	}
	e2 := Entry{
		Timestamp: time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC),
		Removed:   []string{"https://example.com/numpy-1.0-0.tar.bz2"},
		Added:     []string{"https://example.com/numpy-2.0-0.tar.bz2"},
	}

	if err := Append(path, e1); err != nil {
		t.Fatalf("Append e1: %v", err)
	}
	if err := Append(path, e2); err != nil {
		t.Fatalf("Append e2: %v", err)
	}

	entries, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[0].Timestamp.Equal(e1.Timestamp) {
		t.Errorf("entry 0 timestamp = %v, want %v", entries[0].Timestamp, e1.Timestamp)
	}
	if len(entries[0].Added) != 1 || entries[0].Added[0] != e1.Added[0] {
		t.Errorf("entry 0 added = %v, want %v", entries[0].Added, e1.Added)
	}
	if len(entries[1].Removed) != 1 || entries[1].Removed[0] != e2.Removed[0] {
		t.Errorf("entry 1 removed = %v, want %v", entries[1].Removed, e2.Removed)
	}
	if len(entries[1].Added) != 1 || entries[1].Added[0] != e2.Added[0] {
		t.Errorf("entry 1 added = %v, want %v", entries[1].Added, e2.Added)
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}
}
