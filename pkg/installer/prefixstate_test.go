package installer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadPrefixStateMissingDirIsEmpty(t *testing.T) {
	records, err := ReadPrefixState(t.TempDir())
	if err != nil {
		t.Fatalf("ReadPrefixState: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}

func TestReadPrefixStateReadsRecordsAndSkipsHistory(t *testing.T) {
	prefix := t.TempDir()
	dir := filepath.Join(prefix, "conda-meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := `{"name":"a","version":"1.0","build":"0","build_number":0,"subdir":"noarch","fn":"a-1.0-0.tar.bz2","url":"u/a-1.0-0","files":["bin/a"]}`
	if err := os.WriteFile(filepath.Join(dir, "a-1.0-0.json"), []byte(rec), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "history"), []byte("==> 2024-01-01 00:00:00 <==\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := ReadPrefixState(prefix)
	if err != nil {
		t.Fatalf("ReadPrefixState: %v", err)
	}
	if len(records) != 1 || records[0].Name.String() != "a" {
		t.Fatalf("got %+v, want one record named a", records)
	}
}
