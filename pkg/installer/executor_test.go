package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orbit-pm/orbit/pkg/cache"
	"github.com/orbit-pm/orbit/pkg/history"
	"github.com/orbit-pm/orbit/pkg/types"
)

// writeTreeFetch returns a cache.FetchFunc that populates destination with
// the given relative-path -> content map, standing in for a real tar
// extraction (the package cache and CAS extractor are exercised by their
// own package's tests).
func writeTreeFetch(files map[string]string) cache.FetchFunc {
	return func(_ context.Context, destination string) error {
		for rel, content := range files {
			full := filepath.Join(destination, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func newTestExecutor(t *testing.T, installed []types.PrefixRecord) (*Executor, string, string) {
	t.Helper()
	base := t.TempDir()
	cacheRoot := filepath.Join(base, "cache")
	prefix := filepath.Join(base, "prefix")
	clobbers := filepath.Join(prefix, "clobbers")

	c, err := cache.Open(cacheRoot)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(c.Close)

	return NewExecutor(c, prefix, clobbers, installed), prefix, clobbers
}

func TestExecutorInstallLinksFiles(t *testing.T) {
	ex, prefix, _ := newTestExecutor(t, nil)

	rec := repoRec("a", "1.0", "0", "u/a-1.0-0")
	tx := Transaction{Operations: []Operation{{Kind: OpInstall, Name: "a", New: &rec}}}
	fetch := map[string]cache.FetchFunc{"a": writeTreeFetch(map[string]string{"bin/a": "#!/bin/sh\n"})}

	installed, err := ex.Run(context.Background(), tx, fetch, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(installed) != 1 {
		t.Fatalf("got %d installed records, want 1", len(installed))
	}
	if _, err := os.Stat(filepath.Join(prefix, "bin", "a")); err != nil {
		t.Fatalf("expected bin/a to be linked into the prefix: %v", err)
	}
	if _, err := os.Stat(condaMetaPath(prefix, "a-1.0-0")); err != nil {
		t.Fatalf("expected a conda-meta record: %v", err)
	}
}

func TestExecutorInstallClobbersConflictingFile(t *testing.T) {
	ex, prefix, clobbers := newTestExecutor(t, nil)

	recA := repoRec("a", "1.0", "0", "u/a-1.0-0")
	recB := repoRec("b", "1.0", "0", "u/b-1.0-0")
	tx := Transaction{Operations: []Operation{
		{Kind: OpInstall, Name: "a", New: &recA},
		{Kind: OpInstall, Name: "b", New: &recB},
	}}
	fetch := map[string]cache.FetchFunc{
		"a": writeTreeFetch(map[string]string{"shared/file.txt": "from a\n"}),
		"b": writeTreeFetch(map[string]string{"shared/file.txt": "from b\n"}),
	}

	if _, err := ex.Run(context.Background(), tx, fetch, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	live, err := os.ReadFile(filepath.Join(prefix, "shared", "file.txt"))
	if err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if string(live) != "from a\n" {
		t.Fatalf("live file = %q, want the first-installed package (a)'s content", live)
	}

	parked, err := os.ReadFile(filepath.Join(clobbers, "b", "shared", "file.txt"))
	if err != nil {
		t.Fatalf("read parked file: %v", err)
	}
	if string(parked) != "from b\n" {
		t.Fatalf("parked file = %q, want b's content", parked)
	}
}

func TestExecutorRemoveExposesClobberedFile(t *testing.T) {
	ex, prefix, clobbers := newTestExecutor(t, nil)

	recA := repoRec("a", "1.0", "0", "u/a-1.0-0")
	recB := repoRec("b", "1.0", "0", "u/b-1.0-0")
	installTx := Transaction{Operations: []Operation{
		{Kind: OpInstall, Name: "a", New: &recA},
		{Kind: OpInstall, Name: "b", New: &recB},
	}}
	fetch := map[string]cache.FetchFunc{
		"a": writeTreeFetch(map[string]string{"shared/file.txt": "from a\n"}),
		"b": writeTreeFetch(map[string]string{"shared/file.txt": "from b\n"}),
	}
	installed, err := ex.Run(context.Background(), installTx, fetch, nil)
	if err != nil {
		t.Fatalf("install Run: %v", err)
	}

	var aRecord types.PrefixRecord
	for _, pr := range installed {
		if pr.Name.String() == "a" {
			aRecord = pr
		}
	}

	removeTx := Transaction{Operations: []Operation{{Kind: OpRemove, Name: "a", Old: &aRecord}}}
	if _, err := ex.Run(context.Background(), removeTx, nil, nil); err != nil {
		t.Fatalf("remove Run: %v", err)
	}

	live, err := os.ReadFile(filepath.Join(prefix, "shared", "file.txt"))
	if err != nil {
		t.Fatalf("read live file after remove: %v", err)
	}
	if string(live) != "from b\n" {
		t.Fatalf("live file after removing a = %q, want b's content exposed", live)
	}
	if _, err := os.Stat(filepath.Join(clobbers, "b", "shared", "file.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected b's clobber entry to be moved out, stat err = %v", err)
	}
	if _, err := os.Stat(condaMetaPath(prefix, "a-1.0-0")); !os.IsNotExist(err) {
		t.Fatalf("expected a's conda-meta record to be removed, stat err = %v", err)
	}
}

func TestExecutorRecordHistory(t *testing.T) {
	ex, prefix, _ := newTestExecutor(t, nil)

	rec := repoRec("a", "1.0", "0", "u/a-1.0-0")
	tx := Transaction{Operations: []Operation{{Kind: OpInstall, Name: "a", New: &rec}}}
	fetch := map[string]cache.FetchFunc{"a": writeTreeFetch(map[string]string{"bin/a": "x"})}

	if _, err := ex.Run(context.Background(), tx, fetch, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ex.RecordHistory([]string{"a"}, tx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("RecordHistory: %v", err)
	}

	entries, err := history.Read(filepath.Join(prefix, "conda-meta", "history"))
	if err != nil {
		t.Fatalf("history.Read: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Added) != 1 || entries[0].Added[0] != "u/a-1.0-0" {
		t.Fatalf("got %+v, want one entry adding u/a-1.0-0", entries)
	}
}
