package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"testing"
)

func buildArchive(t *testing.T, files map[string]string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes()))
}

func TestRunExportsCacheWhenPresent(t *testing.T) {
	c, err := NewRunExportsCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunExportsCache: %v", err)
	}
	key := BucketKey{Name: "zlib", Version: "1.3.1", Build: "hb9d3cd8_2"}

	var fetchCount int32
	fetch := func(context.Context) (io.ReadCloser, error) {
		atomic.AddInt32(&fetchCount, 1)
		return buildArchive(t, map[string]string{
			"info/run_exports.json": `{"weak":["zlib >=1.3.1,<2.0a0"]}`,
		}), nil
	}

	entry, err := c.GetOrFetch(context.Background(), key, fetch)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if entry.RunExports == nil || len(entry.RunExports.Weak) != 1 {
		t.Fatalf("got %+v, want a single weak run_export", entry.RunExports)
	}

	if _, err := c.GetOrFetch(context.Background(), key, fetch); err != nil {
		t.Fatalf("second GetOrFetch: %v", err)
	}
	if got := atomic.LoadInt32(&fetchCount); got != 1 {
		t.Fatalf("fetch called %d times, want 1 (second call should hit the cache)", got)
	}
}

func TestRunExportsCacheWhenAbsent(t *testing.T) {
	c, err := NewRunExportsCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunExportsCache: %v", err)
	}
	key := BucketKey{Name: "rosbridge-suite", Version: "0.11.14", Build: "py39h6fdeb60_14"}

	entry, err := c.GetOrFetch(context.Background(), key, func(context.Context) (io.ReadCloser, error) {
		return buildArchive(t, map[string]string{"info/index.json": `{}`}), nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if entry.RunExports != nil {
		t.Fatalf("got %+v, want nil run_exports for an archive with no run_exports.json", entry.RunExports)
	}
}

func TestRunExportsCachePersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	key := BucketKey{Name: "zlib", Version: "1.3.1", Build: "hb9d3cd8_2"}

	c1, err := NewRunExportsCache(root)
	if err != nil {
		t.Fatalf("NewRunExportsCache: %v", err)
	}
	if _, err := c1.GetOrFetch(context.Background(), key, func(context.Context) (io.ReadCloser, error) {
		return buildArchive(t, map[string]string{"info/run_exports.json": `{"strong":["zlib"]}`}), nil
	}); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}

	c2, err := NewRunExportsCache(root)
	if err != nil {
		t.Fatalf("NewRunExportsCache: %v", err)
	}
	entry, err := c2.GetOrFetch(context.Background(), key, func(context.Context) (io.ReadCloser, error) {
		t.Fatal("fetch should not be called: on-disk cache from c1 should satisfy this lookup")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if entry.RunExports == nil || len(entry.RunExports.Strong) != 1 {
		t.Fatalf("got %+v, want the run_exports persisted by the first cache instance", entry.RunExports)
	}
}
