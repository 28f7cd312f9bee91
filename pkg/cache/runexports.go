package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/orbit-pm/orbit/pkg/cas"
	"github.com/orbit-pm/orbit/pkg/types"
)

// RunExportsFetchFunc returns a decompressed tar stream of a package archive,
// for RunExportsCache to pull a single member out of without a full
// extraction. Callers close the returned reader.
type RunExportsFetchFunc func(ctx context.Context) (io.ReadCloser, error)

// RunExportsEntry is a cached run_exports.json lookup: the package may not
// carry one at all, in which case RunExports is nil but the lookup itself is
// still cached so a repeat query doesn't re-download the archive.
type RunExportsEntry struct {
	RunExports *types.RunExports
	Path       string
}

// RunExportsCache maps a package's BucketKey to its run_exports.json
// contents, consulted by cmd/orbit after solving when a channel's repodata.json doesn't
// already embed the package's run_exports (older channel indexes, or a
// local dev build). Grounded on
// original_source/crates/rattler_cache/src/run_exports_cache/mod.rs's
// RunExportsCache: caching and fetching are kept separate, with the caller
// supplying how to obtain package data via RunExportsFetchFunc, the same split
// PackageCache's own FetchFunc makes.
type RunExportsCache struct {
	root string

	mu      sync.Mutex
	entries map[BucketKey]*runExportsBucket
}

type runExportsBucket struct {
	mu    sync.Mutex
	entry *RunExportsEntry
	have  bool
}

// NewRunExportsCache returns a RunExportsCache rooted at root, creating it
// if missing.
func NewRunExportsCache(root string) (*RunExportsCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "run_exports cache: create root %q", root)
	}
	return &RunExportsCache{root: root, entries: make(map[BucketKey]*runExportsBucket)}, nil
}

func (c *RunExportsCache) bucketFor(key BucketKey) *runExportsBucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		b = &runExportsBucket{}
		c.entries[key] = b
	}
	return b
}

// GetOrFetch returns key's run_exports.json, using a previously fetched and
// parsed result if one exists. Otherwise fetch is called to obtain the
// package archive, run_exports.json is pulled out of it (without a full
// extraction) and persisted to disk, and the parsed result is cached both
// on disk and in-process. Concurrent calls for the same key coalesce onto a
// single fetch, mirroring PackageCache.GetOrFetch's per-bucket mutex.
func (c *RunExportsCache) GetOrFetch(ctx context.Context, key BucketKey, fetch RunExportsFetchFunc) (RunExportsEntry, error) {
	bucket := c.bucketFor(key)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if bucket.have {
		return *bucket.entry, nil
	}

	cachePath := filepath.Join(c.root, key.String()+".json")
	if data, err := os.ReadFile(cachePath); err == nil {
		var re types.RunExports
		if err := json.Unmarshal(data, &re); err != nil {
			return RunExportsEntry{}, errors.Wrapf(err, "run_exports cache: decode cached %q", cachePath)
		}
		entry := RunExportsEntry{RunExports: &re, Path: cachePath}
		bucket.entry, bucket.have = &entry, true
		return entry, nil
	} else if !os.IsNotExist(err) {
		return RunExportsEntry{}, errors.Wrapf(err, "run_exports cache: stat %q", cachePath)
	}

	rc, err := fetch(ctx)
	if err != nil {
		return RunExportsEntry{}, errors.Wrap(err, "run_exports cache: fetch archive")
	}
	defer rc.Close()

	data, found, err := cas.ExtractSingleFile(rc, "info/run_exports.json")
	if err != nil {
		return RunExportsEntry{}, errors.Wrap(err, "run_exports cache: extract run_exports.json")
	}

	entry := RunExportsEntry{Path: cachePath}
	if found {
		var re types.RunExports
		if err := json.Unmarshal(data, &re); err != nil {
			return RunExportsEntry{}, errors.Wrap(err, "run_exports cache: parse run_exports.json")
		}
		entry.RunExports = &re

		if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
			return RunExportsEntry{}, errors.Wrapf(err, "run_exports cache: create cache dir for %q", cachePath)
		}
		if err := os.WriteFile(cachePath, data, 0o644); err != nil {
			return RunExportsEntry{}, errors.Wrapf(err, "run_exports cache: write %q", cachePath)
		}
	}
	// No run_exports.json member: cache the miss in-process only, so a
	// repeat lookup in this run doesn't re-download, but a future process
	// still gets a chance to observe a republished archive.

	bucket.entry, bucket.have = &entry, true
	return entry, nil
}
