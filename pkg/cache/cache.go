package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
	"github.com/termie/go-shutil"
)

// FetchFunc populates destination with the extracted contents of a package.
// It is called at most once per revision bump for a given bucket.
type FetchFunc func(ctx context.Context, destination string) error

// NewCopyDirFetchFunc returns a FetchFunc that populates destination by
// copying an already-extracted package directory at src, for channels (e.g.
// a local/dev conda-bld tree) that hand out extracted directories directly
// instead of archives to stream through the CAS extractor. Grounded on
// golang-dep/vcs_source.go's exportVersionTo, which populates a target
// directory from a source tree the same way.
func NewCopyDirFetchFunc(src string) FetchFunc {
	return func(_ context.Context, destination string) error {
		cfg := &shutil.CopyTreeOptions{
			Symlinks:     true,
			CopyFunction: shutil.Copy,
		}
		return shutil.CopyTree(src, destination, cfg)
	}
}

// PackageCache manages a cache of extracted conda packages on disk. It does
// not know how to fetch a package itself; FetchFunc is supplied by the
// caller, separating caching/coordination from transport.
type PackageCache struct {
	root string

	mu        sync.Mutex
	entries   map[BucketKey]*bucketEntry
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type bucketEntry struct {
	mu           sync.Mutex
	lastRevision *uint64
	lastSha256   string
}

// Open returns a PackageCache rooted at root, creating it if missing.
func Open(root string) (*PackageCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cache: create root %q", root)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PackageCache{
		root:    root,
		entries: make(map[BucketKey]*bucketEntry),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Close cancels the context combined into every in-flight and future
// GetOrFetch call. It does not wait for fetches to observe the
// cancellation; callers should also cancel their own context.
func (c *PackageCache) Close() {
	c.closeOnce.Do(c.cancel)
}

func (c *PackageCache) entryFor(key BucketKey) *bucketEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &bucketEntry{}
		c.entries[key] = e
	}
	return e
}

// GetOrFetch returns the directory containing key's extracted package
// contents. If a previously validated revision is still current it's
// returned immediately; otherwise the directory is re-validated, and if
// that fails or the directory doesn't exist, fetch is invoked to repopulate
// it under a newly bumped revision. At most one in-process caller extracts
// per BucketKey at a time; cross-process coordination goes through the
// bucket's on-disk lock file.
func (c *PackageCache) GetOrFetch(ctx context.Context, key CacheKey, fetch FetchFunc, reporter Reporter) (*Lock, error) {
	if reporter == nil {
		reporter = NoopReporter
	}
	cctx, cancel := constext.Cons(ctx, c.ctx)
	defer cancel()

	entry := c.entryFor(key.BucketKey)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	path := filepath.Join(c.root, key.BucketKey.String())
	lock, err := validateOrFetchToCache(cctx, path, fetch, entry.lastRevision, key.Sha256, reporter)
	if err != nil {
		return nil, err
	}

	rev := lock.revision
	entry.lastRevision = &rev
	entry.lastSha256 = lock.sha256
	return lock, nil
}

// validateOrFetchToCache implements the protocol in spec.md §4.C.2: acquire
// a shared lock and check whether the on-disk revision is already known
// valid or passes validation; if not, escalate to an exclusive lock,
// re-check the revision didn't change underneath us, bump it, and fetch.
func validateOrFetchToCache(ctx context.Context, path string, fetch FetchFunc, knownValidRevision *uint64, wantSha string, reporter Reporter) (*Lock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, errors.Wrapf(err, "cache: create cache directory for %q", lockPath)
	}

	validatedRevision := knownValidRevision

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		readLock, err := acquireShared(lockPath)
		if err != nil {
			return nil, err
		}
		cacheRevision, lockedSha, err := readLock.readRevisionAndSha()
		if err != nil {
			readLock.Unlock()
			return nil, err
		}

		hashMismatch := wantSha != "" && lockedSha != "" && wantSha != lockedSha

		if isDir(path) && !hashMismatch {
			if validatedRevision != nil && *validatedRevision == cacheRevision {
				return &Lock{rw: readLock, path: path, revision: cacheRevision, sha256: lockedSha}, nil
			}

			idx := reporter.OnValidateStart()
			verr := validatePackageDirectory(path)
			reporter.OnValidateComplete(idx)
			if verr == nil {
				return &Lock{rw: readLock, path: path, revision: cacheRevision, sha256: lockedSha}, nil
			}
		}

		if err := readLock.Unlock(); err != nil {
			return nil, err
		}

		writeLock, err := acquireExclusive(lockPath)
		if err != nil {
			return nil, err
		}

		readRevision, _, err := writeLock.readRevisionAndSha()
		if err != nil {
			writeLock.Unlock()
			return nil, err
		}
		if readRevision != cacheRevision {
			// Another writer finished between our shared and exclusive
			// acquisitions; restart validation against the new state.
			writeLock.Unlock()
			continue
		}

		newRevision := cacheRevision + 1
		if err := writeLock.writeRevisionAndSha(newRevision, wantSha); err != nil {
			writeLock.Unlock()
			return nil, err
		}

		// The bucket directory itself is left for fetch to create: some
		// FetchFunc implementations (NewCopyDirFetchFunc) require the
		// destination not to exist yet, while others (the CAS extractor)
		// create it themselves.
		if err := os.RemoveAll(path); err != nil {
			writeLock.Unlock()
			return nil, errors.Wrapf(err, "cache: clear stale package directory %q", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeLock.Unlock()
			return nil, errors.Wrapf(err, "cache: create cache root for %q", path)
		}

		fetchErr := fetch(ctx, path)
		if unlockErr := writeLock.Unlock(); unlockErr != nil && fetchErr == nil {
			return nil, unlockErr
		}
		if fetchErr != nil {
			return nil, FetchError{Err: fetchErr}
		}

		nr := newRevision
		validatedRevision = &nr
	}
}

// FetchError wraps an error returned by a FetchFunc.
type FetchError struct {
	Err error
}

func (e FetchError) Error() string { return "cache: fetch failed: " + e.Err.Error() }
func (e FetchError) Unwrap() error { return e.Err }

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
