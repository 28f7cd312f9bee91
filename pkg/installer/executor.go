package installer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/orbit-pm/orbit/internal/fsutil"
	"github.com/orbit-pm/orbit/pkg/cache"
	"github.com/orbit-pm/orbit/pkg/history"
	"github.com/orbit-pm/orbit/pkg/trie"
	"github.com/orbit-pm/orbit/pkg/types"
)

// Executor drives a planned Transaction against a live prefix: it pulls
// each install's contents through the package cache, links (or parks, on
// conflict) every file via the shared Trie, removes what a Remove/Change op
// deletes, and maintains conda-meta/ as it goes. Run does not write the
// history log; RecordHistory appends to it as a separate step.
//
// The split between Plan (pure, pkg/installer/transaction.go) and Executor
// (impure, this file) mirrors how the teacher's ensure.go computed a
// solution and then separately wrote it to vendor/manifest/lock — this repo
// keeps the same separation, generalized from a solver's diff-then-write to
// a Transaction's plan-then-execute.
type Executor struct {
	cache       *cache.PackageCache
	prefix      string
	clobbersDir string
	trie        *trie.Trie
}

// NewExecutor returns an Executor for prefix, seeding its Trie from the
// packages already recorded in conda-meta (installed, in the order given —
// callers should pass them in a stable order, since Trie priority is
// insertion order and this determines tie-breaking for pre-existing
// conflicts).
func NewExecutor(c *cache.PackageCache, prefix, clobbersDir string, installed []types.PrefixRecord) *Executor {
	t := trie.New()
	for _, r := range installed {
		t.InsertPackage(r.Name.String(), r.Files)
	}
	return &Executor{cache: c, prefix: prefix, clobbersDir: clobbersDir, trie: t}
}

// Run executes every operation in tx in order, returning the PrefixRecords
// for everything that ended up installed (Install/Reinstall/Change). fetch
// supplies, per package name, the FetchFunc the package cache uses on a
// miss; a name with no entry is an error if an Install/Reinstall/Change
// operation needs it.
func (ex *Executor) Run(ctx context.Context, tx Transaction, fetch map[string]cache.FetchFunc, reporter Reporter) ([]types.PrefixRecord, error) {
	if reporter == nil {
		reporter = NoopReporter
	}
	reporter.OnTransactionStart(&tx)

	var installed []types.PrefixRecord
	for i, op := range tx.Operations {
		reporter.OnOperationStart(i)

		switch op.Kind {
		case OpRemove:
			if err := ex.unlink(i, *op.Old, reporter); err != nil {
				return nil, errors.Wrapf(err, "installer: remove %s", op.Name)
			}

		case OpInstall, OpReinstall, OpChange:
			if op.Kind == OpChange {
				if err := ex.unlink(i, *op.Old, reporter); err != nil {
					return nil, errors.Wrapf(err, "installer: change %s: unlink old", op.Name)
				}
			}
			fn, ok := fetch[op.Name]
			if !ok {
				return nil, errors.Errorf("installer: no fetch function supplied for %q", op.Name)
			}
			rec, err := ex.link(ctx, i, *op.New, fn, reporter)
			if err != nil {
				return nil, errors.Wrapf(err, "installer: install %s", op.Name)
			}
			installed = append(installed, rec)
		}

		reporter.OnOperationComplete(i)
	}

	reporter.OnTransactionComplete()
	return installed, nil
}

// RecordHistory appends one entry to <prefix>/conda-meta/history summarizing
// tx: specs is the set of top-level specs the caller originally requested
// (empty for a purely dependency-driven transaction).
func (ex *Executor) RecordHistory(specs []string, tx Transaction, timestamp time.Time) error {
	entry := history.Entry{Timestamp: timestamp, Specs: specs}
	for _, op := range tx.Operations {
		switch op.Kind {
		case OpInstall:
			entry.Added = append(entry.Added, op.New.URL)
		case OpRemove:
			entry.Removed = append(entry.Removed, op.Old.URL)
		case OpReinstall:
			entry.Removed = append(entry.Removed, op.Old.URL)
			entry.Added = append(entry.Added, op.New.URL)
		case OpChange:
			entry.Removed = append(entry.Removed, op.Old.URL)
			entry.Added = append(entry.Added, op.New.URL)
		}
	}
	return history.Append(filepath.Join(ex.prefix, "conda-meta", "history"), entry)
}

func (ex *Executor) unlink(opIndex int, old types.PrefixRecord, reporter Reporter) error {
	idx := reporter.OnUnlinkStart(opIndex, old)

	for _, f := range old.Files {
		_ = os.Remove(filepath.Join(ex.prefix, filepath.FromSlash(f)))
	}

	_, fromClobbers := ex.trie.UnregisterPackage(old.Name.String())
	for _, mv := range fromClobbers {
		src := filepath.Join(ex.clobbersDir, mv.Pkg, filepath.FromSlash(mv.Path))
		dest := filepath.Join(ex.prefix, filepath.FromSlash(mv.Path))
		if err := fsutil.MoveIfMissing(src, dest); err != nil {
			return errors.Wrapf(err, "expose clobbered %q back to %q", mv.Path, mv.Pkg)
		}
	}

	if err := os.Remove(condaMetaPath(ex.prefix, old.PackageRecord.Spec())); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove conda-meta record")
	}

	reporter.OnUnlinkComplete(idx)
	return nil
}

func (ex *Executor) link(ctx context.Context, opIndex int, rec types.RepoDataRecord, fetch cache.FetchFunc, reporter Reporter) (types.PrefixRecord, error) {
	cacheIdx := reporter.OnPopulateCacheStart(opIndex, rec)
	key := cache.CacheKey{
		BucketKey: cache.BucketKey{Name: rec.Name.String(), Version: rec.Version.String(), Build: rec.BuildString},
		Sha256:    rec.Sha256,
	}
	lock, err := ex.cache.GetOrFetch(ctx, key, fetch, cacheReporterAdapter{parent: reporter, cacheEntry: cacheIdx})
	if err != nil {
		return types.PrefixRecord{}, errors.Wrap(err, "populate cache")
	}
	defer lock.Close()
	reporter.OnPopulateCacheComplete(cacheIdx)

	files, err := listFiles(lock.Path())
	if err != nil {
		return types.PrefixRecord{}, errors.Wrap(err, "list extracted files")
	}

	linkIdx := reporter.OnLinkStart(opIndex, rec)
	conflicts := ex.trie.InsertPackage(rec.Name.String(), files)
	conflictSet := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		conflictSet[c] = struct{}{}
	}

	for _, f := range files {
		src := filepath.Join(lock.Path(), filepath.FromSlash(f))
		var dest string
		if _, clobbered := conflictSet[f]; clobbered {
			dest = filepath.Join(ex.clobbersDir, rec.Name.String(), filepath.FromSlash(f))
		} else {
			dest = filepath.Join(ex.prefix, filepath.FromSlash(f))
		}
		if err := linkInto(src, dest); err != nil {
			return types.PrefixRecord{}, errors.Wrapf(err, "link %q", f)
		}
	}
	reporter.OnLinkComplete(linkIdx)

	pr := types.PrefixRecord{
		RepoDataRecord:      rec,
		Files:               files,
		ExtractedPackageDir: lock.Path(),
	}
	if err := writePrefixRecord(ex.prefix, pr); err != nil {
		return types.PrefixRecord{}, err
	}
	return pr, nil
}

// linkInto hardlinks src to dest, creating dest's parent directories first
// and falling back to a copy when src and dest live on different devices
// (hardlinks, unlike renames, have no cross-device form at all).
func linkInto(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	err := os.Link(src, dest)
	if err == nil {
		return nil
	}
	if lerr, ok := err.(*os.LinkError); ok && isCrossDevice(lerr) {
		return fsutil.CopyFile(src, dest)
	}
	if os.IsExist(err) {
		if rmErr := os.Remove(dest); rmErr != nil {
			return rmErr
		}
		return os.Link(src, dest)
	}
	return err
}

func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func condaMetaPath(prefix, spec string) string {
	return filepath.Join(prefix, "conda-meta", spec+".json")
}

func writePrefixRecord(prefix string, rec types.PrefixRecord) error {
	dir := filepath.Join(prefix, "conda-meta")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create conda-meta directory")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal prefix record")
	}
	path := condaMetaPath(prefix, rec.PackageRecord.Spec())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %q", path)
	}
	return nil
}

// cacheReporterAdapter satisfies cache.Reporter by forwarding to the
// installer Reporter this populate-cache step belongs to, threading through
// the cache-entry index the installer reporter assigned at
// OnPopulateCacheStart.
type cacheReporterAdapter struct {
	parent     Reporter
	cacheEntry int
}

func (a cacheReporterAdapter) OnValidateStart() int     { return a.parent.OnValidateStart(a.cacheEntry) }
func (a cacheReporterAdapter) OnValidateComplete(i int)  { a.parent.OnValidateComplete(i) }
func (a cacheReporterAdapter) OnDownloadStart() int      { return a.parent.OnDownloadStart(a.cacheEntry) }
func (a cacheReporterAdapter) OnDownloadProgress(i int, downloaded uint64, total *uint64) {
	a.parent.OnDownloadProgress(i, downloaded, total)
}
func (a cacheReporterAdapter) OnDownloadComplete(i int) { a.parent.OnDownloadComplete(i) }

func isCrossDevice(e *os.LinkError) bool {
	return e.Err == syscall.EXDEV
}
