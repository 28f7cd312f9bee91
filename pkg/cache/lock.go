package cache

import (
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// cacheRWLock wraps a gofrs/flock lock file that also stores a small text
// header ("<revision>\n<sha256>\n") read/written while the lock is held,
// mirroring rattler_cache's CacheRwLock.
type cacheRWLock struct {
	fl   *flock.Flock
	path string
}

func acquireShared(lockPath string) (*cacheRWLock, error) {
	fl := flock.New(lockPath)
	if err := fl.RLock(); err != nil {
		return nil, errors.Wrapf(err, "cache: acquire shared lock on %q", lockPath)
	}
	return &cacheRWLock{fl: fl, path: lockPath}, nil
}

func acquireExclusive(lockPath string) (*cacheRWLock, error) {
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return nil, errors.Wrapf(err, "cache: acquire exclusive lock on %q", lockPath)
	}
	return &cacheRWLock{fl: fl, path: lockPath}, nil
}

func (l *cacheRWLock) Unlock() error {
	return l.fl.Unlock()
}

func (l *cacheRWLock) readRevisionAndSha() (uint64, string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", nil
		}
		return 0, "", errors.Wrapf(err, "cache: read lock file %q", l.path)
	}
	if len(data) == 0 {
		return 0, "", nil
	}
	lines := strings.SplitN(string(data), "\n", 2)
	rev, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, "", nil
	}
	sha := ""
	if len(lines) > 1 {
		sha = strings.TrimSpace(lines[1])
	}
	return rev, sha, nil
}

func (l *cacheRWLock) writeRevisionAndSha(revision uint64, sha256 string) error {
	content := strconv.FormatUint(revision, 10) + "\n" + sha256 + "\n"
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "cache: write lock file %q", l.path)
	}
	return nil
}

// Lock grants read access to a validated, extracted package directory.
// Release it with Close once the caller is done reading the directory.
type Lock struct {
	rw       *cacheRWLock
	path     string
	revision uint64
	sha256   string
}

// Path returns the extracted package directory.
func (l *Lock) Path() string { return l.path }

// Revision returns the cache revision this lock observed.
func (l *Lock) Revision() uint64 { return l.revision }

// Sha256 returns the sha256 recorded alongside this revision, if any.
func (l *Lock) Sha256() string { return l.sha256 }

// Close releases the underlying shared file lock.
func (l *Lock) Close() error {
	if l.rw == nil {
		return nil
	}
	return l.rw.Unlock()
}
