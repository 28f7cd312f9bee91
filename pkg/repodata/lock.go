package repodata

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// LockedFile holds an exclusive lock on a path for the duration of a
// fetch/validate cycle. Grounded on
// original_source's utils/flock.rs:LockedFile::open_rw — this gateway
// always takes the file exclusively rather than pkg/cache's shared/
// exclusive split, because a repodata fetch both reads and conditionally
// rewrites the cache state in one pass.
type LockedFile struct {
	fl   *flock.Flock
	path string
}

// OpenRW creates path's parent directories if needed, creates the file if
// missing, and acquires an exclusive lock on it.
func OpenRW(path string) (*LockedFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "repodata: create lock directory for %q", path)
	}
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, errors.Wrapf(err, "repodata: acquire lock on %q", path)
	}
	return &LockedFile{fl: fl, path: path}, nil
}

// Path returns the locked path.
func (l *LockedFile) Path() string { return l.path }

// Close releases the lock.
func (l *LockedFile) Close() error {
	return l.fl.Unlock()
}
