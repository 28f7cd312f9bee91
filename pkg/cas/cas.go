// Package cas implements the content-addressed store the package cache
// extracts into: regular files are written once keyed by digest and
// hardlinked everywhere they're needed, so identical bytes across packages
// (or across builds of the same package) occupy disk once.
//
// Grounded on original_source/crates/rattler_cas_tar/src/lib.rs for the
// write-then-hardlink shape and golang-dep/fs.go's CopyFile (reused for the
// digest-streaming write path, since both need "stream to a temp location,
// then atomically finalize").
package cas

import (
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Store is a content-addressed store rooted at a directory, laid out as
// <root>/<hex[0..2]>/<hex[2..]> per spec.md §6.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating it if missing.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cas: create root %q", root)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// PathForDigest returns the on-disk path a digest would live at, without
// checking whether it's actually present.
func (s *Store) PathForDigest(d digest.Digest) string {
	hex := d.Encoded()
	if len(hex) < 3 {
		return filepath.Join(s.root, hex)
	}
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Write streams r's content into the store, returning the digest it was
// stored under. Writing is idempotent: if content with the same digest
// already exists, the temp file is discarded and the existing path is kept.
func (s *Store) Write(r io.Reader) (digest.Digest, error) {
	tmp, err := os.CreateTemp(s.root, "write-*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "cas: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	digester := digest.SHA256.Digester()
	if _, err := io.Copy(tmp, io.TeeReader(r, digester.Hash())); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "cas: write content")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "cas: close temp file")
	}

	d := digester.Digest()
	dest := s.PathForDigest(d)
	if _, err := os.Stat(dest); err == nil {
		return d, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrapf(err, "cas: create shard dir for %s", d)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", errors.Wrapf(err, "cas: finalize %s", d)
	}
	return d, nil
}

// HardlinkTo links the content stored at d into dest, creating dest's
// parent directories if needed and retrying once after removing a
// pre-existing file at dest, per spec.md §4.B.
func (s *Store) HardlinkTo(d digest.Digest, dest string) error {
	src := s.PathForDigest(d)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "cas: create parent of %q", dest)
	}
	err := os.Link(src, dest)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		if rmErr := os.Remove(dest); rmErr != nil {
			return errors.Wrapf(rmErr, "cas: remove existing %q before retry", dest)
		}
		if err := os.Link(src, dest); err != nil {
			return HardlinkFailedError{Destination: dest, Err: err}
		}
		return nil
	}
	return HardlinkFailedError{Destination: dest, Err: err}
}

// HardlinkFailedError reports a hardlink that failed for a reason other
// than a pre-existing destination (e.g. a cross-device link).
type HardlinkFailedError struct {
	Destination string
	Err         error
}

func (e HardlinkFailedError) Error() string {
	return "cas: failed to hardlink to " + e.Destination + ": " + e.Err.Error()
}

func (e HardlinkFailedError) Unwrap() error { return e.Err }

// PathTraversalError is returned when an archive path contains a ".."
// component, per spec.md §4.B.
type PathTraversalError struct {
	Path string
}

func (e PathTraversalError) Error() string {
	return "cas: path traversal attempt in archive: " + e.Path
}
