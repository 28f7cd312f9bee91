package cas

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Extractor extracts tar streams into a destination directory, storing
// regular file content in a Store and hardlinking it into place.
type Extractor struct {
	store       *Store
	destination string
	createdDirs map[string]struct{}
}

// NewExtractor returns an Extractor writing into store and destination.
// destination is created if missing.
func NewExtractor(store *Store, destination string) (*Extractor, error) {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cas: create destination %q", destination)
	}
	abs, err := filepath.Abs(destination)
	if err != nil {
		return nil, errors.Wrapf(err, "cas: resolve destination %q", destination)
	}
	return &Extractor{
		store:       store,
		destination: abs,
		createdDirs: map[string]struct{}{abs: {}},
	}, nil
}

// Unpack streams every entry of r, applying spec.md §4.B's rules: path
// normalization and traversal rejection, symlink escape validation,
// hardlink-with-retry, CAS-backed regular files, directory memoization, and
// historical mtime/executable-bit handling.
func (e *Extractor) Unpack(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "cas: read tar entry")
		}

		normalized, err := normalizeArchivePath(hdr.Name)
		if err != nil {
			return err
		}
		if normalized == "" {
			continue
		}
		destPath := filepath.Join(e.destination, filepath.FromSlash(normalized))

		if err := e.createDirAll(filepath.Dir(destPath)); err != nil {
			return errors.Wrapf(err, "cas: create parent of %q", destPath)
		}

		mtime := mtimeFromHeader(hdr)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := e.createDirAll(destPath); err != nil {
				return errors.Wrapf(err, "cas: create dir %q", destPath)
			}
			_ = os.Chtimes(destPath, mtime, mtime)

		case tar.TypeSymlink:
			if runtime.GOOS == "windows" {
				continue
			}
			if err := validateSymlinkTarget(normalized, hdr.Linkname); err != nil {
				return err
			}
			if err := symlinkRetry(hdr.Linkname, destPath); err != nil {
				return errors.Wrapf(err, "cas: symlink %q -> %q", destPath, hdr.Linkname)
			}

		case tar.TypeLink:
			normalizedTarget, err := normalizeArchivePath(hdr.Linkname)
			if err != nil {
				return err
			}
			if normalizedTarget == "" {
				continue
			}
			targetPath := filepath.Join(e.destination, filepath.FromSlash(normalizedTarget))
			if err := linkRetry(targetPath, destPath); err != nil {
				return errors.Wrapf(err, "cas: hardlink %q -> %q", destPath, targetPath)
			}

		case tar.TypeReg:
			d, err := e.store.Write(tr)
			if err != nil {
				return errors.Wrapf(err, "cas: write content for %q", normalized)
			}
			if err := e.store.HardlinkTo(d, destPath); err != nil {
				return err
			}
			if hdr.Mode&0o111 != 0 {
				if err := setExecutable(destPath); err != nil {
					return errors.Wrapf(err, "cas: set executable bit on %q", destPath)
				}
			}
			_ = os.Chtimes(destPath, mtime, mtime)

		default:
			// device files and other exotic entry types are silently skipped
		}
	}
}

// ExtractSingleFile scans a tar stream for name without unpacking anything
// else, returning its contents and true if found. Grounded on the original
// source's extract_package_file: the run_exports cache only ever needs one
// member (run_exports.json) out of an archive and shouldn't pay for a full
// Unpack to get it.
func ExtractSingleFile(r io.Reader, name string) ([]byte, bool, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, errors.Wrap(err, "cas: read tar entry")
		}
		normalized, err := normalizeArchivePath(hdr.Name)
		if err != nil {
			return nil, false, err
		}
		if normalized != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, false, errors.Wrapf(err, "cas: read %q", name)
		}
		return data, true, nil
	}
}

// createDirAll creates path and all its parents, memoizing already-created
// directories to avoid redundant syscalls, per spec.md §4.B.
func (e *Extractor) createDirAll(path string) error {
	if _, ok := e.createdDirs[path]; ok {
		return nil
	}
	if parent := filepath.Dir(path); parent != path {
		if err := e.createDirAll(parent); err != nil {
			return err
		}
	}
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	e.createdDirs[path] = struct{}{}
	return nil
}

// normalizeArchivePath strips leading absolute/prefix/current components
// and rejects any ".." component, matching bsdtar/libarchive behavior per
// the original source. An empty normalized path (e.g. the "." entry) is
// reported as "" with no error, meaning "skip".
func normalizeArchivePath(raw string) (string, error) {
	raw = strings.ReplaceAll(raw, "\\", "/")
	var parts []string
	for _, c := range strings.Split(raw, "/") {
		switch c {
		case "", ".":
			continue
		case "..":
			return "", PathTraversalError{Path: raw}
		default:
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, "/"), nil
}

// validateSymlinkTarget rejects absolute symlink targets and simulates the
// resolved path with a component-count stack, rejecting any target whose
// ".." components would walk above the destination root.
func validateSymlinkTarget(normalizedSource, target string) error {
	target = strings.ReplaceAll(target, "\\", "/")
	if strings.HasPrefix(target, "/") {
		return PathTraversalError{Path: target}
	}
	dir := strings.TrimSuffix(normalizedSource, "/"+lastSegment(normalizedSource))
	if dir == normalizedSource {
		dir = ""
	}
	depth := 0
	if dir != "" {
		depth = len(strings.Split(dir, "/"))
	}
	for _, c := range strings.Split(target, "/") {
		switch c {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return PathTraversalError{Path: target}
			}
		default:
			depth++
		}
	}
	return nil
}

func lastSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func symlinkRetry(target, dest string) error {
	err := os.Symlink(target, dest)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		if rmErr := os.Remove(dest); rmErr != nil {
			return rmErr
		}
		return os.Symlink(target, dest)
	}
	return err
}

func linkRetry(src, dest string) error {
	err := os.Link(src, dest)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		if rmErr := os.Remove(dest); rmErr != nil {
			return rmErr
		}
		return os.Link(src, dest)
	}
	return err
}

func setExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := fi.Mode()
	if mode&0o111 == 0o111 {
		return nil
	}
	return os.Chmod(path, mode|0o111)
}

// mtimeFromHeader returns hdr's mtime, treating a zero Unix time as 1 to
// match historical tar-tool behavior (the original source's get_mtime_from_raw).
func mtimeFromHeader(hdr *tar.Header) time.Time {
	if hdr.ModTime.Unix() <= 0 {
		return time.Unix(1, 0)
	}
	return hdr.ModTime
}
