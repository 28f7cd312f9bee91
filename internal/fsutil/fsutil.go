// Package fsutil provides the filesystem primitives the package cache and
// CAS extractor share: existence checks, a cross-device-safe rename, and
// directory/file copy fallbacks. Adapted from golang-dep/fs.go, which this
// repo's cache and CAS packages call directly for the same purpose the
// teacher built it for — moving extracted/cached trees around without
// worrying whether the destination lives on another filesystem.
package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
)

// IsRegular reports whether name exists and is a regular file.
func IsRegular(name string) (bool, error) {
	fi, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if fi.IsDir() {
		return false, errors.Errorf("%q is a directory, expected a file", name)
	}
	return true, nil
}

// IsDir reports whether name exists and is a directory.
func IsDir(name string) (bool, error) {
	fi, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fi.IsDir() {
		return false, errors.Errorf("%q is not a directory", name)
	}
	return true, nil
}

// IsEmptyDirOrNotExist reports true if name doesn't exist, or exists and is
// an empty directory.
func IsEmptyDirOrNotExist(name string) (bool, error) {
	entries, err := os.ReadDir(name)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// RenameWithFallback attempts to rename src to dest, falling back to a copy
// (then removing src) when the two paths are on different devices.
func RenameWithFallback(src, dest string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if runtime.GOOS == "windows" && fi.IsDir() {
		if err := CopyDir(src, dest); err != nil {
			return err
		}
		return os.RemoveAll(src)
	}

	err = os.Rename(src, dest)
	if err == nil {
		return nil
	}

	terr, ok := err.(*os.LinkError)
	if !ok {
		return err
	}

	var cerr error
	if terr.Err == syscall.EXDEV {
		if fi.IsDir() {
			cerr = CopyDir(src, dest)
		} else {
			cerr = CopyFile(src, dest)
		}
	} else {
		return terr
	}
	if cerr != nil {
		return cerr
	}
	return os.RemoveAll(src)
}

// CopyDir recursively copies src's contents into dest, preserving file
// modes. Symlinks are skipped.
func CopyDir(src, dest string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, fi.Mode()); err != nil {
		return err
	}

	dir, err := os.Open(src)
	if err != nil {
		return err
	}
	defer dir.Close()

	entries, err := dir.ReadDir(-1)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := CopyDir(srcPath, destPath); err != nil {
				return err
			}
			continue
		}
		if err := CopyFile(srcPath, destPath); err != nil {
			return err
		}
	}
	return nil
}

// CopyFile copies src to dest, preserving the source's permission bits.
func CopyFile(src, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dest, srcInfo.Mode())
}

// MoveIfMissing renames src to dest only if dest does not already exist and
// src does; a missing src is not an error, matching the idempotent,
// never-overwrite contract the clobber engine's on-disk sync needs.
func MoveIfMissing(src, dest string) error {
	if _, err := os.Lstat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, err := os.Lstat(dest); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return RenameWithFallback(src, dest)
}
