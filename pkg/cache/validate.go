package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type pathsJSON struct {
	Paths []pathsEntry `json:"paths"`
}

type pathsEntry struct {
	Path        string `json:"_path"`
	SizeInBytes int64  `json:"size_in_bytes"`
	Sha256      string `json:"sha256_in_prefix"`
}

// validatePackageDirectory reads dir's info/paths.json and confirms every
// listed path exists on disk with the recorded size, per spec.md §4.C.
// Any mismatch is collected (not short-circuited) so a caller sees the full
// extent of the corruption, mirroring how spec.md's design notes describe
// logging every validation cause.
func validatePackageDirectory(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, "info", "paths.json"))
	if err != nil {
		return errors.Wrap(err, "cache: read info/paths.json")
	}
	var pj pathsJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return errors.Wrap(err, "cache: parse info/paths.json")
	}

	var result *multierror.Error
	for _, p := range pj.Paths {
		full := filepath.Join(dir, filepath.FromSlash(p.Path))
		fi, err := os.Stat(full)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.Path, err))
			continue
		}
		if p.SizeInBytes > 0 && fi.Size() != p.SizeInBytes {
			result = multierror.Append(result, fmt.Errorf(
				"%s: size mismatch, want %d got %d", p.Path, p.SizeInBytes, fi.Size()))
		}
	}
	return result.ErrorOrNil()
}
