package trie

import (
	"path/filepath"

	"github.com/orbit-pm/orbit/internal/fsutil"
)

// SyncClobbers mirrors a (toClobbers, fromClobbers) move-set onto disk:
// toClobbers entries move target_prefix/p to clobbers_dir/pkg/p;
// fromClobbers entries move the reverse direction. Moves never overwrite an
// existing destination and a missing source is not an error, so replaying
// the same move-set twice is a no-op the second time.
func SyncClobbers(targetPrefix, clobbersDir string, toClobbers, fromClobbers []PathOwner) error {
	for _, mv := range toClobbers {
		src := filepath.Join(targetPrefix, filepath.FromSlash(mv.Path))
		dest := filepath.Join(clobbersDir, mv.Pkg, filepath.FromSlash(mv.Path))
		if err := fsutil.MoveIfMissing(src, dest); err != nil {
			return err
		}
	}
	for _, mv := range fromClobbers {
		src := filepath.Join(clobbersDir, mv.Pkg, filepath.FromSlash(mv.Path))
		dest := filepath.Join(targetPrefix, filepath.FromSlash(mv.Path))
		if err := fsutil.MoveIfMissing(src, dest); err != nil {
			return err
		}
	}
	return nil
}
