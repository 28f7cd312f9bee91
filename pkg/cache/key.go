// Package cache implements the per-package extraction cache (component C):
// at-most-once concurrent extraction per bucket key, coordinated in-process
// by a per-bucket mutex and across processes by an on-disk lock file holding
// a monotonically increasing revision counter.
//
// Grounded on original_source/crates/rattler_cache/src/package_cache/mod.rs
// for the get_or_fetch/validate_or_fetch_to_cache protocol, and
// golang-dep/source_manager.go's srcfuts/srcfmut pattern (map of per-key
// futures guarded by a map-level mutex, with double-checked insertion) for
// the idiomatic-Go shape of the in-process coalescing layer.
package cache

import "fmt"

// BucketKey identifies the on-disk cache directory for a package. It
// deliberately excludes sha256: two packages with identical
// (name, version, build) but different content share a bucket and race to
// invalidate each other via the revision counter, matching the upstream
// behavior noted in spec.md's Open Questions rather than "fixing" it with a
// content hash in the path.
type BucketKey struct {
	Name    string
	Version string
	Build   string
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s-%s-%s", k.Name, k.Version, k.Build)
}

// CacheKey is a BucketKey plus an optional expected sha256, used to detect
// a hash mismatch against what's currently recorded in the lock file.
type CacheKey struct {
	BucketKey
	Sha256 string
}
