// Package repodata implements the Repodata Gateway (component D): fetching,
// caching, and incrementally patching per-subdirectory conda package
// indexes.
//
// Grounded directly on
// original_source/crates/rattler_repodata_gateway/src/fetch/mod.rs (the
// validate_cached_state/_fetch_data protocol) and
// .../utils/flock.rs (LockedFile's open_rw exclusive-lock shape), expressed
// in this codebase's idiom: pkg/errors wrapping, interfaces over generics,
// and gofrs/flock (already used by pkg/cache) instead of a bespoke
// platform-specific lock implementation.
package repodata

import (
	"net/url"

	"github.com/cespare/xxhash/v2"
)

// cacheKeyForURL derives the on-disk cache key for url: a lowercase hex
// xxhash of the URL string, truncated to 16 characters to keep filenames
// short, mirroring url_to_cache_filename's role in the original source
// (that function hashes the URL so repodata from differently-named but
// identical channels doesn't collide and so the cache key is filesystem
// safe regardless of what characters the channel URL contains).
func cacheKeyForURL(u *url.URL) string {
	sum := xxhash.Sum64String(u.String())
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[sum&0xf]
		sum >>= 4
	}
	return string(buf)
}
