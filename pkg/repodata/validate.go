package repodata

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ValidatedCacheState classifies the freshness of whatever is already on
// disk for a cache key, mirroring the original source's
// validate_cached_state / ValidatedCacheState.
type ValidatedCacheState int

const (
	// cacheInvalidOrMissing means there's nothing usable cached: the data
	// file, the state sidecar, or both are absent or unparsable.
	cacheInvalidOrMissing ValidatedCacheState = iota
	// cacheMismatched means a cache state sidecar exists but doesn't
	// describe the data file next to it (wrong URL, wrong hash, wrong
	// size/mtime) - the data file is not trustworthy.
	cacheMismatched
	// cacheOutOfDate means the cache is internally consistent but its
	// Cache-Control max-age (or absence of one) says it should be
	// revalidated against the server.
	cacheOutOfDate
	// cacheUpToDate means the cache can be returned as-is.
	cacheUpToDate
)

// validateCachedState inspects the data file and its `.info.json` sidecar
// for cacheKey under cachePath, and reports which of the four states
// above applies. The returned *CacheState is the parsed sidecar whenever
// one could be read, even when the verdict is cacheMismatched or
// cacheOutOfDate -- callers use its CacheHeaders to build a conditional
// GET and its HasZst/HasBz2/HasJLAP fields to avoid re-probing variant
// availability.
func validateCachedState(cachePath string, subdirURL *url.URL, cacheKey, fileName string) (ValidatedCacheState, *CacheState) {
	dataPath := filepath.Join(cachePath, cacheKey+".json")
	statePath := filepath.Join(cachePath, cacheKey+".info.json")

	dataInfo, err := os.Stat(dataPath)
	if err != nil {
		return cacheInvalidOrMissing, nil
	}

	state, err := ReadCacheState(statePath)
	if err != nil {
		return cacheInvalidOrMissing, nil
	}

	expectedURL, err := subdirURL.Parse(fileName)
	if err == nil && state.URL != "" && state.URL != expectedURL.String() {
		return cacheMismatched, state
	}

	if !cacheStateMatchesFile(state, dataPath, dataInfo) {
		return cacheMismatched, state
	}

	if cacheControlExpired(state.CacheHeaders.CacheControl, state.CacheLastModified, time.Now()) {
		return cacheOutOfDate, state
	}

	return cacheUpToDate, state
}

// cacheStateMatchesFile checks the recorded content hash against the file
// on disk; if no hash was recorded, it falls back to comparing recorded
// size and mtime, matching the original source's willingness to skip
// hashing large repodata files when a cheaper check suffices.
func cacheStateMatchesFile(state *CacheState, dataPath string, dataInfo os.FileInfo) bool {
	if state.Blake2Hash != "" {
		sum, err := fileBlake2Hash(dataPath)
		if err != nil {
			return false
		}
		return sum == state.Blake2Hash || sum == state.Blake2HashNominal
	}
	if state.CacheSize != dataInfo.Size() {
		return false
	}
	if !state.CacheLastModified.IsZero() && !state.CacheLastModified.Equal(dataInfo.ModTime()) {
		return false
	}
	return true
}

// fileBlake2Hash recomputes the BLAKE2b256 digest used as CacheState's
// content hash, matching the streaming hash fetch.go computes on download.
func fileBlake2Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return hashHex(h.Sum(nil)), nil
}

// cacheControlExpired applies the recorded Cache-Control max-age against
// lastModified, or treats the cache as expired if no max-age was recorded
// so the gateway always revalidates with the server instead of trusting
// an untyped cache forever.
func cacheControlExpired(cacheControl string, lastModified, now time.Time) bool {
	maxAge, ok := parseMaxAge(cacheControl)
	if !ok {
		return true
	}
	return now.Sub(lastModified) > maxAge
}

func parseMaxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		const prefix = "max-age="
		if !strings.HasPrefix(directive, prefix) {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimPrefix(directive, prefix))
		if err != nil {
			continue
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
