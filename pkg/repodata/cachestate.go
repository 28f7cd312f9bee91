package repodata

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Expiring pairs a cached value with when it was last checked, so callers
// can decide whether it's still trustworthy without a separate timestamp
// field per value. Grounded on the original source's Expiring<T>.
type Expiring struct {
	Value       bool      `json:"value"`
	LastChecked time.Time `json:"last_checked"`
}

// valid reports whether this value is still within maxAge of now.
func (e *Expiring) valid(now time.Time, maxAge time.Duration) bool {
	return e != nil && now.Sub(e.LastChecked) <= maxAge
}

// CacheHeaders captures the subset of response headers needed to perform a
// conditional GET and to judge freshness on the next fetch.
type CacheHeaders struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	CacheControl string `json:"cache_control,omitempty"`
}

// addToRequest sets the conditional-GET headers this state implies.
func (h CacheHeaders) addToRequest(req *http.Request) {
	if h.ETag != "" {
		req.Header.Set("If-None-Match", h.ETag)
	}
	if h.LastModified != "" {
		req.Header.Set("If-Modified-Since", h.LastModified)
	}
}

func cacheHeadersFromResponse(resp *http.Response) CacheHeaders {
	return CacheHeaders{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		CacheControl: resp.Header.Get("Cache-Control"),
	}
}

// JLAPState records the content hash reached by the last JLAP update and
// the number of patch lines in the .jlap file it applied. No fetch reads
// Offset: each JLAP update downloads the whole .jlap file again.
type JLAPState struct {
	Latest string `json:"latest"`
	Offset int64  `json:"offset"`
}

// CacheState is the on-disk sidecar (`<key>.info.json`) describing the
// provenance of a cached repodata file: where it came from, what HTTP
// caching headers applied, its content hash, and which compressed/
// incremental variants are known to exist.
type CacheState struct {
	URL               string        `json:"url"`
	CacheSize         int64         `json:"cache_size"`
	CacheHeaders      CacheHeaders  `json:"cache_headers"`
	CacheLastModified time.Time     `json:"cache_last_modified"`
	Blake2Hash        string        `json:"blake2_hash,omitempty"`
	Blake2HashNominal string        `json:"blake2_hash_nominal,omitempty"`
	HasZst            *Expiring     `json:"has_zst,omitempty"`
	HasBz2            *Expiring     `json:"has_bz2,omitempty"`
	HasJLAP           *Expiring     `json:"has_jlap,omitempty"`
	JLAP              *JLAPState    `json:"jlap,omitempty"`
}

// ReadCacheState reads and parses a CacheState from path.
func ReadCacheState(path string) (*CacheState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cs CacheState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, errors.Wrapf(err, "repodata: parse cache state %q", path)
	}
	return &cs, nil
}

// WriteTo serializes the cache state to path.
func (cs *CacheState) WriteTo(path string) error {
	raw, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "repodata: marshal cache state")
	}
	return os.WriteFile(path, raw, 0o644)
}
