package repodata

import (
	"net/http"
	"net/url"
	"os"
	"time"
)

// variantCacheTTL is how long an "is this variant available" answer is
// trusted before it's re-checked against the server, per spec.md §4.D.
const variantCacheTTL = 14 * 24 * time.Hour

// VariantAvailability reports which of the compressed/incremental variants
// of a subdir's repodata are known to exist.
type VariantAvailability struct {
	HasZst  *Expiring
	HasBz2  *Expiring
	HasJLAP *Expiring
}

func (v VariantAvailability) zst() bool  { return v.HasZst != nil && v.HasZst.Value }
func (v VariantAvailability) bz2() bool  { return v.HasBz2 != nil && v.HasBz2.Value }
func (v VariantAvailability) jlap() bool { return v.HasJLAP != nil && v.HasJLAP.Value }

const jlapFileName = "repodata.jlap"

// checkVariantAvailability determines whether zst/bz2/JLAP variants exist
// for the given base filename (usually "repodata.json"), reusing any
// still-fresh cached answer and otherwise issuing concurrent HEAD-style
// checks, mirroring the original source's futures::join! of the three
// checks.
func checkVariantAvailability(client *http.Client, subdirURL *url.URL, prior *CacheState, filename string) VariantAvailability {
	now := time.Now()

	var priorZst, priorBz2, priorJLAP *Expiring
	if prior != nil {
		priorZst, priorBz2, priorJLAP = prior.HasZst, prior.HasBz2, prior.HasJLAP
	}

	results := make(chan struct {
		slot int
		val  *Expiring
	}, 3)

	check := func(slot int, cached *Expiring, rel string, skip bool) {
		if cached.valid(now, variantCacheTTL) {
			results <- struct {
				slot int
				val  *Expiring
			}{slot, cached}
			return
		}
		if skip {
			results <- struct {
				slot int
				val  *Expiring
			}{slot, cached}
			return
		}
		target, err := subdirURL.Parse(rel)
		var ok bool
		if err == nil {
			ok = checkValidDownloadTarget(client, target)
		}
		results <- struct {
			slot int
			val  *Expiring
		}{slot, &Expiring{Value: ok, LastChecked: now}}
	}

	go check(0, priorZst, filename+".zst", false)
	// Skip the bz2 probe entirely when zst is already known available: the
	// caller always prefers zst, so bz2's answer would never be consulted.
	zstKnownGood := priorZst != nil && priorZst.valid(now, variantCacheTTL) && priorZst.Value
	go check(1, priorBz2, filename+".bz2", zstKnownGood)
	go check(2, priorJLAP, jlapFileName, false)

	var out VariantAvailability
	for i := 0; i < 3; i++ {
		r := <-results
		switch r.slot {
		case 0:
			out.HasZst = r.val
		case 1:
			out.HasBz2 = r.val
		case 2:
			out.HasJLAP = r.val
		}
	}
	return out
}

// checkValidDownloadTarget reports whether url looks fetchable: for file://
// URLs, whether the file exists; otherwise whether a HEAD request succeeds.
func checkValidDownloadTarget(client *http.Client, u *url.URL) bool {
	if u.Scheme == "file" {
		_, err := os.Stat(u.Path)
		return err == nil
	}
	req, err := http.NewRequest(http.MethodHead, u.String(), nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
