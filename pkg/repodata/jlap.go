package repodata

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// jlapPatchLine is one line of a .jlap file: a single RFC6902 patch taking
// the repodata from one known content hash to the next. Grounded on the
// JLAP wire format described alongside
// original_source/crates/rattler_repodata_gateway/src/fetch/mod.rs's
// JLAP handling. patchRepoData downloads the whole .jlap file on every
// update and uses the from/to hash chain to find the patch that starts at
// the cached content hash; it does not use state.jlap.offset to request
// only the patches after the ones already applied.
type jlapPatchLine struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Patch json.RawMessage `json:"patch"`
}

// jlapFooter is the final line of a .jlap file, naming the content hash
// the file's patch chain ends at.
type jlapFooter struct {
	Latest string `json:"latest"`
}

// errJLAPChainBroken signals that the prior cached hash isn't reachable
// from this .jlap file's patch chain, so the caller must fall back to a
// full fetch instead.
var errJLAPChainBroken = errors.New("repodata: jlap patch chain does not cover the cached revision")

// patchRepoData downloads the channel's .jlap patch file and, if prior's
// recorded content hash appears in the chain, applies every patch from
// there to the latest revision, rewriting dataPath in place. It returns
// the new CacheState to persist. Any error (network, parse, hash
// mismatch, chain-not-covering-prior) should be treated by the caller as
// "JLAP did not work this time" and followed by a normal full fetch.
func patchRepoData(client *http.Client, subdirURL *url.URL, prior *CacheState, dataPath string) (*CacheState, error) {
	jlapURL, err := subdirURL.Parse(jlapFileName)
	if err != nil {
		return nil, errors.Wrap(err, "repodata: build jlap url")
	}

	req, err := http.NewRequest(http.MethodGet, jlapURL.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("repodata: jlap fetch returned status %d", resp.StatusCode)
	}

	lines, footer, err := parseJLAP(resp.Body)
	if err != nil {
		return nil, err
	}

	current, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, errors.Wrap(err, "repodata: read cached repodata for jlap patching")
	}

	startHash := prior.Blake2Hash
	if startHash == "" {
		startHash = hashHex(blake2bSum(current))
	}

	patched, appliedAny, err := applyJLAPChain(lines, startHash, current)
	if err != nil {
		return nil, err
	}
	if !appliedAny {
		return nil, errJLAPChainBroken
	}

	finalHash := hashHex(blake2bSum(patched))
	if footer.Latest != "" && finalHash != footer.Latest {
		return nil, errors.Errorf("repodata: jlap result hash %s does not match footer latest %s", finalHash, footer.Latest)
	}

	if err := os.WriteFile(dataPath, patched, 0o644); err != nil {
		return nil, errors.Wrap(err, "repodata: write jlap-patched repodata")
	}

	newState := &CacheState{
		URL:               prior.URL,
		CacheHeaders:       prior.CacheHeaders,
		CacheLastModified:  prior.CacheLastModified,
		CacheSize:          int64(len(patched)),
		Blake2Hash:         finalHash,
		Blake2HashNominal:  finalHash,
		JLAP:               &JLAPState{Latest: finalHash, Offset: int64(len(lines))},
	}
	return newState, nil
}

// parseJLAP reads a .jlap stream: one jlapPatchLine JSON object per line,
// followed by a single jlapFooter line.
func parseJLAP(r io.Reader) ([]jlapPatchLine, jlapFooter, error) {
	var lines []jlapPatchLine
	var footer jlapFooter
	var rawLines [][]byte

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		rawLines = append(rawLines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, footer, errors.Wrap(err, "repodata: scan jlap stream")
	}
	if len(rawLines) == 0 {
		return nil, footer, errors.New("repodata: empty jlap stream")
	}

	if err := json.Unmarshal(rawLines[len(rawLines)-1], &footer); err != nil {
		return nil, footer, errors.Wrap(err, "repodata: parse jlap footer")
	}

	for _, raw := range rawLines[:len(rawLines)-1] {
		var pl jlapPatchLine
		if err := json.Unmarshal(raw, &pl); err != nil {
			continue // the first line is an IV/placeholder, not a patch
		}
		if pl.Patch == nil {
			continue
		}
		lines = append(lines, pl)
	}
	return lines, footer, nil
}

// applyJLAPChain walks lines looking for the one starting at startHash,
// applies it and every subsequent patch in order, and returns the result.
// appliedAny is false if startHash never appears as a "from" value, which
// means this .jlap file's chain doesn't cover the client's current state
// (e.g. it has since been compacted) and a full fetch is required instead.
func applyJLAPChain(lines []jlapPatchLine, startHash string, doc []byte) ([]byte, bool, error) {
	hash := startHash
	appliedAny := false
	for _, pl := range lines {
		if pl.From != hash {
			if appliedAny {
				break // chain moved past what we need
			}
			continue
		}
		patch, err := jsonpatch.DecodePatch(pl.Patch)
		if err != nil {
			return nil, appliedAny, errors.Wrap(err, "repodata: decode jlap patch")
		}
		next, err := patch.Apply(doc)
		if err != nil {
			return nil, appliedAny, errors.Wrap(err, "repodata: apply jlap patch")
		}
		doc = next
		hash = pl.To
		appliedAny = true
	}
	return doc, appliedAny, nil
}

func blake2bSum(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}
