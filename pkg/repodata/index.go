package repodata

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/orbit-pm/orbit/pkg/types"
)

// rawIndex mirrors spec §6's repodata wire format: a top-level object with
// "packages" (legacy .tar.bz2 records) and "packages.conda" (newer .conda
// records), each keyed by filename.
type rawIndex struct {
	Packages      map[string]json.RawMessage `json:"packages"`
	PackagesConda map[string]json.RawMessage `json:"packages.conda"`
}

// DecodeIndex parses a repodata.json document (as produced by FetchData,
// at CachedData.Path) into RepoDataRecords. baseURL is the subdir URL the
// document was fetched from, used to synthesize each record's download
// URL since the wire format only carries the bare filename.
func DecodeIndex(r io.Reader, baseURL, channel string) ([]types.RepoDataRecord, error) {
	var raw rawIndex
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode repodata index")
	}

	base := strings.TrimSuffix(baseURL, "/")
	out := make([]types.RepoDataRecord, 0, len(raw.Packages)+len(raw.PackagesConda))
	for fileName, body := range raw.Packages {
		rec, err := decodeIndexEntry(fileName, body, base, channel)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	for fileName, body := range raw.PackagesConda {
		rec, err := decodeIndexEntry(fileName, body, base, channel)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeIndexEntry(fileName string, body json.RawMessage, base, channel string) (types.RepoDataRecord, error) {
	var pr types.PackageRecord
	if err := pr.UnmarshalJSON(body); err != nil {
		return types.RepoDataRecord{}, errors.Wrapf(err, "repodata entry %q", fileName)
	}
	if pr.Channel == "" {
		pr.Channel = channel
	}
	return types.RepoDataRecord{
		PackageRecord: pr,
		FileName:      fileName,
		URL:           base + "/" + fileName,
	}, nil
}
