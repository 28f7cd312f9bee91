package installer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/orbit-pm/orbit/pkg/types"
)

// ReadPrefixState scans <prefix>/conda-meta for PrefixRecords, the state
// Plan needs as its "old" side. A missing conda-meta directory is an empty
// prefix, not an error, matching golang-dep's tolerant treatment of a
// project with no existing Gopkg.lock.
func ReadPrefixState(prefix string) ([]types.PrefixRecord, error) {
	dir := filepath.Join(prefix, "conda-meta")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read conda-meta directory")
	}

	records := make([]types.PrefixRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "history" || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read prefix record %s", name)
		}
		var rec types.PrefixRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode prefix record %s", name)
		}
		records = append(records, rec)
	}
	return records, nil
}
