package cache

import (
	"context"
	"os"

	"github.com/orbit-pm/orbit/pkg/cas"
)

// NewArchiveFetchFunc returns a FetchFunc that extracts the tar archive at
// archivePath into the cache's destination directory via store, for
// channels that hand out a local package archive file rather than an
// already-extracted directory.
func NewArchiveFetchFunc(store *cas.Store, archivePath string) FetchFunc {
	return func(_ context.Context, destination string) error {
		f, err := os.Open(archivePath)
		if err != nil {
			return err
		}
		defer f.Close()

		ext, err := cas.NewExtractor(store, destination)
		if err != nil {
			return err
		}
		return ext.Unpack(f)
	}
}
