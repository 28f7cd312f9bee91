package cache

// Reporter receives progress notifications for a validate-or-fetch cycle.
// Grounded on original_source's CacheReporter/DownloadReporter traits,
// collapsed into one interface since this package drives both phases
// itself rather than splitting them across a download sub-crate.
type Reporter interface {
	OnValidateStart() int
	OnValidateComplete(index int)
	OnDownloadStart() int
	OnDownloadProgress(index int, downloaded uint64, total *uint64)
	OnDownloadComplete(index int)
}

type noopReporter struct{}

func (noopReporter) OnValidateStart() int                              { return 0 }
func (noopReporter) OnValidateComplete(int)                            {}
func (noopReporter) OnDownloadStart() int                               { return 0 }
func (noopReporter) OnDownloadProgress(int, uint64, *uint64)            {}
func (noopReporter) OnDownloadComplete(int)                             {}

// NoopReporter is a Reporter that does nothing, usable wherever progress
// reporting is optional.
var NoopReporter Reporter = noopReporter{}
