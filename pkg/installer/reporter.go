package installer

import "github.com/orbit-pm/orbit/pkg/types"

// Reporter receives progress notifications as a Transaction is driven,
// mirroring original_source's install::Reporter trait (see the indicatif.rs
// implementation cited in this package's doc comment) one callback at a
// time: transaction bounds, per-operation cache population (validate then,
// on a miss, download), then unlink/link. Every *Start method other than
// OnTransactionStart and OnOperationStart (which return nothing) returns an
// opaque index the matching *Complete/*Progress call is made with, the same
// indexed-handle shape rattler's Reporter trait and this repo's
// pkg/cache.Reporter both use.
type Reporter interface {
	OnTransactionStart(tx *Transaction)
	OnOperationStart(operation int)

	OnPopulateCacheStart(operation int, record types.RepoDataRecord) int
	OnValidateStart(cacheEntry int) int
	OnValidateComplete(cacheEntry int)
	OnDownloadStart(cacheEntry int) int
	OnDownloadProgress(cacheEntry int, downloaded uint64, total *uint64)
	OnDownloadComplete(cacheEntry int)
	OnPopulateCacheComplete(cacheEntry int)

	OnUnlinkStart(operation int, record types.PrefixRecord) int
	OnUnlinkComplete(linkEntry int)
	OnLinkStart(operation int, record types.RepoDataRecord) int
	OnLinkComplete(linkEntry int)

	OnOperationComplete(operation int)
	OnTransactionComplete()
}

type noopReporter struct{}

func (noopReporter) OnTransactionStart(*Transaction)                             {}
func (noopReporter) OnOperationStart(int)                                       {}
func (noopReporter) OnPopulateCacheStart(int, types.RepoDataRecord) int         { return 0 }
func (noopReporter) OnValidateStart(int) int                                    { return 0 }
func (noopReporter) OnValidateComplete(int)                                     {}
func (noopReporter) OnDownloadStart(int) int                                    { return 0 }
func (noopReporter) OnDownloadProgress(int, uint64, *uint64)                    {}
func (noopReporter) OnDownloadComplete(int)                                     {}
func (noopReporter) OnPopulateCacheComplete(int)                                {}
func (noopReporter) OnUnlinkStart(int, types.PrefixRecord) int                  { return 0 }
func (noopReporter) OnUnlinkComplete(int)                                       {}
func (noopReporter) OnLinkStart(int, types.RepoDataRecord) int                  { return 0 }
func (noopReporter) OnLinkComplete(int)                                        {}
func (noopReporter) OnOperationComplete(int)                                    {}
func (noopReporter) OnTransactionComplete()                                     {}

// NoopReporter does nothing; usable wherever progress reporting is optional.
var NoopReporter Reporter = noopReporter{}
