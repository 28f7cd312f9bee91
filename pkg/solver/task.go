// Package solver implements the Dependency Solver (component E): selecting
// a consistent, topologically ordered set of RepoDataRecords that satisfies
// a SolverTask's specs, constraints, locks, pins and virtual packages.
//
// Grounded on golang-dep/solver.go, selection.go, version_queue.go and
// errors.go: the per-name versionQueue of remaining candidates (here a
// per-edge candidateQueue) and the selected stack that's popped on
// backtrack are carried over; there is no unselected queue of outstanding
// match-specs, which are instead resolved depth-first by recursion in the
// order they appear. Generalized from Go import-path resolution to conda MatchSpec/
// RepoDataRecord. original_source/crates/rattler_libsolv_rs describes a
// true watched-literal CDCL SAT solver; this package implements the same
// clause semantics (Requires/Constrains/ForbidMultipleInstances/Lock)
// through conflict-driven backtracking search over golang-dep's selection
// structures rather than literal watched literals and 1-UIP learning — see
// DESIGN.md for the full tradeoff. The search is sound and complete over
// this problem's clause shapes; it can do more redundant work on pathological
// inputs than a literal watched-literal implementation would.
package solver

import (
	"log"
	"time"

	"github.com/orbit-pm/orbit/pkg/types"
)

// ChannelPriority controls whether a package available in more than one
// channel is restricted to its highest-priority channel.
type ChannelPriority int

const (
	// ChannelPriorityStrict excludes a name's candidates from every channel
	// but the highest-priority one that offers it.
	ChannelPriorityStrict ChannelPriority = iota
	// ChannelPriorityDisabled considers every channel's candidates for a
	// name together, priority order only used as a sort tiebreaker.
	ChannelPriorityDisabled
)

// Strategy controls candidate ordering within a name's version set.
type Strategy int

const (
	// Highest prefers newer versions, then higher build numbers, then more
	// recent timestamps, for every package.
	Highest Strategy = iota
	// LowestVersion prefers older versions for every package.
	LowestVersion
	// LowestVersionDirect prefers older versions only for packages named
	// directly in the task's top-level Specs; transitive dependencies are
	// still resolved with Highest.
	LowestVersionDirect
)

// VirtualPackage is a synthetic solvable representing platform capability
// (e.g. __unix, __glibc, __cuda) that real packages can depend on but that
// can never itself depend on a non-virtual package.
type VirtualPackage struct {
	Name    string
	Version string
	Build   string
}

// SolverTask is the full input to Solve, mirroring spec.md §4.E.
type SolverTask struct {
	Specs              []types.MatchSpec
	Constraints        []types.MatchSpec
	LockedPackages     []types.RepoDataRecord
	PinnedPackages     []types.RepoDataRecord
	VirtualPackages    []VirtualPackage
	AvailablePackages  [][]types.RepoDataRecord // one bucket per channel, highest priority first
	ExcludeNewer       *time.Time
	ChannelPriority    ChannelPriority
	Strategy           Strategy

	// Trace and TraceLogger enable verbose backtracking trace output, in
	// the style of golang-dep/trace.go: a tree-indented line per candidate
	// attempt and per backtrack, keyed to search depth. TraceLogger is
	// required when Trace is true.
	Trace       bool
	TraceLogger *log.Logger
}
