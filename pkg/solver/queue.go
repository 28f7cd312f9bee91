package solver

import (
	"sort"

	"github.com/orbit-pm/orbit/pkg/types"
)

// candidateQueue holds the remaining, ordered candidates for a single
// dependency edge (a MatchSpec against a name's pool of solvables). It is
// the generalization of golang-dep's versionQueue: instead of advancing a
// per-project list of versions, it advances a per-edge list of matching
// solvables, recording why each one was rejected so a backtrack can
// explain itself.
type candidateQueue struct {
	spec       types.MatchSpec
	candidates []*solvable
	fails      map[int]error // solvable id -> rejection reason
}

// newCandidateQueue filters p's pool for spec.Name down to those matching
// spec (and, for pinned names, any additional pin spec), sorted by
// strategy. directTopLevel indicates this edge came from the task's
// top-level Specs, which matters for LowestVersionDirect.
func newCandidateQueue(p *pool, spec types.MatchSpec, pin *types.MatchSpec, strategy Strategy, directTopLevel bool) *candidateQueue {
	all := p.candidatesForName(spec.Name.String())
	var matched []*solvable
	for _, sv := range all {
		if !spec.Matches(sv.record.PackageRecord) {
			continue
		}
		if pin != nil && !pin.Matches(sv.record.PackageRecord) {
			continue
		}
		matched = append(matched, sv)
	}

	effective := strategy
	if strategy == LowestVersionDirect && !directTopLevel {
		effective = Highest
	}
	sortCandidates(matched, effective)

	return &candidateQueue{spec: spec, candidates: matched, fails: map[int]error{}}
}

func sortCandidates(cands []*solvable, strategy Strategy) {
	less := func(i, j int) bool {
		a, b := cands[i].record.PackageRecord, cands[j].record.PackageRecord
		switch strategy {
		case LowestVersion:
			if !a.Version.Equal(b.Version) {
				return a.Version.Less(b.Version)
			}
		default: // Highest
			if !a.Version.Equal(b.Version) {
				return a.Version.Greater(b.Version)
			}
		}
		if a.BuildNumber != b.BuildNumber {
			return a.BuildNumber > b.BuildNumber
		}
		return a.Timestamp > b.Timestamp
	}
	sort.SliceStable(cands, less)
}

// current returns the next untried candidate, or nil if exhausted.
func (q *candidateQueue) current() *solvable {
	if len(q.candidates) == 0 {
		return nil
	}
	return q.candidates[0]
}

// advance records why the current candidate was rejected and moves to the
// next one.
func (q *candidateQueue) advance(reason error) {
	if len(q.candidates) == 0 {
		return
	}
	q.fails[q.candidates[0].id] = reason
	q.candidates = q.candidates[1:]
}

func (q *candidateQueue) exhausted() bool { return len(q.candidates) == 0 }
