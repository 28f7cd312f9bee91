package solver

import (
	"strings"

	"github.com/orbit-pm/orbit/pkg/types"
)

// Verbose trace output, in the style of golang-dep/trace.go: a tree-indented
// line per candidate attempt, successful selection, and backtrack, keyed to
// search depth (len(state.order)). Every method is a no-op unless the task
// that built state asked for Trace.
const (
	successChar = "✓"
	failChar    = "✗"
	backChar    = "←"
)

func (s *searchState) depthPrefix() string {
	return strings.Repeat("| ", len(s.order))
}

// traceAttempt is called before checking a candidate against constraints.
func (s *searchState) traceAttempt(spec types.MatchSpec, sv *solvable) {
	if !s.trace {
		return
	}
	s.tl.Printf("%s? try %s for %s\n", s.depthPrefix(), sv.String(), spec.String())
}

// traceSelect is called once a candidate has satisfied its constraints and
// all of its dependencies have themselves been selected.
func (s *searchState) traceSelect(sv *solvable) {
	if !s.trace {
		return
	}
	s.tl.Printf("%s%s select %s\n", s.depthPrefix(), successChar, sv.String())
}

// traceReject is called when a candidate fails its constraint check, before
// the queue advances past it.
func (s *searchState) traceReject(spec types.MatchSpec, sv *solvable, err error) {
	if !s.trace {
		return
	}
	s.tl.Printf("%s%s reject %s for %s: %s\n", s.depthPrefix(), failChar, sv.String(), spec.String(), err)
}

// traceBacktrack is called when a candidate's dependencies could not all be
// satisfied and the search unwinds state to try the next candidate.
func (s *searchState) traceBacktrack(spec types.MatchSpec, sv *solvable, err error) {
	if !s.trace {
		return
	}
	s.tl.Printf("%s%s backtrack from %s for %s: %s\n", s.depthPrefix(), backChar, sv.String(), spec.String(), err)
}

// traceExhausted is called when a spec runs out of candidates entirely.
func (s *searchState) traceExhausted(spec types.MatchSpec, detail string) {
	if !s.trace {
		return
	}
	s.tl.Printf("%s%s no candidates left for %s: %s\n", s.depthPrefix(), failChar, spec.String(), detail)
}

// traceFinish is called once, after Solve has returned.
func traceFinish(task SolverTask, records []types.RepoDataRecord, err error) {
	if !task.Trace {
		return
	}
	if err != nil {
		task.TraceLogger.Printf("%s solving failed: %s\n", failChar, err)
		return
	}
	task.TraceLogger.Printf("%s found solution with %d packages\n", successChar, len(records))
}
