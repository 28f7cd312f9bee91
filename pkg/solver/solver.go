package solver

import (
	"fmt"
	"log"

	"github.com/orbit-pm/orbit/pkg/types"
)

// searchState tracks the in-progress selection during a single Solve call.
// Grounded on golang-dep's selection (the "selected" stack) generalized to
// carry conda-specific pin/constraint lookups alongside it.
type searchState struct {
	pool              *pool
	strategy          Strategy
	selected          map[string]*solvable
	order             []*solvable
	pinsByName        map[string]*types.MatchSpec
	constraintsByName map[string][]types.MatchSpec
	trace             bool
	tl                *log.Logger
}

func newSearchState(p *pool, task SolverTask) *searchState {
	s := &searchState{
		pool:              p,
		strategy:          task.Strategy,
		selected:          map[string]*solvable{},
		pinsByName:        map[string]*types.MatchSpec{},
		constraintsByName: map[string][]types.MatchSpec{},
		trace:             task.Trace,
		tl:                task.TraceLogger,
	}
	for _, pinned := range task.PinnedPackages {
		name := normName(pinned.Name.String())
		ms := types.MatchSpec{Name: pinned.Name, NamelessMatchSpec: types.NamelessMatchSpec{
			Version: exactVersionSpec(pinned.Version),
		}}
		s.pinsByName[name] = &ms
	}
	for _, c := range task.Constraints {
		name := normName(c.Name.String())
		s.constraintsByName[name] = append(s.constraintsByName[name], c)
	}
	return s
}

// exactVersionSpec builds a VersionSpec matching exactly v, used to turn a
// pinned_packages record into the pin MatchSpec spec.md §4.E describes.
func exactVersionSpec(v types.Version) types.VersionSpec {
	vs, err := types.ParseVersionSpec(v.String())
	if err != nil {
		return types.VersionSpec{}
	}
	return vs
}

func (s *searchState) truncateTo(n int) {
	for _, sv := range s.order[n:] {
		delete(s.selected, sv.name)
	}
	s.order = s.order[:n]
}

// checkConstraints reports whether selecting sv is consistent with: the
// task's global Constraints on sv's name, every already-selected
// solvable's own Constrains clauses that target sv's name, and sv's own
// Constrains clauses targeting already-selected solvables. This is
// spec.md §4.E's Constrains(solvable, target, version_set) clause family.
func (s *searchState) checkConstraints(sv *solvable) error {
	for _, c := range s.constraintsByName[sv.name] {
		if !c.Matches(sv.record.PackageRecord) {
			return fmt.Errorf("does not satisfy constraint %s", c.String())
		}
	}
	for _, other := range s.order {
		for _, raw := range other.record.Constrains {
			ms, err := types.ParseMatchSpec(raw)
			if err != nil {
				continue
			}
			if normName(ms.Name.String()) != sv.name {
				continue
			}
			if !ms.Matches(sv.record.PackageRecord) {
				return fmt.Errorf("conflicts with %s's constraint %s", other.String(), raw)
			}
		}
	}
	for _, raw := range sv.record.Constrains {
		ms, err := types.ParseMatchSpec(raw)
		if err != nil {
			continue
		}
		targetName := normName(ms.Name.String())
		other, ok := s.selected[targetName]
		if !ok {
			continue
		}
		if !ms.Matches(other.record.PackageRecord) {
			return fmt.Errorf("conflicts with already-selected %s via constraint %s", other.String(), raw)
		}
	}
	return nil
}

// selectSpec is the recursive core of the search: resolve spec against
// pool, backtracking across candidates (and, via the returned error, up
// into the caller) until a consistent choice is found or every candidate
// is exhausted.
func selectSpec(spec types.MatchSpec, fromName string, pool *pool, state *searchState, direct bool) error {
	name := normName(spec.Name.String())

	if existing, ok := state.selected[name]; ok {
		if !spec.Matches(existing.record.PackageRecord) {
			return &searchFailure{fromName: fromName, spec: spec, kind: "conflict:forbid_multiple",
				detail: fmt.Sprintf("already selected %s, which does not satisfy this requirement", existing.String())}
		}
		return nil
	}

	queue := newCandidateQueue(pool, spec, state.pinsByName[name], state.strategy, direct)
	savedLen := len(state.order)

	var lastFail error
	for {
		sv := queue.current()
		if sv == nil {
			detail := "no candidates remain"
			if lastFail != nil {
				detail = lastFail.Error()
			}
			state.traceExhausted(spec, detail)
			return &searchFailure{fromName: fromName, spec: spec, kind: "requires", detail: detail}
		}

		state.traceAttempt(spec, sv)

		if err := state.checkConstraints(sv); err != nil {
			state.traceReject(spec, sv, err)
			queue.advance(err)
			lastFail = err
			continue
		}

		state.selected[name] = sv
		state.order = append(state.order, sv)

		depSpecs, parseErr := parseDepends(sv.record.Depends)
		if parseErr != nil {
			state.truncateTo(savedLen)
			state.traceBacktrack(spec, sv, parseErr)
			queue.advance(parseErr)
			lastFail = parseErr
			continue
		}

		var depErr error
		for _, ds := range depSpecs {
			if depErr = selectSpec(ds, sv.String(), pool, state, false); depErr != nil {
				break
			}
		}
		if depErr == nil {
			state.traceSelect(sv)
			return nil
		}

		state.truncateTo(savedLen)
		state.traceBacktrack(spec, sv, depErr)
		queue.advance(depErr)
		lastFail = depErr
	}
}

func parseDepends(depends []string) ([]types.MatchSpec, error) {
	out := make([]types.MatchSpec, 0, len(depends))
	for _, d := range depends {
		ms, err := types.ParseMatchSpec(d)
		if err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, nil
}

// Solve resolves task into a topologically ordered list of RepoDataRecords
// (dependencies before dependents), or an *UnsatError explaining why no
// consistent selection exists.
func Solve(task SolverTask) ([]types.RepoDataRecord, error) {
	pool, err := buildPool(task)
	if err != nil {
		return nil, err
	}

	state := newSearchState(pool, task)
	for _, spec := range task.Specs {
		if err := selectSpec(spec, "", pool, state, true); err != nil {
			unsat := buildUnsatError(err)
			traceFinish(task, nil, unsat)
			return nil, unsat
		}
	}

	out := make([]types.RepoDataRecord, 0, len(state.order))
	for i := len(state.order) - 1; i >= 0; i-- {
		sv := state.order[i]
		if sv.kind != kindReal {
			continue
		}
		out = append(out, sv.record)
	}
	traceFinish(task, out, nil)
	return out, nil
}
