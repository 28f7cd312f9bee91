package solver

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/orbit-pm/orbit/pkg/types"
)

type solvableKind int8

const (
	kindRoot solvableKind = iota
	kindVirtual
	kindReal
)

// solvable is a single candidate in the search: a real package record, a
// virtual package, or the synthetic root. Grounded on the original
// source's SolvableId / Solvable.
type solvable struct {
	id     int
	kind   solvableKind
	name   string // normalized, for name-keyed lookups
	record types.RepoDataRecord
}

func (s *solvable) String() string {
	if s.kind == kindRoot {
		return "root"
	}
	return fmt.Sprintf("%s=%s=%s", s.record.Name.String(), s.record.Version.String(), s.record.BuildString)
}

// DuplicateRecordsError is raised when available_packages contains two
// records with the same URL (identity per spec.md §4.E's Output clause).
type DuplicateRecordsError struct {
	URL string
}

func (e *DuplicateRecordsError) Error() string {
	return fmt.Sprintf("solver: duplicate record for url %q", e.URL)
}

// pool holds every solvable under consideration, indexed for the search.
type pool struct {
	root    *solvable
	byName  map[string][]*solvable // candidates, in strategy-sorted order
	byURL   map[string]*solvable
	nextID  int
}

func newPool() *pool {
	p := &pool{byName: map[string][]*solvable{}, byURL: map[string]*solvable{}}
	p.root = &solvable{id: p.alloc(), kind: kindRoot, name: "root"}
	return p
}

func (p *pool) alloc() int {
	id := p.nextID
	p.nextID++
	return id
}

// buildPool assembles the candidate pool for task: registers virtual
// packages, filters available_packages by exclude_newer and (when Strict)
// channel priority, detects duplicate URLs, and collapses each locked
// package's name to that single record. A spec that names a package by URL
// is not turned into a candidate here.
func buildPool(task SolverTask) (*pool, error) {
	p := newPool()

	for _, vp := range task.VirtualPackages {
		rec := types.RepoDataRecord{
			PackageRecord: types.PackageRecord{
				Name:        types.NewPackageName(vp.Name),
				Version:     virtualPackageVersion(vp.Version),
				BuildString: vp.Build,
			},
			URL: "virtual:" + vp.Name,
		}
		sv := &solvable{id: p.alloc(), kind: kindVirtual, name: vp.Name, record: rec}
		p.byURL[rec.URL] = sv
		p.byName[normName(vp.Name)] = append(p.byName[normName(vp.Name)], sv)
	}

	seenNameFromHigherChannel := map[string]bool{}
	for _, bucket := range task.AvailablePackages {
		bucketNames := map[string]bool{}
		for _, rec := range bucket {
			name := normName(rec.Name.String())
			if task.ChannelPriority == ChannelPriorityStrict && seenNameFromHigherChannel[name] {
				continue
			}
			if task.ExcludeNewer != nil && recordTime(rec).After(*task.ExcludeNewer) {
				continue
			}
			if existing, dup := p.byURL[rec.URL]; dup && rec.URL != "" {
				return nil, &DuplicateRecordsError{URL: existing.record.URL}
			}
			sv := &solvable{id: p.alloc(), kind: kindReal, name: name, record: rec}
			if rec.URL != "" {
				p.byURL[rec.URL] = sv
			}
			p.byName[name] = append(p.byName[name], sv)
			bucketNames[name] = true
		}
		for name := range bucketNames {
			seenNameFromHigherChannel[name] = true
		}
	}

	for _, locked := range task.LockedPackages {
		name := normName(locked.Name.String())
		if existing, ok := p.byURL[locked.URL]; ok && locked.URL != "" {
			p.byName[name] = []*solvable{existing}
			continue
		}
		sv := &solvable{id: p.alloc(), kind: kindReal, name: name, record: locked}
		if locked.URL != "" {
			p.byURL[locked.URL] = sv
		}
		p.byName[name] = []*solvable{sv}
	}

	return p, nil
}

// recordTime interprets PackageRecord.Timestamp as milliseconds since the
// epoch when it's large enough to plausibly be one, and seconds otherwise,
// matching conda repodata's historically inconsistent timestamp units.
func recordTime(rec types.PackageRecord) time.Time {
	if rec.Timestamp == 0 {
		return time.Time{}
	}
	if rec.Timestamp > 1_000_000_000_000 {
		return time.UnixMilli(rec.Timestamp)
	}
	return time.Unix(rec.Timestamp, 0)
}

func normName(s string) string { return types.NewPackageName(s).String() }

// virtualPackageVersion normalizes a virtual package's version through
// Masterminds/semver/v3 before handing it to the conda version grammar.
// Virtual package versions (__glibc, __cuda, __unix's synthetic "0") are
// platform capability numbers, not conda package versions, and packages
// upstream often publish them as strict semver (e.g. CUDA's "11.8.0"). A
// version semver accepts reaches the conda grammar in semver's normalized
// form ("11.8" becomes "11.8.0"); one semver rejects is passed on as
// written, and one the conda grammar also rejects becomes the zero Version
// without any error being reported.
func virtualPackageVersion(raw string) types.Version {
	if raw == "" {
		return types.Version{}
	}
	if sv, err := semver.NewVersion(raw); err == nil {
		return mustParseVersionLenient(sv.String())
	}
	return mustParseVersionLenient(raw)
}

func mustParseVersionLenient(raw string) types.Version {
	v, err := types.ParseVersion(raw)
	if err != nil {
		return types.Version{}
	}
	return v
}

func (p *pool) candidatesForName(name string) []*solvable {
	return p.byName[normName(name)]
}
