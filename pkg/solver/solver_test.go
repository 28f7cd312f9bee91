package solver

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/orbit-pm/orbit/pkg/types"
)

func rec(name, version, build string, buildNumber int64, depends ...string) types.RepoDataRecord {
	return types.RepoDataRecord{
		PackageRecord: types.PackageRecord{
			Name:        types.NewPackageName(name),
			Version:     types.MustParseVersion(version),
			BuildString: build,
			BuildNumber: buildNumber,
			Subdir:      "linux-64",
			Depends:     depends,
		},
		FileName: name + "-" + version + "-" + build + ".tar.bz2",
		URL:      "https://example.com/linux-64/" + name + "-" + version + "-" + build + ".tar.bz2",
	}
}

func spec(raw string) types.MatchSpec {
	ms, err := types.ParseMatchSpec(raw)
	if err != nil {
		panic(err)
	}
	return ms
}

func TestSolveSimpleChain(t *testing.T) {
	a1 := rec("a", "1.0", "0", 0, "b >=1.0")
	b1 := rec("b", "1.0", "0", 0)

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{a1, b1}},
	}

	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records, want 2:\n%s", len(out), spew.Sdump(out))
	}
	if out[0].Name.String() != "b" || out[1].Name.String() != "a" {
		t.Errorf("order = [%s, %s], want [b, a] (dependency before dependent)", out[0].Name.String(), out[1].Name.String())
	}
}

func TestSolveHighestStrategyPrefersNewest(t *testing.T) {
	a1 := rec("a", "1.0", "0", 0)
	a2 := rec("a", "2.0", "0", 0)

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{a1, a2}},
		Strategy:          Highest,
	}
	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(out) != 1 || out[0].Version.String() != "2.0" {
		t.Fatalf("got %+v, want a=2.0", out)
	}
}

func TestSolveLowestVersionStrategy(t *testing.T) {
	a1 := rec("a", "1.0", "0", 0)
	a2 := rec("a", "2.0", "0", 0)

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{a1, a2}},
		Strategy:          LowestVersion,
	}
	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(out) != 1 || out[0].Version.String() != "1.0" {
		t.Fatalf("got %+v, want a=1.0", out)
	}
}

func TestSolveUnsatReportsUnresolvedDependency(t *testing.T) {
	task := SolverTask{
		Specs:             []types.MatchSpec{spec("missing-package")},
		AvailablePackages: [][]types.RepoDataRecord{{rec("a", "1.0", "0", 0)}},
	}
	_, err := Solve(task)
	if err == nil {
		t.Fatal("expected an unsat error")
	}
	if _, ok := err.(*UnsatError); !ok {
		t.Fatalf("error is %T, want *UnsatError", err)
	}
}

// TestSolveChannelPriorityStrict is spec.md §8's channel-priority testable
// property: when X is available in two channels, Strict priority picks the
// higher-priority channel's record.
func TestSolveChannelPriorityStrict(t *testing.T) {
	highPriority := rec("x", "1.0", "0", 0)
	highPriority.Channel = "https://example.com/high/"
	lowPriority := rec("x", "2.0", "0", 0)
	lowPriority.Channel = "https://example.com/low/"
	lowPriority.URL = "https://example.com/low/linux-64/x-2.0-0.tar.bz2"

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("x")},
		AvailablePackages: [][]types.RepoDataRecord{{highPriority}, {lowPriority}},
		ChannelPriority:   ChannelPriorityStrict,
		Strategy:          Highest,
	}
	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(out) != 1 || out[0].Channel != highPriority.Channel {
		t.Fatalf("got %+v, want the high-priority channel's record even though the low-priority one is a newer version", out)
	}
}

func TestSolveExcludeNewerFiltersCandidates(t *testing.T) {
	old := rec("a", "1.0", "0", 0)
	old.Timestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	newer := rec("a", "2.0", "0", 0)
	newer.URL = "https://example.com/linux-64/a-2.0-0-other.tar.bz2"
	newer.Timestamp = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{old, newer}},
		ExcludeNewer:      &cutoff,
		Strategy:          Highest,
	}
	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(out) != 1 || out[0].Version.String() != "1.0" {
		t.Fatalf("got %+v, want only the pre-cutoff version 1.0", out)
	}
}

func TestSolveLockedPackageIsForced(t *testing.T) {
	locked := rec("a", "1.0", "0", 0)
	newer := rec("a", "2.0", "0", 0)
	newer.URL = "https://example.com/linux-64/a-2.0-0-other.tar.bz2"

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{locked, newer}},
		LockedPackages:    []types.RepoDataRecord{locked},
		Strategy:          Highest,
	}
	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(out) != 1 || out[0].Version.String() != "1.0" {
		t.Fatalf("got %+v, want the locked version 1.0 even though 2.0 is available", out)
	}
}

func TestSolveConstrainsRejectsIncompatibleSelection(t *testing.T) {
	a := rec("a", "1.0", "0", 0, "b")
	a.Constrains = []string{"b >=2.0"}
	b1 := rec("b", "1.0", "0", 0)
	b2 := rec("b", "2.0", "0", 0)
	b2.URL = "https://example.com/linux-64/b-2.0-0-other.tar.bz2"

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{a, b1, b2}},
		Strategy:          LowestVersion,
	}
	out, err := Solve(task)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	var gotB types.RepoDataRecord
	for _, r := range out {
		if r.Name.String() == "b" {
			gotB = r
		}
	}
	if gotB.Version.String() != "2.0" {
		t.Fatalf("got b=%s, want b=2.0 (the only version satisfying a's constrains clause)", gotB.Version.String())
	}
}

func TestSolveDuplicateRecordsError(t *testing.T) {
	a := rec("a", "1.0", "0", 0)
	dup := rec("a", "1.0", "0", 0) // same URL as a

	task := SolverTask{
		Specs:             []types.MatchSpec{spec("a")},
		AvailablePackages: [][]types.RepoDataRecord{{a, dup}},
	}
	_, err := Solve(task)
	if _, ok := err.(*DuplicateRecordsError); !ok {
		t.Fatalf("error = %v (%T), want *DuplicateRecordsError", err, err)
	}
}
