package trie

import (
	"reflect"
	"sort"
	"testing"
)

func sortOwners(ps []PathOwner) []PathOwner {
	out := append([]PathOwner(nil), ps...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Pkg < out[j].Pkg
	})
	return out
}

// TestReprioritizeMinimalMove is scenario 1 from spec.md §8: new_order's
// *last* element is highest priority, so reprioritizing to ["pkg1","pkg2"]
// right after insertion (where pkg1, the first inserted, currently wins)
// flips the winner to pkg2.
func TestReprioritizeMinimalMove(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"foo/bar1.txt", "foo/bar2.txt"})
	tr.InsertPackage("pkg2", []string{"foo/bar2.txt"})

	to, from := tr.Reprioritize([]string{"pkg1", "pkg2"})
	wantTo := []PathOwner{{Path: "foo/bar2.txt", Pkg: "pkg1"}}
	wantFrom := []PathOwner{{Path: "foo/bar2.txt", Pkg: "pkg2"}}
	if !reflect.DeepEqual(sortOwners(to), sortOwners(wantTo)) {
		t.Errorf("toClobbers = %v, want %v", to, wantTo)
	}
	if !reflect.DeepEqual(sortOwners(from), sortOwners(wantFrom)) {
		t.Errorf("fromClobbers = %v, want %v", from, wantFrom)
	}
}

// TestReprioritizeIdempotent: applying the same reprioritization twice
// yields (nil, nil) on the second application.
func TestReprioritizeIdempotent(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"foo/bar1.txt", "foo/bar2.txt"})
	tr.InsertPackage("pkg2", []string{"foo/bar2.txt"})

	tr.Reprioritize([]string{"pkg1", "pkg2"})
	to, from := tr.Reprioritize([]string{"pkg1", "pkg2"})
	if len(to) != 0 || len(from) != 0 {
		t.Fatalf("second identical reprioritize should be a no-op, got to=%v from=%v", to, from)
	}
}

// TestReprioritizeReverseInsertionOrderIsIdentity checks the universal
// property: reprioritize_packages(reverse(insertion_order)) is a no-op,
// since new_order's *last* element is highest priority (the opposite of
// Packages' index-0-is-highest convention) while the first-inserted package
// is highest priority in the stored order — so insertion order reversed
// encodes the same priority as the current state.
func TestReprioritizeReverseInsertionOrderIsIdentity(t *testing.T) {
	tr := New()
	tr.InsertPackage("a", []string{"x"})
	tr.InsertPackage("b", []string{"x/y"})
	tr.InsertPackage("c", []string{"z"})

	to, from := tr.Reprioritize([]string{"c", "b", "a"})
	if len(to) != 0 || len(from) != 0 {
		t.Fatalf("reprioritizing to reverse(insertion order) must be a no-op, got to=%v from=%v", to, from)
	}
}

// TestUnregisterExposesLowerPriority is scenario 2 from spec.md §8.
func TestUnregisterExposesLowerPriority(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"foo"})
	tr.InsertPackage("pkg2", []string{"foo/bar.txt"})

	to, from := tr.UnregisterPackage("pkg1")
	if len(to) != 0 {
		t.Errorf("toClobbers should always be empty on unregister, got %v", to)
	}
	want := []PathOwner{{Path: "foo/bar.txt", Pkg: "pkg2"}}
	if !reflect.DeepEqual(sortOwners(from), sortOwners(want)) {
		t.Errorf("fromClobbers = %v, want %v", from, want)
	}
}

func TestInsertConflictFileVsFile(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"a/b.txt"})
	conflicts := tr.InsertPackage("pkg2", []string{"a/b.txt"})
	if !reflect.DeepEqual(conflicts, []string{"a/b.txt"}) {
		t.Fatalf("conflicts = %v, want [a/b.txt]", conflicts)
	}
}

func TestInsertConflictFileVsDir(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"a"})
	conflicts := tr.InsertPackage("pkg2", []string{"a/b.txt"})
	if !reflect.DeepEqual(conflicts, []string{"a/b.txt"}) {
		t.Fatalf("conflicts = %v, want [a/b.txt]", conflicts)
	}
}

func TestInsertConflictDirOverFiles(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"a/b.txt"})
	conflicts := tr.InsertPackage("pkg2", []string{"a"})
	if !reflect.DeepEqual(conflicts, []string{"a"}) {
		t.Fatalf("conflicts = %v, want [a]", conflicts)
	}
	// dir-over-files still registers pkg2 and propagates into descendants.
	winners := tr.Winners()
	found := false
	for _, w := range winners {
		if w.Path == "a" && w.Pkg == "pkg2" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected pkg2 to win at path 'a' after dir-over-files insert, winners=%v", winners)
	}
}

func TestInsertNoConflictOnEmpty(t *testing.T) {
	tr := New()
	conflicts := tr.InsertPackage("pkg1", []string{"fresh/path.txt"})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none", conflicts)
	}
}

func TestReprioritizeNonPermutationPanics(t *testing.T) {
	tr := New()
	tr.InsertPackage("pkg1", []string{"a"})
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Reprioritize to panic on a non-permutation order")
		}
	}()
	tr.Reprioritize([]string{"pkg1", "pkg2"})
}
