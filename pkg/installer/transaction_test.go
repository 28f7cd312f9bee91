package installer

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/orbit-pm/orbit/pkg/types"
)

func prefixRec(name, version, build, url string, depends ...string) types.PrefixRecord {
	return types.PrefixRecord{
		RepoDataRecord: types.RepoDataRecord{
			PackageRecord: types.PackageRecord{
				Name:        types.NewPackageName(name),
				Version:     types.MustParseVersion(version),
				BuildString: build,
				Depends:     depends,
			},
			URL: url,
		},
	}
}

func repoRec(name, version, build, url string, depends ...string) types.RepoDataRecord {
	return types.RepoDataRecord{
		PackageRecord: types.PackageRecord{
			Name:        types.NewPackageName(name),
			Version:     types.MustParseVersion(version),
			BuildString: build,
			Depends:     depends,
		},
		URL: url,
	}
}

func findOp(t *testing.T, tx Transaction, name string) Operation {
	t.Helper()
	for _, op := range tx.Operations {
		if op.Name == name {
			return op
		}
	}
	t.Fatalf("no operation for %q in %+v", name, tx.Operations)
	return Operation{}
}

func TestPlanInstallOnlyInNew(t *testing.T) {
	tx := Plan(nil, []types.RepoDataRecord{repoRec("a", "1.0", "0", "u/a-1.0-0")}, nil)
	if len(tx.Operations) != 1 || tx.Operations[0].Kind != OpInstall {
		t.Fatalf("got %+v, want a single Install op", tx.Operations)
	}
}

func TestPlanRemoveOnlyInOld(t *testing.T) {
	tx := Plan([]types.PrefixRecord{prefixRec("a", "1.0", "0", "u/a-1.0-0")}, nil, nil)
	if len(tx.Operations) != 1 || tx.Operations[0].Kind != OpRemove {
		t.Fatalf("got %+v, want a single Remove op", tx.Operations)
	}
}

func TestPlanIdentityEqualIsNoOpUnlessExplicit(t *testing.T) {
	old := []types.PrefixRecord{prefixRec("a", "1.0", "0", "u/a-1.0-0")}
	unchanged := []types.RepoDataRecord{repoRec("a", "1.0", "0", "u/a-1.0-0")}

	tx := Plan(old, unchanged, nil)
	if len(tx.Operations) != 0 {
		t.Fatalf("got %+v, want no operations for an identity-equal, non-explicit record", tx.Operations)
	}

	tx = Plan(old, unchanged, map[string]bool{"a": true})
	if len(tx.Operations) != 1 || tx.Operations[0].Kind != OpReinstall {
		t.Fatalf("got %+v, want a single Reinstall op when explicitly requested", tx.Operations)
	}
}

func TestPlanIdentityDifferentIsChange(t *testing.T) {
	old := []types.PrefixRecord{prefixRec("a", "1.0", "0", "u/a-1.0-0")}
	changed := []types.RepoDataRecord{repoRec("a", "2.0", "0", "u/a-2.0-0")}

	tx := Plan(old, changed, nil)
	if len(tx.Operations) != 1 || tx.Operations[0].Kind != OpChange {
		t.Fatalf("got %+v, want a single Change op", tx.Operations)
	}
}

func TestPlanOrdersInstallsAfterTheirDeps(t *testing.T) {
	records := []types.RepoDataRecord{
		repoRec("a", "1.0", "0", "u/a-1.0-0", "b"),
		repoRec("b", "1.0", "0", "u/b-1.0-0"),
	}
	tx := Plan(nil, records, nil)
	if len(tx.Operations) != 2 {
		t.Fatalf("got %d ops, want 2", len(tx.Operations))
	}
	if tx.Operations[0].Name != "b" || tx.Operations[1].Name != "a" {
		t.Fatalf("order = [%s, %s], want [b, a] (dependency before dependent)",
			tx.Operations[0].Name, tx.Operations[1].Name)
	}
}

func TestPlanOrdersRemovesBeforeTheirDependents(t *testing.T) {
	old := []types.PrefixRecord{
		prefixRec("a", "1.0", "0", "u/a-1.0-0", "b"),
		prefixRec("b", "1.0", "0", "u/b-1.0-0"),
	}
	tx := Plan(old, nil, nil)
	if len(tx.Operations) != 2 {
		t.Fatalf("got %d ops, want 2", len(tx.Operations))
	}
	if tx.Operations[0].Name != "b" || tx.Operations[1].Name != "a" {
		t.Fatalf("order = [%s, %s], want [b, a] (b's remove precedes its dependent a's remove)",
			tx.Operations[0].Name, tx.Operations[1].Name)
	}
}

func TestPlanMixedTransactionOrdering(t *testing.T) {
	old := []types.PrefixRecord{
		prefixRec("old-leaf", "1.0", "0", "u/old-leaf-1.0-0"),
	}
	records := []types.RepoDataRecord{
		repoRec("new-root", "1.0", "0", "u/new-root-1.0-0", "new-leaf"),
		repoRec("new-leaf", "1.0", "0", "u/new-leaf-1.0-0"),
	}
	tx := Plan(old, records, nil)
	if len(tx.Operations) != 3 {
		t.Fatalf("got %d ops, want 3:\n%s", len(tx.Operations), spew.Sdump(tx.Operations))
	}
	remove := findOp(t, tx, "old-leaf")
	if remove.Kind != OpRemove {
		t.Fatalf("old-leaf op = %v, want Remove", remove.Kind)
	}
	leafIdx, rootIdx := -1, -1
	for i, op := range tx.Operations {
		switch op.Name {
		case "new-leaf":
			leafIdx = i
		case "new-root":
			rootIdx = i
		}
	}
	if leafIdx < 0 || rootIdx < 0 || leafIdx > rootIdx {
		t.Fatalf("new-leaf must precede new-root, got order %+v", tx.Operations)
	}
}
