// Package installer computes and drives the Transaction: the diff between a
// prefix's current PrefixRecords and a solved set of RepoDataRecords, turned
// into a dependency-ordered sequence of Remove/Install/Reinstall/Change
// operations.
//
// The diff itself is grounded on golang-dep/gps/verify/lockdiff.go's
// DiffLocks: a merge over two name-sorted slices classifying each name as
// add/remove/modify, generalized here from gps.LockedProject identity
// (source+version+revision) to conda record identity
// (name, version, build, content hash). The operation ordering and Reporter
// shape are grounded on original_source/crates/rattler/src/install/
// installer/indicatif.rs's on_transaction_start/on_populate_cache_start/
// on_validate_*/on_download_*/on_unlink_*/on_link_*/on_transaction_complete
// callback sequence, which is the only surviving piece of the original
// installer module in this pack; this repo keeps its names and call order
// but drops the progress-bar rendering, which is the CLI's job.
package installer

import (
	"fmt"
	"sort"

	"github.com/orbit-pm/orbit/pkg/types"
)

// OpKind identifies one of spec.md §4.F's four transaction operation kinds.
type OpKind int8

const (
	OpInstall OpKind = iota
	OpRemove
	OpReinstall
	OpChange
)

func (k OpKind) String() string {
	switch k {
	case OpInstall:
		return "install"
	case OpRemove:
		return "remove"
	case OpReinstall:
		return "reinstall"
	case OpChange:
		return "change"
	default:
		return "unknown"
	}
}

// Operation is one step of a Transaction. Old is populated for
// Remove/Reinstall/Change; New is populated for Install/Reinstall/Change.
type Operation struct {
	Kind OpKind
	Name string
	Old  *types.PrefixRecord
	New  *types.RepoDataRecord
}

// Transaction is the dependency-ordered plan produced by Plan.
type Transaction struct {
	Operations []Operation
}

// recordIdentity implements spec.md §4.F's identity tuple: (name, version,
// build, sha256|md5|size), preferring sha256 over md5 over size, whichever
// the record carries first.
func recordIdentity(name string, version string, build string, sha256, md5 string, size int64) string {
	switch {
	case sha256 != "":
		return fmt.Sprintf("%s|%s|%s|sha256:%s", name, version, build, sha256)
	case md5 != "":
		return fmt.Sprintf("%s|%s|%s|md5:%s", name, version, build, md5)
	default:
		return fmt.Sprintf("%s|%s|%s|size:%d", name, version, build, size)
	}
}

func prefixIdentity(r types.PrefixRecord) string {
	return recordIdentity(r.Name.String(), r.Version.String(), r.BuildString, r.Sha256, r.MD5, r.Size)
}

func repoDataIdentity(r types.RepoDataRecord) string {
	return recordIdentity(r.Name.String(), r.Version.String(), r.BuildString, r.Sha256, r.MD5, r.Size)
}

// Plan computes the Transaction turning old into new. explicit carries the
// names the caller asked for by name directly (as opposed to pulled in as a
// dependency); an identity-equal record for a name in explicit is planned as
// a Reinstall rather than being treated as a no-op, per spec.md §4.F.
func Plan(old []types.PrefixRecord, new []types.RepoDataRecord, explicit map[string]bool) Transaction {
	oldByName := make(map[string]types.PrefixRecord, len(old))
	for _, r := range old {
		oldByName[r.Name.String()] = r
	}
	newByName := make(map[string]types.RepoDataRecord, len(new))
	for _, r := range new {
		newByName[r.Name.String()] = r
	}

	names := make([]string, 0, len(oldByName)+len(newByName))
	seen := make(map[string]bool, len(oldByName)+len(newByName))
	for name := range oldByName {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range newByName {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var ops []Operation
	for _, name := range names {
		o, hasOld := oldByName[name]
		n, hasNew := newByName[name]

		switch {
		case hasOld && !hasNew:
			old := o
			ops = append(ops, Operation{Kind: OpRemove, Name: name, Old: &old})
		case !hasOld && hasNew:
			rec := n
			ops = append(ops, Operation{Kind: OpInstall, Name: name, New: &rec})
		case prefixIdentity(o) == repoDataIdentity(n):
			if explicit[name] {
				old, rec := o, n
				ops = append(ops, Operation{Kind: OpReinstall, Name: name, Old: &old, New: &rec})
			}
			// identity-equal and not explicitly requested: no-op, omitted.
		default:
			old, rec := o, n
			ops = append(ops, Operation{Kind: OpChange, Name: name, Old: &old, New: &rec})
		}
	}

	return Transaction{Operations: orderOperations(ops, oldByName, newByName)}
}

// orderOperations sorts ops so that installs/reinstalls/changes follow their
// new-side Depends and removes/changes precede their old-side dependents,
// per spec.md §4.F. Both directions reduce to the same rule — a
// dependency's operation must precede its dependent's — applied over
// whichever graph (old or new) the operation's kind draws from; a Change
// op participates in both graphs since it touches both records.
func orderOperations(ops []Operation, oldByName map[string]types.PrefixRecord, newByName map[string]types.RepoDataRecord) []Operation {
	byName := make(map[string]Operation, len(ops))
	for _, op := range ops {
		byName[op.Name] = op
	}

	deps := make(map[string][]string, len(ops))
	for _, op := range ops {
		var names []string
		switch op.Kind {
		case OpInstall, OpReinstall:
			names = dependencyNames(op.New.Depends)
		case OpRemove:
			names = dependencyNames(op.Old.Depends)
		case OpChange:
			names = append(dependencyNames(op.Old.Depends), dependencyNames(op.New.Depends)...)
		}
		var filtered []string
		for _, d := range names {
			if _, ok := byName[d]; ok {
				filtered = append(filtered, d)
			}
		}
		deps[op.Name] = filtered
	}

	order := make([]string, 0, len(ops))
	state := make(map[string]int, len(ops)) // 0=unvisited 1=in-progress 2=done
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Name)
	}
	sort.Strings(names)

	var visit func(name string)
	visit = func(name string) {
		switch state[name] {
		case 2:
			return
		case 1:
			return // cycle: leave it to be placed wherever the walk reaches it
		}
		state[name] = 1
		ds := append([]string(nil), deps[name]...)
		sort.Strings(ds)
		for _, d := range ds {
			visit(d)
		}
		state[name] = 2
		order = append(order, name)
	}
	for _, name := range names {
		visit(name)
	}

	out := make([]Operation, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

func dependencyNames(depends []string) []string {
	out := make([]string, 0, len(depends))
	for _, d := range depends {
		ms, err := types.ParseMatchSpec(d)
		if err != nil {
			continue
		}
		out = append(out, ms.Name.String())
	}
	return out
}
