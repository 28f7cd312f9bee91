// Package trie implements the clobber engine: a path trie tracking, per
// installed path, which package currently owns it under a priority order,
// and the minimal set of file moves needed when that order or package set
// changes.
//
// The node shape (prefixes/terminals per segment) is built directly from
// spec.md §4.A's conflict algebra; the thin typed-wrapper idiom around it is
// grounded on golang-dep/typed_radix.go, which wraps armon/go-radix the same
// way this package wraps its own node type — a radix tree keyed by
// byte-strings can't carry the prefixes/terminals bookkeeping this
// component needs, so the tree itself is hand-built here.
package trie

import (
	"sort"
	"strings"
)

type node struct {
	children  map[string]*node
	terminals map[string]struct{}
	prefixes  map[string]struct{}
}

func newNode() *node {
	return &node{
		children:  make(map[string]*node),
		terminals: make(map[string]struct{}),
		prefixes:  make(map[string]struct{}),
	}
}

// PathOwner pairs a path with the package that owns (or is to own) it,
// the unit both conflict reports and clobber move-sets are expressed in.
type PathOwner struct {
	Path string
	Pkg  string
}

// Trie tracks path ownership across packages in priority order (index 0 is
// highest priority), per spec.md §4.A.
type Trie struct {
	root     *node
	packages []string
	index    map[string]int
}

// New returns an empty Trie.
func New() *Trie {
	return &Trie{root: newNode(), index: make(map[string]int)}
}

// Packages returns the current priority order, highest priority first.
func (t *Trie) Packages() []string {
	out := make([]string, len(t.packages))
	copy(out, t.packages)
	return out
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "/" + seg
}

// InsertPackage registers pkg (appending it to the priority order the first
// time it's seen) with the given paths, returning the sorted list of paths
// that conflicted with existing registrations. Conflicting paths are still
// registered — insertion never refuses a path, per spec.md §9's Open
// Question decision to preserve the source's conflict+mutate behavior.
func (t *Trie) InsertPackage(pkg string, paths []string) []string {
	if _, ok := t.index[pkg]; !ok {
		t.index[pkg] = len(t.packages)
		t.packages = append(t.packages, pkg)
	}

	var conflicts []string
	for _, p := range paths {
		comps := splitPath(p)
		if len(comps) == 0 {
			continue
		}
		if t.detectConflict(comps) {
			conflicts = append(conflicts, p)
		}
		t.registerPath(pkg, comps)
	}
	sort.Strings(conflicts)
	return conflicts
}

// detectConflict implements the table in spec.md §4.A: a prefix node with a
// terminal blocks descending further (file-vs-dir); the target node having a
// terminal is file-vs-file; the target node having children is
// dir-over-files. All three conditions report the inserted path itself.
func (t *Trie) detectConflict(comps []string) bool {
	n := t.root
	for i, c := range comps {
		child, ok := n.children[c]
		if !ok {
			return false
		}
		if i < len(comps)-1 {
			if len(child.terminals) > 0 {
				return true
			}
		} else {
			if len(child.terminals) > 0 {
				return true
			}
			if len(child.children) > 0 {
				return true
			}
		}
		n = child
	}
	return false
}

// registerPath unconditionally walks/creates nodes for comps, adding pkg to
// every visited node's prefixes and the final node's terminals. When the
// final node already has children (the dir-over-files case), pkg is
// propagated into every descendant's prefixes too.
func (t *Trie) registerPath(pkg string, comps []string) {
	n := t.root
	n.prefixes[pkg] = struct{}{}
	for _, c := range comps {
		child, ok := n.children[c]
		if !ok {
			child = newNode()
			n.children[c] = child
		}
		child.prefixes[pkg] = struct{}{}
		n = child
	}
	n.terminals[pkg] = struct{}{}
	if len(n.children) > 0 {
		propagatePrefix(n, pkg)
	}
}

func propagatePrefix(n *node, pkg string) {
	for _, child := range n.children {
		child.prefixes[pkg] = struct{}{}
		propagatePrefix(child, pkg)
	}
}

func sortedChildNames(n *node) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rankMap assigns each package a rank such that a higher number means
// higher priority — the reverse of its index in order, since index 0 is
// defined as highest priority.
func rankMap(order []string) map[string]int {
	m := make(map[string]int, len(order))
	for i, pkg := range order {
		m[pkg] = len(order) - 1 - i
	}
	return m
}

// newOrderRankMap assigns ranks for the new_order argument to Reprioritize,
// which uses the opposite convention from rankMap: the *last* element is
// highest priority, matching path_trie/src/lib.rs:397's un-reversed
// `rank(new_order.iter())` (as opposed to old_rank's
// `rank(self.packages.iter().rev())`).
func newOrderRankMap(order []string) map[string]int {
	m := make(map[string]int, len(order))
	for i, pkg := range order {
		m[pkg] = i
	}
	return m
}

func argMaxRank(set map[string]struct{}, rank map[string]int, excl string) (string, bool) {
	best := ""
	bestRank := 0
	found := false
	for pkg := range set {
		if pkg == excl {
			continue
		}
		r := rank[pkg]
		if !found || r > bestRank {
			best, bestRank, found = pkg, r, true
		}
	}
	return best, found
}

// terminalWinner implements plain winner selection (spec.md §4.A): among
// the packages with a terminal exactly at n, the one with highest priority.
// This is what Winners() reports — the actual file owner at a path, with no
// regard for packages that merely pass through this node on their way to a
// deeper terminal.
func terminalWinner(n *node, rank map[string]int, excl string) (pkg string, ok bool) {
	return argMaxRank(n.terminals, rank, excl)
}

// Winners returns every (path, winner) pair currently resolved by the trie.
func (t *Trie) Winners() []PathOwner {
	rank := rankMap(t.packages)
	return collectTerminalWinners(t.root, "", rank, "")
}

func collectTerminalWinners(n *node, path string, rank map[string]int, excl string) []PathOwner {
	var out []PathOwner
	if pkg, ok := terminalWinner(n, rank, excl); ok {
		out = append(out, PathOwner{Path: path, Pkg: pkg})
	}
	for _, name := range sortedChildNames(n) {
		out = append(out, collectTerminalWinners(n.children[name], joinPath(path, name), rank, excl)...)
	}
	return out
}

// reprioWinner is the node classification reprioritize and unregister use:
// the highest-ranked package among n's prefixes, and whether that specific
// package also owns a terminal here (meaning its file, not just its
// passing-through presence, is what occupies this exact path). Unlike
// terminalWinner, this can flip between "is a file" and "is not" purely from
// a reordering, which is exactly the transition spec.md §4.A's reprioritize
// algorithm is built to detect.
func reprioWinner(n *node, rank map[string]int, excl string) (pkg string, isFile bool) {
	top, ok := argMaxRank(n.prefixes, rank, excl)
	if !ok {
		return "", false
	}
	_, isTerminal := n.terminals[top]
	return top, isTerminal
}

func collectFileWinners(n *node, path string, rank map[string]int) []PathOwner {
	var out []PathOwner
	if pkg, isFile := reprioWinner(n, rank, ""); isFile {
		out = append(out, PathOwner{Path: path, Pkg: pkg})
	}
	for _, name := range sortedChildNames(n) {
		out = append(out, collectFileWinners(n.children[name], joinPath(path, name), rank)...)
	}
	return out
}

func collectFileWinnersExcluding(n *node, path string, rank map[string]int, excl string) []PathOwner {
	var out []PathOwner
	if pkg, isFile := reprioWinner(n, rank, excl); isFile {
		out = append(out, PathOwner{Path: path, Pkg: pkg})
	}
	for _, name := range sortedChildNames(n) {
		out = append(out, collectFileWinnersExcluding(n.children[name], joinPath(path, name), rank, excl)...)
	}
	return out
}

// ErrNotPermutation is panicked by Reprioritize when new_order isn't a
// permutation of the trie's current packages — per spec.md §7, this is a
// ProgrammerViolation, never expected from a correct caller.
type ErrNotPermutation struct {
	Have []string
	Want []string
}

func (e ErrNotPermutation) Error() string {
	return "trie: reprioritize: new order is not a permutation of the current packages"
}

func samePackageSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, p := range a {
		seen[p]++
	}
	for _, p := range b {
		seen[p]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// Reprioritize replaces the trie's priority order with newOrder, returning
// the minimal (toClobbers, fromClobbers) move-set per spec.md §4.A. Unlike
// Packages' index-0-is-highest convention, newOrder's *last* element is
// highest priority, matching path_trie/src/lib.rs:397's un-reversed
// `rank(new_order.iter())`. Panics with ErrNotPermutation if newOrder isn't
// a permutation of the current package set.
func (t *Trie) Reprioritize(newOrder []string) (toClobbers, fromClobbers []PathOwner) {
	if !samePackageSet(t.packages, newOrder) {
		panic(ErrNotPermutation{Have: t.Packages(), Want: append([]string(nil), newOrder...)})
	}
	oldRank := rankMap(t.packages)
	newRank := newOrderRankMap(newOrder)

	var to, from []PathOwner
	reprioritizeNode(t.root, "", oldRank, newRank, &to, &from)

	t.packages = make([]string, len(newOrder))
	for i, pkg := range newOrder {
		t.packages[len(newOrder)-1-i] = pkg
	}
	t.index = make(map[string]int, len(t.packages))
	for i, pkg := range t.packages {
		t.index[pkg] = i
	}
	return to, from
}

func reprioritizeNode(n *node, path string, oldRank, newRank map[string]int, toC, fromC *[]PathOwner) {
	oldPkg, oldIsFile := reprioWinner(n, oldRank, "")
	newPkg, newIsFile := reprioWinner(n, newRank, "")

	switch {
	case oldIsFile && newIsFile && oldPkg == newPkg:
		return
	case oldIsFile && newIsFile:
		*toC = append(*toC, PathOwner{Path: path, Pkg: oldPkg})
		*fromC = append(*fromC, PathOwner{Path: path, Pkg: newPkg})
	case !oldIsFile && newIsFile:
		*fromC = append(*fromC, PathOwner{Path: path, Pkg: newPkg})
		*toC = append(*toC, collectFileWinners(n, path, oldRank)...)
	case oldIsFile && !newIsFile:
		*toC = append(*toC, PathOwner{Path: path, Pkg: oldPkg})
		*fromC = append(*fromC, collectFileWinners(n, path, newRank)...)
	default:
		for _, name := range sortedChildNames(n) {
			reprioritizeNode(n.children[name], joinPath(path, name), oldRank, newRank, toC, fromC)
		}
	}
}

// UnregisterPackage removes pkg from the trie entirely, returning the
// fromClobbers moves needed to expose whatever lower-priority files it was
// shadowing (toClobbers is always empty: pkg's own files are simply gone,
// never parked). Prunes now-empty subtrees bottom-up.
func (t *Trie) UnregisterPackage(pkg string) (toClobbers, fromClobbers []PathOwner) {
	rank := rankMap(t.packages)
	var from []PathOwner
	unregisterWalk(t.root, "", pkg, rank, &from)

	pruneWalk(t.root, pkg)

	if i, ok := t.index[pkg]; ok {
		t.packages = append(t.packages[:i], t.packages[i+1:]...)
		delete(t.index, pkg)
		for name, idx := range t.index {
			if idx > i {
				t.index[name] = idx - 1
			}
		}
	}
	return nil, from
}

func unregisterWalk(n *node, path string, pkg string, rank map[string]int, from *[]PathOwner) {
	if _, present := n.prefixes[pkg]; !present {
		return
	}
	oldPkg, oldIsFile := reprioWinner(n, rank, "")
	if oldIsFile && oldPkg == pkg {
		newPkg, newIsFile := reprioWinner(n, rank, pkg)
		if newIsFile {
			*from = append(*from, PathOwner{Path: path, Pkg: newPkg})
			return
		}
		*from = append(*from, collectFileWinnersExcluding(n, path, rank, pkg)...)
		return
	}
	for _, name := range sortedChildNames(n) {
		unregisterWalk(n.children[name], joinPath(path, name), pkg, rank, from)
	}
}

// pruneWalk removes pkg from every node's terminals/prefixes and deletes
// now-empty child subtrees bottom-up, preserving invariant (I3).
func pruneWalk(n *node, pkg string) {
	for name, child := range n.children {
		pruneWalk(child, pkg)
		if len(child.children) == 0 && len(child.terminals) == 0 && len(child.prefixes) == 0 {
			delete(n.children, name)
		}
	}
	delete(n.terminals, pkg)
	delete(n.prefixes, pkg)
}
