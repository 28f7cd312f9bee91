package solver

import (
	"fmt"
	"strings"

	"github.com/orbit-pm/orbit/pkg/types"
)

// ProblemNode is one vertex in a ProblemGraph: either a candidate solvable
// or the UnresolvedDependency sink.
type ProblemNode struct {
	Name       string
	Unresolved bool
}

// ProblemEdge is one edge in a ProblemGraph, labeled with the clause kind
// that produced it, per spec.md §4.E's Requires(version_set) /
// Conflict(Locked|Constrains|ForbidMultiple) edge kinds.
type ProblemEdge struct {
	From, To string
	Kind     string // "requires", "conflict:locked", "conflict:constrains", "conflict:forbid_multiple"
	Detail   string
}

// ProblemGraph explains an UNSAT result: the chain of requirements that led
// to a dependency nobody could satisfy, or to two requirements that
// conflicted outright. Built directly off the failing search branch rather
// than a full watched-literal conflict analysis — see DESIGN.md's solver
// entry for why a reduced (single-path) graph was chosen over a literal
// reconstruction of every conflicting clause.
type ProblemGraph struct {
	Nodes []ProblemNode
	Edges []ProblemEdge
}

func (g *ProblemGraph) addNode(name string, unresolved bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return
		}
	}
	g.Nodes = append(g.Nodes, ProblemNode{Name: name, Unresolved: unresolved})
}

func (g *ProblemGraph) addEdge(from, to, kind, detail string) {
	g.Edges = append(g.Edges, ProblemEdge{From: from, To: to, Kind: kind, Detail: detail})
}

// Render produces the human-readable tree spec.md §4.E asks for.
func (g *ProblemGraph) Render() string {
	var b strings.Builder
	b.WriteString("could not find a set of packages that satisfies the request:\n")
	for _, e := range g.Edges {
		from := e.From
		if from == "" {
			from = "(root)"
		}
		switch e.Kind {
		case "requires":
			fmt.Fprintf(&b, "  %s requires %s\n", from, e.Detail)
		default:
			fmt.Fprintf(&b, "  %s conflicts with %s: %s\n", from, e.To, e.Detail)
		}
	}
	for _, n := range g.Nodes {
		if n.Unresolved {
			fmt.Fprintf(&b, "  %s: no candidates remain\n", n.Name)
		}
	}
	return b.String()
}

// searchFailure is the internal error type selectSpec returns on failure;
// it carries enough of the failing branch to render a ProblemGraph once it
// reaches the top of the search.
type searchFailure struct {
	fromName string
	spec     types.MatchSpec
	kind     string // "requires" | "conflict:locked" | "conflict:constrains" | "conflict:forbid_multiple"
	detail   string
	cause    *searchFailure
}

func (f *searchFailure) Error() string {
	return fmt.Sprintf("%s requires %s: %s", orRoot(f.fromName), f.spec.String(), f.detail)
}

func orRoot(name string) string {
	if name == "" {
		return "root"
	}
	return name
}

// UnsatError is returned by Solve when no consistent selection exists.
type UnsatError struct {
	Graph ProblemGraph
}

func (e *UnsatError) Error() string { return e.Graph.Render() }

// buildUnsatError renders a *searchFailure chain into a ProblemGraph.
func buildUnsatError(err error) error {
	sf, ok := err.(*searchFailure)
	if !ok {
		return err
	}
	var g ProblemGraph
	for f := sf; f != nil; f = f.cause {
		from := orRoot(f.fromName)
		g.addNode(from, false)
		to := f.spec.Name.String()
		g.addNode(to, f.cause == nil)
		g.addEdge(from, to, f.kind, f.detail)
	}
	return &UnsatError{Graph: g}
}
