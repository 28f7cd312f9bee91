package types

// Range is an ordered set of non-overlapping, non-touching half-open
// intervals over Version, per spec.md §3. Grounded on
// original_source/crates/rattler/src/range.rs: the same None/Any/Equal/
// NotEqual/GreaterEqual/.../Negate/Intersection/Union vocabulary, reworked
// as a two-pointer endpoint-comparison algorithm instead of the Rust
// source's explicit case analysis (equivalent result, clearer Go).
type Range struct {
	segments []interval
}

type boundKind int8

const (
	boundUnbounded boundKind = iota
	boundIncluded
	boundExcluded
)

// Bound is one edge of an interval.
type Bound struct {
	Kind  boundKind
	Value Version
}

// Unbounded, Included and Excluded build the three kinds of Bound.
func Unbounded() Bound                { return Bound{Kind: boundUnbounded} }
func Included(v Version) Bound        { return Bound{Kind: boundIncluded, Value: v} }
func Excluded(v Version) Bound        { return Bound{Kind: boundExcluded, Value: v} }

type interval struct {
	lo, hi Bound
}

// endpoint is a totally-ordered representation of an interval edge: a
// version plus an epsilon nudge, so that Included/Excluded bounds for both
// the low and high side of an interval can be compared uniformly without
// branching on which side of the interval they're on.
type endpoint struct {
	neg, pos bool
	v        Version
	eps      int8
}

func negInf() endpoint { return endpoint{neg: true} }
func posInf() endpoint { return endpoint{pos: true} }

func lowEndpoint(b Bound) endpoint {
	switch b.Kind {
	case boundUnbounded:
		return negInf()
	case boundIncluded:
		return endpoint{v: b.Value, eps: 0}
	default: // Excluded
		return endpoint{v: b.Value, eps: 1}
	}
}

func highEndpoint(b Bound) endpoint {
	switch b.Kind {
	case boundUnbounded:
		return posInf()
	case boundIncluded:
		return endpoint{v: b.Value, eps: 0}
	default: // Excluded
		return endpoint{v: b.Value, eps: -1}
	}
}

func lowFromEndpoint(e endpoint) Bound {
	if e.neg {
		return Unbounded()
	}
	if e.eps > 0 {
		return Excluded(e.v)
	}
	return Included(e.v)
}

func highFromEndpoint(e endpoint) Bound {
	if e.pos {
		return Unbounded()
	}
	if e.eps < 0 {
		return Excluded(e.v)
	}
	return Included(e.v)
}

// cmp orders endpoints: -inf < (v, eps) < +inf, and among finite endpoints
// first by version then by eps.
func cmpEndpoint(a, b endpoint) int {
	if a.neg && b.neg {
		return 0
	}
	if a.neg {
		return -1
	}
	if b.neg {
		return 1
	}
	if a.pos && b.pos {
		return 0
	}
	if a.pos {
		return 1
	}
	if b.pos {
		return -1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.eps < b.eps:
		return -1
	case a.eps > b.eps:
		return 1
	default:
		return 0
	}
}

// NoneRange is the empty set of versions.
func NoneRange() Range { return Range{} }

// AnyRange is the set of all versions.
func AnyRange() Range {
	return Range{segments: []interval{{lo: Unbounded(), hi: Unbounded()}}}
}

// EqualRange is the singleton set {v}.
func EqualRange(v Version) Range {
	return Range{segments: []interval{{lo: Included(v), hi: Included(v)}}}
}

// NotEqualRange is every version except v.
func NotEqualRange(v Version) Range {
	return Range{segments: []interval{
		{lo: Unbounded(), hi: Excluded(v)},
		{lo: Excluded(v), hi: Unbounded()},
	}}
}

// GreaterEqualRange, GreaterRange, LessRange, LessEqualRange and
// BetweenRange build the remaining primitive ranges.
func GreaterEqualRange(v Version) Range {
	return Range{segments: []interval{{lo: Included(v), hi: Unbounded()}}}
}
func GreaterRange(v Version) Range {
	return Range{segments: []interval{{lo: Excluded(v), hi: Unbounded()}}}
}
func LessRange(v Version) Range {
	return Range{segments: []interval{{lo: Unbounded(), hi: Excluded(v)}}}
}
func LessEqualRange(v Version) Range {
	return Range{segments: []interval{{lo: Unbounded(), hi: Included(v)}}}
}
func BetweenRange(lo, hi Version) Range {
	return Range{segments: []interval{{lo: Included(lo), hi: Excluded(hi)}}}
}

// IsNone reports whether r contains no versions at all.
func (r Range) IsNone() bool { return len(r.segments) == 0 }

// Contains reports whether v lies in one of r's segments.
func (r Range) Contains(v Version) bool {
	p := endpoint{v: v, eps: 0}
	for _, seg := range r.segments {
		if cmpEndpoint(lowEndpoint(seg.lo), p) <= 0 && cmpEndpoint(p, highEndpoint(seg.hi)) <= 0 {
			return true
		}
	}
	return false
}

// Negate returns the complement of r.
func (r Range) Negate() Range {
	if len(r.segments) == 0 {
		return AnyRange()
	}
	var out []interval
	cur := negInf()
	for _, seg := range r.segments {
		lo := lowEndpoint(seg.lo)
		out = append(out, interval{lo: lowFromEndpoint(cur), hi: flipToHigh(lo)})
		cur = flipToLow(highEndpoint(seg.hi))
	}
	if !cur.pos {
		out = append(out, interval{lo: lowFromEndpoint(cur), hi: Unbounded()})
	}
	return Range{segments: trimNone(out)}
}

// flipToHigh converts a low-endpoint representation into the Bound to use
// as the preceding complement segment's high edge (the point just before
// the original low edge).
func flipToHigh(lo endpoint) Bound {
	if lo.neg {
		// shouldn't occur: a real segment never starts at -inf mid-list
		return Unbounded()
	}
	if lo.eps == 0 {
		return Excluded(lo.v)
	}
	return Included(lo.v)
}

// flipToLow converts a high-endpoint representation into the low edge of
// the following complement segment.
func flipToLow(hi endpoint) endpoint {
	if hi.pos {
		return posInf()
	}
	if hi.eps == 0 {
		return endpoint{v: hi.v, eps: 1}
	}
	return endpoint{v: hi.v, eps: 0}
}

func trimNone(ivs []interval) []interval {
	var out []interval
	for _, iv := range ivs {
		if cmpEndpoint(lowEndpoint(iv.lo), highEndpoint(iv.hi)) <= 0 {
			out = append(out, iv)
		}
	}
	return out
}

// Intersection computes r ∩ o via a two-pointer walk over both sorted
// segment lists.
func (r Range) Intersection(o Range) Range {
	var out []interval
	i, j := 0, 0
	for i < len(r.segments) && j < len(o.segments) {
		a, b := r.segments[i], o.segments[j]
		lo := maxEndpoint(lowEndpoint(a.lo), lowEndpoint(b.lo))
		hi := minEndpoint(highEndpoint(a.hi), highEndpoint(b.hi))
		if cmpEndpoint(lo, hi) <= 0 {
			out = append(out, interval{lo: lowFromEndpoint(lo), hi: highFromEndpoint(hi)})
		}
		if cmpEndpoint(highEndpoint(a.hi), highEndpoint(b.hi)) <= 0 {
			i++
		} else {
			j++
		}
	}
	return Range{segments: out}
}

// Union computes r ∪ o as ¬(¬r ∩ ¬o), per spec.md §3's invariant (c).
func (r Range) Union(o Range) Range {
	return r.Negate().Intersection(o.Negate()).Negate()
}

func maxEndpoint(a, b endpoint) endpoint {
	if cmpEndpoint(a, b) >= 0 {
		return a
	}
	return b
}

func minEndpoint(a, b endpoint) endpoint {
	if cmpEndpoint(a, b) <= 0 {
		return a
	}
	return b
}
