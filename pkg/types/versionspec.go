package types

import (
	"strings"

	"github.com/pkg/errors"
)

// VersionSpec is a parsed conda version constraint: a boolean combination of
// leaf operators over Range, grounded on the original_source's VersionSpec
// grammar and reworked atop the Range algebra in range.go rather than the
// AST the Rust source keeps around (this repo only ever needs the resolved
// set, never to re-render the expression).
type VersionSpec struct {
	raw   string
	ranges Range
}

// ParseVersionSpec parses a conda version spec string. Grammar, loosest to
// tightest: "|" (union) separates OR-groups, "," (intersection) separates
// AND-terms within a group, and each term is one of:
//
//	*            any version
//	==1.2.3      exact
//	!=1.2.3      exclude
//	>=1.2.3  >1.2.3  <1.2.3  <=1.2.3
//	=1.2.*       prefix match (glob)
//	~=1.2.3      compatible release
//	1.2.3        bare version, same as ==1.2.3
func ParseVersionSpec(raw string) (VersionSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "*" {
		return VersionSpec{raw: s, ranges: AnyRange()}, nil
	}

	var union Range
	first := true
	for _, group := range strings.Split(s, "|") {
		group = strings.TrimSpace(group)
		if group == "" {
			return VersionSpec{}, errors.Errorf("empty OR-group in version spec %q", raw)
		}
		inter := AnyRange()
		interFirst := true
		for _, term := range strings.Split(group, ",") {
			term = strings.TrimSpace(term)
			if term == "" {
				return VersionSpec{}, errors.Errorf("empty term in version spec %q", raw)
			}
			r, err := parseVersionTerm(term)
			if err != nil {
				return VersionSpec{}, errors.Wrapf(err, "version spec %q", raw)
			}
			if interFirst {
				inter = r
				interFirst = false
			} else {
				inter = inter.Intersection(r)
			}
		}
		if first {
			union = inter
			first = false
		} else {
			union = union.Union(inter)
		}
	}
	return VersionSpec{raw: s, ranges: union}, nil
}

// MustParseVersionSpec is ParseVersionSpec, panicking on error.
func MustParseVersionSpec(raw string) VersionSpec {
	vs, err := ParseVersionSpec(raw)
	if err != nil {
		panic(err)
	}
	return vs
}

func parseVersionTerm(term string) (Range, error) {
	switch {
	case term == "*":
		return AnyRange(), nil
	case strings.HasPrefix(term, "~="):
		v, err := ParseVersion(strings.TrimSpace(term[2:]))
		if err != nil {
			return Range{}, err
		}
		return compatibleRange(v), nil
	case strings.HasPrefix(term, "=="):
		v, err := ParseVersion(strings.TrimSpace(term[2:]))
		if err != nil {
			return Range{}, err
		}
		return EqualRange(v), nil
	case strings.HasPrefix(term, "!="):
		rest := strings.TrimSpace(term[2:])
		if strings.HasSuffix(rest, ".*") {
			v, err := ParseVersion(strings.TrimSuffix(rest, ".*"))
			if err != nil {
				return Range{}, err
			}
			return prefixRange(v).Negate(), nil
		}
		v, err := ParseVersion(rest)
		if err != nil {
			return Range{}, err
		}
		return NotEqualRange(v), nil
	case strings.HasPrefix(term, ">="):
		v, err := ParseVersion(strings.TrimSpace(term[2:]))
		if err != nil {
			return Range{}, err
		}
		return GreaterEqualRange(v), nil
	case strings.HasPrefix(term, "<="):
		v, err := ParseVersion(strings.TrimSpace(term[2:]))
		if err != nil {
			return Range{}, err
		}
		return LessEqualRange(v), nil
	case strings.HasPrefix(term, ">"):
		v, err := ParseVersion(strings.TrimSpace(term[1:]))
		if err != nil {
			return Range{}, err
		}
		return GreaterRange(v), nil
	case strings.HasPrefix(term, "<"):
		v, err := ParseVersion(strings.TrimSpace(term[1:]))
		if err != nil {
			return Range{}, err
		}
		return LessRange(v), nil
	case strings.HasPrefix(term, "="):
		rest := strings.TrimSpace(term[1:])
		if strings.HasSuffix(rest, ".*") {
			v, err := ParseVersion(strings.TrimSuffix(rest, ".*"))
			if err != nil {
				return Range{}, err
			}
			return prefixRange(v), nil
		}
		v, err := ParseVersion(rest)
		if err != nil {
			return Range{}, err
		}
		return EqualRange(v), nil
	default:
		if strings.HasSuffix(term, ".*") {
			v, err := ParseVersion(strings.TrimSuffix(term, ".*"))
			if err != nil {
				return Range{}, err
			}
			return prefixRange(v), nil
		}
		v, err := ParseVersion(term)
		if err != nil {
			return Range{}, err
		}
		return EqualRange(v), nil
	}
}

// prefixRange builds the half-open interval [v, bump(v)) matching every
// version whose release segments start with v's (the "=X.Y.*" glob).
func prefixRange(v Version) Range {
	return BetweenRange(v, bumpLastSegment(v))
}

// compatibleRange builds conda's "~=" range: v <= x < bump(drop-last(v)).
// ~=1.4.5 means >=1.4.5, <1.5; ~=1.4 means >=1.4, <2.
func compatibleRange(v Version) Range {
	if len(v.rel) == 0 {
		return GreaterEqualRange(v)
	}
	prefix := Version{orig: v.orig, epoch: v.epoch, rel: v.rel[:len(v.rel)-1]}
	if len(prefix.rel) == 0 {
		return GreaterEqualRange(v)
	}
	return BetweenRange(v, bumpLastSegment(prefix))
}

// bumpLastSegment returns the smallest version greater than every version
// sharing v's segments except possibly the last, by incrementing the last
// numeric segment (or appending .1 after a trailing tag) and dropping
// anything after it.
func bumpLastSegment(v Version) Version {
	if len(v.rel) == 0 {
		return v
	}
	segs := make([]segment, len(v.rel))
	copy(segs, v.rel)
	last := segs[len(segs)-1]
	if last.isNum {
		segs[len(segs)-1] = segment{isNum: true, num: incrementNumeric(last.num)}
	} else {
		segs = append(segs, segment{isNum: true, num: "1"})
	}
	return Version{orig: v.orig + ".bump", epoch: v.epoch, rel: segs}
}

func incrementNumeric(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return normalizeNumeric(string(b))
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

// Contains reports whether v satisfies the spec.
func (vs VersionSpec) Contains(v Version) bool { return vs.ranges.Contains(v) }

// String returns the original spec text.
func (vs VersionSpec) String() string { return vs.raw }

// IsZero reports whether vs was never parsed.
func (vs VersionSpec) IsZero() bool { return vs.raw == "" && vs.ranges.IsNone() }

// Range exposes the underlying interval set, for callers (e.g. the solver)
// that need to intersect specs directly instead of re-parsing strings.
func (vs VersionSpec) Range() Range { return vs.ranges }
