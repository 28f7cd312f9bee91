package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is a parsed, totally ordered conda version. It retains the
// original source string (Version.String()) alongside the parsed segments
// used for comparison, so round-tripping to the wire format never lossily
// reformats a version a channel published.
//
// The grammar is conda's: an optional "<epoch>!" prefix (default epoch 0), a
// dot/underscore/hyphen-delimited run of alternating numeric and
// alphabetic segments, and an optional "+<local>" suffix compared the same
// way as the main version after it.
type Version struct {
	orig  string
	epoch int64
	rel   []segment
	local []segment
}

// segment is one atom of a version string: either a numeric run (cmpNum
// used, text ignored beyond being the source form) or a textual tag, whose
// relative order is governed by tagRank.
type segment struct {
	isNum bool
	num   string // normalized (no leading zeros, empty means zero) numeric text
	tag   string // lowercased textual tag, only meaningful when !isNum
}

// tagRank orders the well-known conda pre/post-release tags. Segments with
// an unrecognized tag sort after all known tags but before a numeric
// segment at the same position, alphabetically among themselves.
func tagRank(tag string) (rank int, known bool) {
	switch tag {
	case "dev":
		return -4, true
	case "a", "alpha":
		return -3, true
	case "b", "beta":
		return -2, true
	case "c", "rc", "pre":
		return -1, true
	case "", "_":
		// The implicit "release" position - numeric segments at this slot
		// compare as plain numbers; an explicit empty tag sorts as release.
		return 0, true
	case "post", "rev", "r":
		return 1, true
	default:
		return 2, false
	}
}

// ParseVersion parses raw per the conda version grammar described above. An
// empty string is invalid.
func ParseVersion(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Version{}, errors.New("empty version string")
	}

	v := Version{orig: s}

	rest := s
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		epochStr := rest[:i]
		n, err := strconv.ParseInt(epochStr, 10, 64)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid epoch in version %q", raw)
		}
		v.epoch = n
		rest = rest[i+1:]
	}

	main := rest
	var local string
	hasLocal := false
	if i := strings.IndexByte(rest, '+'); i >= 0 {
		main = rest[:i]
		local = rest[i+1:]
		hasLocal = true
	}

	var err error
	v.rel, err = tokenizeVersionPart(main)
	if err != nil {
		return Version{}, errors.Wrapf(err, "invalid version %q", raw)
	}
	if hasLocal {
		v.local, err = tokenizeVersionPart(local)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid local version in %q", raw)
		}
	}

	return v, nil
}

// MustParseVersion is ParseVersion, panicking on error. Intended for tests
// and literal virtual-package version construction.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func tokenizeVersionPart(s string) ([]segment, error) {
	if s == "" {
		return nil, nil
	}
	// Hyphens, dots and underscores are all equivalent segment separators.
	s = strings.NewReplacer("-", ".", "_", ".").Replace(s)

	var segs []segment
	i := 0
	for i < len(s) {
		if s[i] == '.' {
			i++
			continue
		}
		start := i
		isDigit := isDigitByte(s[i])
		for i < len(s) && s[i] != '.' && isDigitByte(s[i]) == isDigit {
			i++
		}
		chunk := s[start:i]
		if isDigit {
			segs = append(segs, segment{isNum: true, num: normalizeNumeric(chunk)})
		} else {
			segs = append(segs, segment{isNum: false, tag: strings.ToLower(chunk)})
		}
	}
	return segs, nil
}

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }

func normalizeNumeric(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

// String returns the original source form of the version.
func (v Version) String() string { return v.orig }

// IsZero reports whether v is the unparsed zero value.
func (v Version) IsZero() bool { return v.orig == "" }

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	if v.epoch != o.epoch {
		if v.epoch < o.epoch {
			return -1
		}
		return 1
	}
	if c := compareSegmentLists(v.rel, o.rel); c != 0 {
		return c
	}
	return compareSegmentLists(v.local, o.local)
}

// Equal, Less, LessEq, Greater, GreaterEq are comparison convenience
// wrappers around Compare.
func (v Version) Equal(o Version) bool    { return v.Compare(o) == 0 }
func (v Version) Less(o Version) bool     { return v.Compare(o) < 0 }
func (v Version) LessEq(o Version) bool   { return v.Compare(o) <= 0 }
func (v Version) Greater(o Version) bool  { return v.Compare(o) > 0 }
func (v Version) GreaterEq(o Version) bool { return v.Compare(o) >= 0 }

// StartsWith reports whether v's release segments begin with o's (conda's
// "=X.*" glob operator), ignoring o's local/epoch unless explicitly set.
func (v Version) StartsWith(o Version) bool {
	if v.epoch != o.epoch {
		return false
	}
	if len(o.rel) > len(v.rel) {
		return false
	}
	for i, s := range o.rel {
		if compareSegment(v.rel[i], s) != 0 {
			return false
		}
	}
	return true
}

// CompatibleWith implements conda's "~=" compatible-release operator: v is
// compatible with o if v >= o and v shares o's segments up to (but not
// including) the last one.
func (v Version) CompatibleWith(o Version) bool {
	if !v.GreaterEq(o) {
		return false
	}
	if len(o.rel) == 0 {
		return true
	}
	prefix := o.rel[:len(o.rel)-1]
	if len(prefix) > len(v.rel) {
		return false
	}
	for i, s := range prefix {
		if compareSegment(v.rel[i], s) != 0 {
			return false
		}
	}
	return true
}

func compareSegmentLists(a, b []segment) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var sa, sb segment
		if i < len(a) {
			sa = a[i]
		} else {
			sa = segment{isNum: false, tag: ""}
		}
		if i < len(b) {
			sb = b[i]
		} else {
			sb = segment{isNum: false, tag: ""}
		}
		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(a, b segment) int {
	if a.isNum && b.isNum {
		return compareNumericStrings(a.num, b.num)
	}
	if a.isNum != b.isNum {
		// A numeric segment at a slot where the other side has a tag: the
		// release-position (rank 0) tag sorts as if it were the number it
		// stands in for; any other tag always differs from a number by its
		// rank relative to 0.
		var numSide segment
		var tagSide segment
		var numIsA bool
		if a.isNum {
			numSide, tagSide, numIsA = a, b, true
		} else {
			numSide, tagSide, numIsA = b, a, false
		}
		rank, _ := tagRank(tagSide.tag)
		var c int
		switch {
		case rank < 0:
			c = 1 // numeric side is greater than a pre-release tag
		case rank > 0:
			c = -1 // numeric side is less than a post-release tag
		default:
			// release-position tag vs a number: compare the number to zero
			c = compareNumericStrings(numSide.num, "0")
		}
		if !numIsA {
			c = -c
		}
		return c
	}
	// both tags
	ra, knownA := tagRank(a.tag)
	rb, knownB := tagRank(b.tag)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if !knownA || !knownB {
		return strings.Compare(a.tag, b.tag)
	}
	return 0
}

func compareNumericStrings(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// GoString supports %#v and debug dumps (go-spew relies on reflection, this
// just makes fmt.Printf("%#v") readable too).
func (v Version) GoString() string {
	return fmt.Sprintf("types.MustParseVersion(%q)", v.orig)
}
