package types

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StringMatcher is a build-string matcher: an exact literal,
// a "*"-glob, or a "^...$"-delimited regex, mirroring conda's matchspec
// build-string grammar.
type StringMatcher struct {
	kind    stringMatcherKind
	literal string
	re      *regexp.Regexp
}

type stringMatcherKind int8

const (
	matchAny stringMatcherKind = iota
	matchLiteral
	matchGlob
	matchRegex
)

// ParseStringMatcher parses a build-string matcher term.
func ParseStringMatcher(raw string) (StringMatcher, error) {
	if raw == "" || raw == "*" {
		return StringMatcher{kind: matchAny}, nil
	}
	if strings.HasPrefix(raw, "^") && strings.HasSuffix(raw, "$") {
		re, err := regexp.Compile(raw)
		if err != nil {
			return StringMatcher{}, errors.Wrapf(err, "invalid build regex %q", raw)
		}
		return StringMatcher{kind: matchRegex, re: re}, nil
	}
	if strings.ContainsAny(raw, "*?") {
		re, err := regexp.Compile("^" + globToRegex(raw) + "$")
		if err != nil {
			return StringMatcher{}, errors.Wrapf(err, "invalid build glob %q", raw)
		}
		return StringMatcher{kind: matchGlob, re: re}, nil
	}
	return StringMatcher{kind: matchLiteral, literal: raw}, nil
}

func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Matches reports whether s satisfies the matcher.
func (m StringMatcher) Matches(s string) bool {
	switch m.kind {
	case matchAny:
		return true
	case matchLiteral:
		return m.literal == s
	case matchGlob, matchRegex:
		return m.re.MatchString(s)
	default:
		return false
	}
}

// String returns the matcher text: the literal or regex as written, the
// anchored regex a glob was compiled to, or "*" for the match-anything form.
func (m StringMatcher) String() string {
	switch m.kind {
	case matchLiteral:
		return m.literal
	case matchGlob, matchRegex:
		return m.re.String()
	default:
		return "*"
	}
}

// NamelessMatchSpec is a MatchSpec stripped of its package name: every
// predicate a dependency or "constrains" line can carry other than which
// package it applies to. Used for Requires/Constrains clauses, where the
// name is already implied by the map key.
type NamelessMatchSpec struct {
	Channel     string
	Subdir      string
	Namespace   string
	Version     VersionSpec
	Build       StringMatcher
	BuildNumber *int64
	Sha256      string
	MD5         string
	Filename    string
}

// MatchSpec is a full conda match specification: a package name plus every
// NamelessMatchSpec predicate.
type MatchSpec struct {
	Name PackageName
	NamelessMatchSpec
}

// matchSpecBracketRe recognizes "key=value" / "key==value" bracket attributes,
// e.g. "numpy[version='>=1.20',build_number=3]".
var matchSpecBracketRe = regexp.MustCompile(`^([A-Za-z0-9_\-.]+)\s*(==|=|)\s*(.*)$`)

// ParseMatchSpec parses conda's matchspec grammar:
//
//	[channel[/subdir]::]name[version][build][ [key=value,...] ]
//
// This is a pragmatic subset covering the forms spec.md's worked examples
// use; it does not attempt the full PEP 440-adjacent edge cases of conda's
// reference parser.
func ParseMatchSpec(raw string) (MatchSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return MatchSpec{}, errors.New("empty match spec")
	}

	ms := MatchSpec{}

	if i := strings.Index(s, "::"); i >= 0 {
		chanPart := s[:i]
		s = s[i+2:]
		if j := strings.IndexByte(chanPart, '/'); j >= 0 {
			ms.Channel = chanPart[:j]
			ms.Subdir = chanPart[j+1:]
		} else {
			ms.Channel = chanPart
		}
	}

	var brackets string
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return MatchSpec{}, errors.Errorf("unterminated bracket attributes in %q", raw)
		}
		brackets = s[i+1 : len(s)-1]
		s = s[:i]
	}

	name, versionBuild := splitNameFromSpec(s)
	if name == "" {
		return MatchSpec{}, errors.Errorf("missing package name in %q", raw)
	}
	ms.Name = NewPackageName(name)

	if versionBuild != "" {
		parts := strings.SplitN(versionBuild, " ", 2)
		vs, err := ParseVersionSpec(parts[0])
		if err != nil {
			return MatchSpec{}, errors.Wrapf(err, "match spec %q", raw)
		}
		ms.Version = vs
		if len(parts) == 2 {
			bm, err := ParseStringMatcher(strings.TrimSpace(parts[1]))
			if err != nil {
				return MatchSpec{}, errors.Wrapf(err, "match spec %q", raw)
			}
			ms.Build = bm
		}
	}

	if brackets != "" {
		if err := applyBracketAttrs(&ms, brackets); err != nil {
			return MatchSpec{}, errors.Wrapf(err, "match spec %q", raw)
		}
	}

	return ms, nil
}

// splitNameFromSpec splits "numpy>=1.20 py39*" into ("numpy", ">=1.20 py39*").
func splitNameFromSpec(s string) (name, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '=' || c == '<' || c == '>' || c == '!' || c == '~' || c == ' ' {
			break
		}
		i++
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i:])
}

func applyBracketAttrs(ms *MatchSpec, brackets string) error {
	for _, attr := range splitBracketAttrs(brackets) {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		if len(kv) != 2 {
			return errors.Errorf("malformed attribute %q", attr)
		}
		key := strings.TrimSpace(strings.TrimSuffix(kv[0], "="))
		val := strings.Trim(strings.TrimSpace(kv[1]), "'\"")
		switch key {
		case "version":
			vs, err := ParseVersionSpec(val)
			if err != nil {
				return err
			}
			ms.Version = vs
		case "build":
			bm, err := ParseStringMatcher(val)
			if err != nil {
				return err
			}
			ms.Build = bm
		case "build_number":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid build_number %q", val)
			}
			ms.BuildNumber = &n
		case "sha256":
			ms.Sha256 = val
		case "md5":
			ms.MD5 = val
		case "fn":
			ms.Filename = val
		case "channel":
			ms.Channel = val
		case "subdir":
			ms.Subdir = val
		case "namespace":
			ms.Namespace = val
		default:
			return errors.Errorf("unrecognized attribute %q", key)
		}
	}
	return nil
}

// splitBracketAttrs splits on top-level commas, respecting quoted values
// that may themselves contain commas (e.g. version='>=1.2,<2').
func splitBracketAttrs(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
			cur.WriteByte(c)
		case c == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// Matches reports whether rec satisfies every predicate in ms.
func (ms MatchSpec) Matches(rec PackageRecord) bool {
	if !ms.Name.IsZero() && !ms.Name.Equal(rec.Name) {
		return false
	}
	return ms.NamelessMatchSpec.Matches(rec)
}

// Matches reports whether rec satisfies every predicate in nm, ignoring name.
func (nm NamelessMatchSpec) Matches(rec PackageRecord) bool {
	if !nm.Version.IsZero() && !nm.Version.Contains(rec.Version) {
		return false
	}
	if nm.Build.kind != matchAny && !nm.Build.Matches(rec.BuildString) {
		return false
	}
	if nm.BuildNumber != nil && *nm.BuildNumber != rec.BuildNumber {
		return false
	}
	if nm.Sha256 != "" && !strings.EqualFold(nm.Sha256, rec.Sha256) {
		return false
	}
	if nm.MD5 != "" && !strings.EqualFold(nm.MD5, rec.MD5) {
		return false
	}
	if nm.Subdir != "" && nm.Subdir != rec.Subdir {
		return false
	}
	if nm.Channel != "" && nm.Channel != rec.Channel {
		return false
	}
	return true
}

// String renders ms back to roughly its matchspec form (not guaranteed to
// round-trip byte for byte, but stable and parseable).
func (ms MatchSpec) String() string {
	var b strings.Builder
	if ms.Channel != "" {
		b.WriteString(ms.Channel)
		if ms.Subdir != "" {
			b.WriteByte('/')
			b.WriteString(ms.Subdir)
		}
		b.WriteString("::")
	}
	b.WriteString(ms.Name.String())
	if !ms.Version.IsZero() {
		b.WriteString(ms.Version.String())
	}
	if ms.Build.kind != matchAny {
		b.WriteByte(' ')
		b.WriteString(ms.Build.String())
	}
	return b.String()
}
