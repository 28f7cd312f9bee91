package types

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// defaultChannelAlias is the canonical host simple channel names (e.g.
// "conda-forge") are resolved against, per SPEC_FULL.md §C.
const defaultChannelAlias = "https://conda.anaconda.org"

// ChannelConfig supplies what's needed to resolve a bare channel name or
// relative path into a full base URL, grounded on
// original_source/crates/rattler_conda_types/src/channel/mod.rs's
// ChannelConfig.
type ChannelConfig struct {
	ChannelAlias string
	RootDir      string
}

// DefaultChannelConfig returns a ChannelConfig rooted at rootDir using the
// default conda.anaconda.org alias.
func DefaultChannelConfig(rootDir string) ChannelConfig {
	return ChannelConfig{ChannelAlias: defaultChannelAlias, RootDir: rootDir}
}

// Channel is a resolved channel: its canonical name (when it's "under" the
// channel alias) and the base URL repodata and packages are fetched from.
type Channel struct {
	Name    string
	BaseURL string
}

// CanonicalizeChannel resolves raw (a bare name, a file/http(s) URL, or a
// filesystem path) against cfg into a Channel, per
// ChannelConfig::canonical_name / NamedChannelOrUrl::into_channel in the
// original source. The returned BaseURL always ends in "/".
func CanonicalizeChannel(raw string, cfg ChannelConfig) (Channel, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Channel{}, errors.New("empty channel")
	}

	if scheme := parseScheme(raw); scheme != "" {
		return channelFromURL(raw, cfg)
	}
	if looksLikePath(raw) {
		return channelFromPath(raw, cfg)
	}
	// bare name, e.g. "conda-forge" or "bioconda/label/main"
	base := strings.TrimRight(cfg.ChannelAlias, "/") + "/" + strings.Trim(raw, "/")
	return Channel{Name: raw, BaseURL: base + "/"}, nil
}

func channelFromURL(raw string, cfg ChannelConfig) (Channel, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Channel{}, errors.Wrapf(err, "invalid channel url %q", raw)
	}
	base := strings.TrimRight(u.String(), "/") + "/"
	name := ""
	if stripped, ok := stripChannelAlias(base, cfg.ChannelAlias); ok {
		name = stripped
	}
	return Channel{Name: name, BaseURL: base}, nil
}

func channelFromPath(raw string, cfg ChannelConfig) (Channel, error) {
	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cfg.RootDir, abs)
	}
	abs = filepath.ToSlash(filepath.Clean(abs))
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	return Channel{BaseURL: "file://" + abs + "/"}, nil
}

// stripChannelAlias returns the channel name implied by base when base sits
// directly under alias, e.g. base "https://conda.anaconda.org/conda-forge/"
// with alias "https://conda.anaconda.org" yields ("conda-forge", true).
func stripChannelAlias(base, alias string) (string, bool) {
	alias = strings.TrimRight(alias, "/")
	if !strings.HasPrefix(base, alias+"/") {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(base, alias+"/"), "/"), true
}

func parseScheme(s string) string {
	i := strings.Index(s, "://")
	if i <= 0 {
		return ""
	}
	scheme := s[:i]
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return ""
		}
	}
	return scheme
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "~") || (len(s) >= 2 && s[1] == ':') // C:\ Windows drive letter
}

// String returns the base URL, the canonical wire form of a Channel.
func (c Channel) String() string { return c.BaseURL }
