// Package config parses the recognized TOML configuration keys (spec §6)
// and merges multiple sources with later-wins scalar, array-replace,
// map-merge semantics. Grounded on golang-dep/registry_config.go's raw
// struct + toml tag + toml.Unmarshal pattern, generalized from a single
// [registry] table to the full set of recognized keys.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// ProxyConfig holds HTTP proxy settings, read from the proxy-config table.
type ProxyConfig struct {
	HTTP         string `toml:"http"`
	HTTPS        string `toml:"https"`
	NonProxyHost string `toml:"non-proxy-hosts"`
}

// Concurrency holds parallelism caps, read from the concurrency table.
type Concurrency struct {
	Solves    int `toml:"solves"`
	Downloads int `toml:"downloads"`
}

// RepodataConfig disables individual repodata variants, read from the
// repodata-config table.
type RepodataConfig struct {
	DisableJLAP     bool `toml:"disable-jlap"`
	DisableZstd     bool `toml:"disable-zstd"`
	DisableBzip2    bool `toml:"disable-bzip2"`
	DisableSharded  bool `toml:"disable-sharded"`
}

// S3Options holds per-bucket S3 transport settings, read from the
// s3-options.<bucket> table.
type S3Options struct {
	EndpointURL    string `toml:"endpoint-url"`
	Region         string `toml:"region"`
	ForcePathStyle bool   `toml:"force-path-style"`
}

// PostLinkScriptMode is the value recognized by run-post-link-scripts.
type PostLinkScriptMode string

const (
	PostLinkScriptsOff      PostLinkScriptMode = "off"
	PostLinkScriptsInsecure PostLinkScriptMode = "insecure"
)

// rawConfig mirrors spec §6's recognized keys table exactly; field order
// and toml tags match the table's own key names.
type rawConfig struct {
	DefaultChannels             []string              `toml:"default-channels"`
	TLSNoVerify                 bool                  `toml:"tls-no-verify"`
	AuthenticationOverrideFile  string                `toml:"authentication-override-file"`
	Mirrors                    map[string][]string    `toml:"mirrors"`
	ProxyConfig                ProxyConfig            `toml:"proxy-config"`
	Concurrency                Concurrency            `toml:"concurrency"`
	RepodataConfig              RepodataConfig        `toml:"repodata-config"`
	S3Options                  map[string]S3Options   `toml:"s3-options"`
	RunPostLinkScripts          PostLinkScriptMode     `toml:"run-post-link-scripts"`
}

// Config is the merged, validated view of every recognized key.
type Config struct {
	DefaultChannels            []string
	TLSNoVerify                bool
	AuthenticationOverrideFile string
	Mirrors                    map[string][]string
	ProxyConfig                ProxyConfig
	Concurrency                Concurrency
	RepodataConfig             RepodataConfig
	S3Options                  map[string]S3Options
	RunPostLinkScripts         PostLinkScriptMode
}

// Parse reads a single TOML source into a Config. Unset keys are left at
// their zero values; Merge is responsible for layering several of these.
func Parse(r io.Reader) (*Config, error) {
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errors.Wrap(err, "unable to read config source")
	}

	raw := rawConfig{}
	if err := toml.Unmarshal(buf.Bytes(), &raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse config as TOML")
	}

	return &Config{
		DefaultChannels:            raw.DefaultChannels,
		TLSNoVerify:                raw.TLSNoVerify,
		AuthenticationOverrideFile: raw.AuthenticationOverrideFile,
		Mirrors:                    raw.Mirrors,
		ProxyConfig:                raw.ProxyConfig,
		Concurrency:                raw.Concurrency,
		RepodataConfig:             raw.RepodataConfig,
		S3Options:                  raw.S3Options,
		RunPostLinkScripts:         raw.RunPostLinkScripts,
	}, nil
}

// ParseFile opens path and parses it, returning a nil *Config (not an
// error) when the file doesn't exist: a missing config source contributes
// nothing to a Merge.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "unable to open config file %s", path)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse config file %s", path)
	}
	return cfg, nil
}

// Merge layers sources in order, later sources overriding earlier ones:
// scalars are replaced wholesale, array values (DefaultChannels) are
// replaced wholesale rather than appended, and maps (Mirrors, S3Options)
// merge key-wise, per spec §6. A field only overrides when the later
// source gives it a non-zero value: a later false, 0 or "" (or an
// all-zero ProxyConfig or RepodataConfig) leaves the earlier value in
// place, so a later source cannot reset a field to its zero value.
func Merge(sources ...*Config) *Config {
	out := &Config{
		Mirrors:   map[string][]string{},
		S3Options: map[string]S3Options{},
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		if src.DefaultChannels != nil {
			out.DefaultChannels = src.DefaultChannels
		}
		if src.TLSNoVerify {
			out.TLSNoVerify = src.TLSNoVerify
		}
		if src.AuthenticationOverrideFile != "" {
			out.AuthenticationOverrideFile = src.AuthenticationOverrideFile
		}
		for base, alternates := range src.Mirrors {
			out.Mirrors[base] = alternates
		}
		if src.ProxyConfig != (ProxyConfig{}) {
			out.ProxyConfig = src.ProxyConfig
		}
		if src.Concurrency.Solves != 0 {
			out.Concurrency.Solves = src.Concurrency.Solves
		}
		if src.Concurrency.Downloads != 0 {
			out.Concurrency.Downloads = src.Concurrency.Downloads
		}
		if src.RepodataConfig != (RepodataConfig{}) {
			out.RepodataConfig = src.RepodataConfig
		}
		for bucket, opts := range src.S3Options {
			out.S3Options[bucket] = opts
		}
		if src.RunPostLinkScripts != "" {
			out.RunPostLinkScripts = src.RunPostLinkScripts
		}
	}
	return out
}

// Load reads and merges every path in order, skipping any that don't
// exist, and aggregates every parse failure into one error rather than
// stopping at the first (so a typo in one config file doesn't hide
// problems in the others).
func Load(paths ...string) (*Config, error) {
	var merr *multierror.Error
	sources := make([]*Config, 0, len(paths))
	for _, path := range paths {
		cfg, err := ParseFile(path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		sources = append(sources, cfg)
	}
	if merr.ErrorOrNil() != nil {
		return nil, merr
	}
	return Merge(sources...), nil
}
