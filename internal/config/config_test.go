package config

import (
	"os"
	"strings"
	"testing"
)

func TestParseRecognizedKeys(t *testing.T) {
	src := `
default-channels = ["defaults", "conda-forge"]
tls-no-verify = true
authentication-override-file = "/etc/orbit/auth.json"
run-post-link-scripts = "insecure"

[mirrors]
"https://repo.example.com" = ["https://mirror-a.example.com", "https://mirror-b.example.com"]

[proxy-config]
http = "http://proxy:8080"
https = "https://proxy:8443"

[concurrency]
solves = 4
downloads = 8

[repodata-config]
disable-jlap = true

[s3-options.my-bucket]
endpoint-url = "https://s3.example.com"
region = "us-east-1"
force-path-style = true
`
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, want := cfg.DefaultChannels, []string{"defaults", "conda-forge"}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("DefaultChannels = %v, want %v", got, want)
	}
	if !cfg.TLSNoVerify {
		t.Error("TLSNoVerify = false, want true")
	}
	if cfg.AuthenticationOverrideFile != "/etc/orbit/auth.json" {
		t.Errorf("AuthenticationOverrideFile = %q", cfg.AuthenticationOverrideFile)
	}
	if cfg.RunPostLinkScripts != PostLinkScriptsInsecure {
		t.Errorf("RunPostLinkScripts = %q, want %q", cfg.RunPostLinkScripts, PostLinkScriptsInsecure)
	}
	if alts := cfg.Mirrors["https://repo.example.com"]; len(alts) != 2 {
		t.Errorf("Mirrors = %v", cfg.Mirrors)
	}
	if cfg.ProxyConfig.HTTP != "http://proxy:8080" {
		t.Errorf("ProxyConfig.HTTP = %q", cfg.ProxyConfig.HTTP)
	}
	if cfg.Concurrency.Solves != 4 || cfg.Concurrency.Downloads != 8 {
		t.Errorf("Concurrency = %+v", cfg.Concurrency)
	}
	if !cfg.RepodataConfig.DisableJLAP {
		t.Error("RepodataConfig.DisableJLAP = false, want true")
	}
	opts, ok := cfg.S3Options["my-bucket"]
	if !ok || opts.Region != "us-east-1" || !opts.ForcePathStyle {
		t.Errorf("S3Options[my-bucket] = %+v, ok=%v", opts, ok)
	}
}

func TestMergeLaterScalarWins(t *testing.T) {
	a := &Config{TLSNoVerify: false, AuthenticationOverrideFile: "a.json"}
	b := &Config{AuthenticationOverrideFile: "b.json"}

	merged := Merge(a, b)
	if merged.AuthenticationOverrideFile != "b.json" {
		t.Errorf("AuthenticationOverrideFile = %q, want b.json to win", merged.AuthenticationOverrideFile)
	}
}

func TestMergeArrayIsReplacedNotAppended(t *testing.T) {
	a := &Config{DefaultChannels: []string{"defaults"}}
	b := &Config{DefaultChannels: []string{"conda-forge"}}

	merged := Merge(a, b)
	if len(merged.DefaultChannels) != 1 || merged.DefaultChannels[0] != "conda-forge" {
		t.Errorf("DefaultChannels = %v, want array-replace semantics ([conda-forge])", merged.DefaultChannels)
	}
}

func TestMergeMapsMergeKeyWise(t *testing.T) {
	a := &Config{Mirrors: map[string][]string{"u1": {"m1"}}}
	b := &Config{Mirrors: map[string][]string{"u2": {"m2"}}}

	merged := Merge(a, b)
	if len(merged.Mirrors) != 2 {
		t.Fatalf("Mirrors = %v, want both u1 and u2 present", merged.Mirrors)
	}
	if merged.Mirrors["u1"][0] != "m1" || merged.Mirrors["u2"][0] != "m2" {
		t.Errorf("Mirrors = %v", merged.Mirrors)
	}
}

func TestMergeMapKeyLaterWins(t *testing.T) {
	a := &Config{Mirrors: map[string][]string{"u1": {"old"}}}
	b := &Config{Mirrors: map[string][]string{"u1": {"new"}}}

	merged := Merge(a, b)
	if len(merged.Mirrors["u1"]) != 1 || merged.Mirrors["u1"][0] != "new" {
		t.Errorf("Mirrors[u1] = %v, want [new]", merged.Mirrors["u1"])
	}
}

func TestParseFileMissingReturnsNilConfigNoError(t *testing.T) {
	cfg, err := ParseFile("/nonexistent/path/orbit.toml")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if cfg != nil {
		t.Errorf("cfg = %+v, want nil for a missing file", cfg)
	}
}

func TestLoadMergesInOrderAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	low := dir + "/low.toml"
	high := dir + "/high.toml"
	writeFile(t, low, `tls-no-verify = true`)
	writeFile(t, high, `default-channels = ["conda-forge"]`)

	cfg, err := Load(low, high, dir+"/missing.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.TLSNoVerify {
		t.Error("TLSNoVerify = false, want true from low.toml")
	}
	if len(cfg.DefaultChannels) != 1 || cfg.DefaultChannels[0] != "conda-forge" {
		t.Errorf("DefaultChannels = %v", cfg.DefaultChannels)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writeFile %s: %v", path, err)
	}
}
