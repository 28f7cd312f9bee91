package repodata

import (
	"strings"
	"testing"
)

func TestDecodeIndexMergesPackagesAndPackagesConda(t *testing.T) {
	const body = `{
		"packages": {
			"a-1.0-0.tar.bz2": {"name": "a", "version": "1.0", "build": "0", "build_number": 0, "sha256": "aaa"}
		},
		"packages.conda": {
			"b-2.0-0.conda": {"name": "b", "version": "2.0", "build": "0", "build_number": 0, "sha256": "bbb"}
		}
	}`

	records, err := DecodeIndex(strings.NewReader(body), "https://repo.example.com/noarch", "defaults")
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	byName := map[string]string{}
	for _, r := range records {
		byName[r.Name.String()] = r.URL
	}
	if byName["a"] != "https://repo.example.com/noarch/a-1.0-0.tar.bz2" {
		t.Errorf("a's URL = %q", byName["a"])
	}
	if byName["b"] != "https://repo.example.com/noarch/b-2.0-0.conda" {
		t.Errorf("b's URL = %q", byName["b"])
	}
}

func TestDecodeIndexChannelDefaultsWhenUnset(t *testing.T) {
	const body = `{"packages": {"a-1.0-0.tar.bz2": {"name": "a", "version": "1.0", "build": "0"}}}`

	records, err := DecodeIndex(strings.NewReader(body), "https://repo.example.com/noarch/", "conda-forge")
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if len(records) != 1 || records[0].Channel != "conda-forge" {
		t.Fatalf("got %+v, want channel defaulted to conda-forge", records)
	}
	if records[0].URL != "https://repo.example.com/noarch/a-1.0-0.tar.bz2" {
		t.Errorf("URL = %q, want trailing slash in baseURL handled", records[0].URL)
	}
}

func TestDecodeIndexEmptyDocument(t *testing.T) {
	records, err := DecodeIndex(strings.NewReader(`{}`), "https://repo.example.com/noarch", "defaults")
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}
