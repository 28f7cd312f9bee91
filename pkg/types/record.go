package types

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// PackageRecord is the subset of a conda package's index.json that the
// solver, cache and installer need to identify and compare candidates.
type PackageRecord struct {
	Name         PackageName   `json:"name"`
	Version      Version       `json:"version"`
	BuildString  string        `json:"build"`
	BuildNumber  int64         `json:"build_number"`
	Subdir       string        `json:"subdir"`
	Channel      string        `json:"channel,omitempty"`
	Depends      []string      `json:"depends,omitempty"`
	Constrains   []string      `json:"constrains,omitempty"`
	License      string        `json:"license,omitempty"`
	Sha256       string        `json:"sha256,omitempty"`
	MD5          string        `json:"md5,omitempty"`
	Size         int64         `json:"size,omitempty"`
	Timestamp    int64         `json:"timestamp,omitempty"`
	RunExports   *RunExports   `json:"run_exports,omitempty"`
}

// RunExports mirrors conda's run_exports.json shape: lists of matchspecs a
// package injects into the run requirements of anything that depends on it,
// bucketed by strength.
type RunExports struct {
	Weak       []string `json:"weak,omitempty"`
	Strong     []string `json:"strong,omitempty"`
	WeakConstrains []string `json:"weak_constrains,omitempty"`
	StrongConstrains []string `json:"strong_constrains,omitempty"`
	NoRun      []string `json:"noarch,omitempty"`
}

// RepoDataRecord is a PackageRecord as it appears inside a channel's
// repodata.json, with the filename and download URL that PackageRecord
// alone doesn't carry.
type RepoDataRecord struct {
	PackageRecord
	FileName string `json:"fn"`
	URL      string `json:"url"`
}

// PrefixRecord is a RepoDataRecord as installed into a prefix's
// conda-meta/<pkg>.json: it additionally carries the file manifest and
// extraction provenance needed to reverse the install.
type PrefixRecord struct {
	RepoDataRecord
	Files         []string `json:"files"`
	PackageTarball string  `json:"package_tarball_full_path,omitempty"`
	ExtractedPackageDir string `json:"extracted_package_dir,omitempty"`
	RequestedSpec string   `json:"requested_spec,omitempty"`
}

// MarshalJSON flattens RepoDataRecord's own fields alongside PackageRecord's,
// since PackageRecord.MarshalJSON shadows the default struct-embedding
// behavior json.Marshal would otherwise use.
func (r RepoDataRecord) MarshalJSON() ([]byte, error) {
	base, err := r.PackageRecord.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return mergeJSONObjects(base, map[string]interface{}{
		"fn":  r.FileName,
		"url": r.URL,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *RepoDataRecord) UnmarshalJSON(data []byte) error {
	if err := r.PackageRecord.UnmarshalJSON(data); err != nil {
		return err
	}
	var extra struct {
		FileName string `json:"fn"`
		URL      string `json:"url"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	r.FileName = extra.FileName
	r.URL = extra.URL
	return nil
}

// MarshalJSON flattens PrefixRecord's own fields alongside its embedded
// RepoDataRecord/PackageRecord fields, for the same reason as
// RepoDataRecord.MarshalJSON above.
func (r PrefixRecord) MarshalJSON() ([]byte, error) {
	base, err := r.RepoDataRecord.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return mergeJSONObjects(base, map[string]interface{}{
		"files":                        r.Files,
		"package_tarball_full_path":    r.PackageTarball,
		"extracted_package_dir":        r.ExtractedPackageDir,
		"requested_spec":               r.RequestedSpec,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *PrefixRecord) UnmarshalJSON(data []byte) error {
	if err := r.RepoDataRecord.UnmarshalJSON(data); err != nil {
		return err
	}
	var extra struct {
		Files               []string `json:"files"`
		PackageTarball      string   `json:"package_tarball_full_path"`
		ExtractedPackageDir string   `json:"extracted_package_dir"`
		RequestedSpec       string   `json:"requested_spec"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	r.Files = extra.Files
	r.PackageTarball = extra.PackageTarball
	r.ExtractedPackageDir = extra.ExtractedPackageDir
	r.RequestedSpec = extra.RequestedSpec
	return nil
}

func mergeJSONObjects(base []byte, extra map[string]interface{}) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = enc
	}
	return json.Marshal(m)
}

// MinimalPrefixRecord is the subset of PrefixRecord the installer's diff
// pass actually needs (identity + file list). ReadMinimalPrefixRecord
// decodes the whole JSON object but keeps only these fields; it does not
// stop reading early once they are populated.
type MinimalPrefixRecord struct {
	Name        PackageName
	Version     Version
	BuildString string
	BuildNumber int64
	Files       []string
}

type minimalPrefixWire struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	BuildString string   `json:"build"`
	BuildNumber int64    `json:"build_number"`
	Files       []string `json:"files"`
}

// ReadMinimalPrefixRecord decodes just the fields MinimalPrefixRecord needs
// from r, tolerating (and ignoring) any other keys index.json-derived
// conda-meta records carry.
func ReadMinimalPrefixRecord(r io.Reader) (MinimalPrefixRecord, error) {
	var wire minimalPrefixWire
	dec := json.NewDecoder(bufio.NewReader(r))
	if err := dec.Decode(&wire); err != nil {
		return MinimalPrefixRecord{}, errors.Wrap(err, "decode minimal prefix record")
	}
	v, err := ParseVersion(wire.Version)
	if err != nil {
		return MinimalPrefixRecord{}, errors.Wrapf(err, "prefix record %q", wire.Name)
	}
	return MinimalPrefixRecord{
		Name:        NewPackageName(wire.Name),
		Version:     v,
		BuildString: wire.BuildString,
		BuildNumber: wire.BuildNumber,
		Files:       wire.Files,
	}, nil
}

// MarshalJSON renders PackageRecord's Name/Version back to their plain
// string wire forms, since both are richer Go types internally.
func (r PackageRecord) MarshalJSON() ([]byte, error) {
	type alias struct {
		Name        string      `json:"name"`
		Version     string      `json:"version"`
		BuildString string      `json:"build"`
		BuildNumber int64       `json:"build_number"`
		Subdir      string      `json:"subdir"`
		Channel     string      `json:"channel,omitempty"`
		Depends     []string    `json:"depends,omitempty"`
		Constrains  []string    `json:"constrains,omitempty"`
		License     string      `json:"license,omitempty"`
		Sha256      string      `json:"sha256,omitempty"`
		MD5         string      `json:"md5,omitempty"`
		Size        int64       `json:"size,omitempty"`
		Timestamp   int64       `json:"timestamp,omitempty"`
		RunExports  *RunExports `json:"run_exports,omitempty"`
	}
	return json.Marshal(alias{
		Name:        r.Name.String(),
		Version:     r.Version.String(),
		BuildString: r.BuildString,
		BuildNumber: r.BuildNumber,
		Subdir:      r.Subdir,
		Channel:     r.Channel,
		Depends:     r.Depends,
		Constrains:  r.Constrains,
		License:     r.License,
		Sha256:      r.Sha256,
		MD5:         r.MD5,
		Size:        r.Size,
		Timestamp:   r.Timestamp,
		RunExports:  r.RunExports,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *PackageRecord) UnmarshalJSON(data []byte) error {
	type alias struct {
		Name        string      `json:"name"`
		Version     string      `json:"version"`
		BuildString string      `json:"build"`
		BuildNumber int64       `json:"build_number"`
		Subdir      string      `json:"subdir"`
		Channel     string      `json:"channel,omitempty"`
		Depends     []string    `json:"depends,omitempty"`
		Constrains  []string    `json:"constrains,omitempty"`
		License     string      `json:"license,omitempty"`
		Sha256      string      `json:"sha256,omitempty"`
		MD5         string      `json:"md5,omitempty"`
		Size        int64       `json:"size,omitempty"`
		Timestamp   int64       `json:"timestamp,omitempty"`
		RunExports  *RunExports `json:"run_exports,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	v, err := ParseVersion(a.Version)
	if err != nil {
		return errors.Wrapf(err, "package record %q", a.Name)
	}
	*r = PackageRecord{
		Name:        NewPackageName(a.Name),
		Version:     v,
		BuildString: a.BuildString,
		BuildNumber: a.BuildNumber,
		Subdir:      a.Subdir,
		Channel:     a.Channel,
		Depends:     a.Depends,
		Constrains:  a.Constrains,
		License:     a.License,
		Sha256:      a.Sha256,
		MD5:         a.MD5,
		Size:        a.Size,
		Timestamp:   a.Timestamp,
		RunExports:  a.RunExports,
	}
	return nil
}

// Spec formats the record as a canonical "name-version-build" tuple, the
// conda convention used for cache bucket keys and filenames.
func (r PackageRecord) Spec() string {
	return r.Name.String() + "-" + r.Version.String() + "-" + r.BuildString
}
