// Command orbit is a thin wiring entrypoint over pkg/solver, pkg/repodata,
// pkg/cache, pkg/cas and pkg/installer. It has no subcommand/flag
// framework of its own (CLI ergonomics are explicitly out of scope) — just
// enough stdlib flag parsing to drive a single install operation end to
// end, the way golang-dep's own main.go wires its ctx/commands together.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/orbit-pm/orbit/internal/config"
	"github.com/orbit-pm/orbit/internal/rtlog"
	"github.com/orbit-pm/orbit/pkg/cache"
	"github.com/orbit-pm/orbit/pkg/cas"
	"github.com/orbit-pm/orbit/pkg/installer"
	"github.com/orbit-pm/orbit/pkg/repodata"
	"github.com/orbit-pm/orbit/pkg/solver"
	"github.com/orbit-pm/orbit/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:], rtlog.Default()))
}

func run(args []string, logger *rtlog.Logger) int {
	fs := flag.NewFlagSet("orbit", flag.ContinueOnError)
	prefix := fs.String("prefix", "", "target environment prefix (required)")
	channelFlag := fs.String("channel", "conda-forge", "channel to solve against")
	subdir := fs.String("subdir", "linux-64", "platform subdir")
	cacheDir := fs.String("cache", "", "package cache root (default: <prefix>/../.orbit-cache)")
	repoCacheDir := fs.String("repodata-cache", "", "repodata cache root (default: <cache>/repodata)")
	configFile := fs.String("config", "", "path to an orbit TOML config file")
	trace := fs.Bool("trace", false, "verbose solver backtracking trace")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	specStrings := fs.Args()

	if *prefix == "" || len(specStrings) == 0 {
		fmt.Fprintln(os.Stderr, "usage: orbit -prefix <dir> [-channel name] [-subdir platform] <spec...>")
		return 2
	}
	if *cacheDir == "" {
		*cacheDir = filepath.Join(filepath.Dir(*prefix), ".orbit-cache")
	}
	if *repoCacheDir == "" {
		*repoCacheDir = filepath.Join(*cacheDir, "repodata")
	}

	cfg := &config.Config{}
	if *configFile != "" {
		loaded, err := config.ParseFile(*configFile)
		if err != nil {
			logger.LogOrbitfln("config: %s", err)
			return 1
		}
		cfg = config.Merge(cfg, loaded)
	}

	if err := install(installArgs{
		prefix:       *prefix,
		channel:      *channelFlag,
		subdir:       *subdir,
		cacheDir:     *cacheDir,
		repoCacheDir: *repoCacheDir,
		specStrings:  specStrings,
		cfg:          cfg,
		trace:        *trace,
		log:          logger,
	}); err != nil {
		logger.LogOrbitfln("%s", err)
		return 1
	}
	return 0
}

type installArgs struct {
	prefix       string
	channel      string
	subdir       string
	cacheDir     string
	repoCacheDir string
	specStrings  []string
	cfg          *config.Config
	trace        bool
	log          *rtlog.Logger
}

// install resolves args.specStrings against the configured channel,
// plans a transaction against the prefix's current state, and executes
// it — the same fetch-solve-diff-apply shape as golang-dep's ensure.go,
// generalized from Go import-path resolution to conda channels/records.
func install(args installArgs) error {
	ctx := context.Background()

	channels := args.cfg.DefaultChannels
	if args.channel != "" {
		channels = append([]string{args.channel}, channels...)
	}
	if len(channels) == 0 {
		return errors.New("no channel specified and no default-channels configured")
	}

	chCfg := types.DefaultChannelConfig(args.prefix)
	available := make([][]types.RepoDataRecord, 0, len(channels))
	for _, raw := range channels {
		records, err := fetchChannelRecords(raw, args.subdir, args.repoCacheDir, chCfg, args.cfg.S3Options)
		if err != nil {
			return errors.Wrapf(err, "fetch repodata for channel %q", raw)
		}
		available = append(available, records)
	}

	specs := make([]types.MatchSpec, 0, len(args.specStrings))
	for _, raw := range args.specStrings {
		ms, err := types.ParseMatchSpec(raw)
		if err != nil {
			return errors.Wrapf(err, "parse match spec %q", raw)
		}
		specs = append(specs, ms)
	}

	installed, err := installer.ReadPrefixState(args.prefix)
	if err != nil {
		return errors.Wrap(err, "read existing prefix state")
	}
	locked := make([]types.RepoDataRecord, 0, len(installed))
	for _, pr := range installed {
		locked = append(locked, pr.RepoDataRecord)
	}

	task := solver.SolverTask{
		Specs:             specs,
		LockedPackages:    locked,
		AvailablePackages: available,
		ChannelPriority:   solver.ChannelPriorityStrict,
		Strategy:          solver.Highest,
	}
	if args.trace {
		task.Trace = true
		task.TraceLogger = log.New(args.log, "", 0)
	}

	resolved, err := solver.Solve(task)
	if err != nil {
		return errors.Wrap(err, "solve")
	}

	explicit := make(map[string]bool, len(specs))
	for _, spec := range specs {
		explicit[spec.Name.String()] = true
	}
	tx := installer.Plan(installed, resolved, explicit)
	if len(tx.Operations) == 0 {
		args.log.LogOrbitfln("nothing to do")
		return nil
	}

	if err := fillMissingRunExports(ctx, filepath.Join(args.cacheDir, "run_exports"), resolved); err != nil {
		args.log.LogOrbitfln("run_exports lookup: %s", err)
	}

	cacheRoot := args.cacheDir
	casRoot := filepath.Join(cacheRoot, "cas")
	bucketRoot := filepath.Join(cacheRoot, "pkgs")
	store, err := cas.Open(casRoot)
	if err != nil {
		return errors.Wrap(err, "open CAS store")
	}
	pkgCache, err := cache.Open(bucketRoot)
	if err != nil {
		return errors.Wrap(err, "open package cache")
	}
	defer pkgCache.Close()

	clobbersDir := filepath.Join(args.prefix, "clobbers")
	ex := installer.NewExecutor(pkgCache, args.prefix, clobbersDir, installed)

	fetchFuncs := make(map[string]cache.FetchFunc, len(tx.Operations))
	for _, op := range tx.Operations {
		if op.New == nil {
			continue
		}
		rec := *op.New
		fetchFuncs[op.Name] = httpFetchFunc(store, rec.URL)
	}

	if _, err := ex.Run(ctx, tx, fetchFuncs, installer.NoopReporter); err != nil {
		return errors.Wrap(err, "apply transaction")
	}

	specLabels := make([]string, len(args.specStrings))
	copy(specLabels, args.specStrings)
	if err := ex.RecordHistory(specLabels, tx, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "record history")
	}

	args.log.LogOrbitfln("applied %d operations to %s", len(tx.Operations), args.prefix)
	return nil
}

// fetchChannelRecords resolves a channel name/URL, fetches its repodata
// for subdir (using the default CacheOrFetch policy), and decodes it.
func fetchChannelRecords(raw, subdir, repoCacheDir string, chCfg types.ChannelConfig, s3Options map[string]config.S3Options) ([]types.RepoDataRecord, error) {
	channel, err := types.CanonicalizeChannel(raw, chCfg)
	if err != nil {
		return nil, err
	}
	subdirURL, err := url.Parse(strings.TrimRight(channel.BaseURL, "/") + "/" + subdir + "/")
	if err != nil {
		return nil, errors.Wrapf(err, "build subdir URL for channel %q", raw)
	}

	if err := os.MkdirAll(repoCacheDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create repodata cache dir")
	}
	opts := repodata.Options{
		CacheAction: repodata.CacheOrFetch,
		JLAPEnabled: true,
		ZstdEnabled: true,
		Bz2Enabled:  true,
	}
	if subdirURL.Scheme == "s3" {
		if bucketOpts, ok := s3Options[subdirURL.Host]; ok {
			opts.S3 = &repodata.S3Config{
				EndpointURL:    bucketOpts.EndpointURL,
				Region:         bucketOpts.Region,
				ForcePathStyle: bucketOpts.ForcePathStyle,
			}
		}
	}
	cached, err := repodata.FetchData(subdirURL, repoCacheDir, opts)
	if err != nil {
		return nil, err
	}
	defer cached.LockFile.Close()

	f, err := os.Open(cached.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open cached repodata")
	}
	defer f.Close()

	return repodata.DecodeIndex(f, strings.TrimSuffix(subdirURL.String(), "/"), channel.Name)
}

// httpFetchFunc returns a cache.FetchFunc that downloads the package
// tarball at url and unpacks it into destination via the CAS extractor,
// mirroring the real production path where the cache bucket is populated
// with hardlinks into store rather than a plain tar extraction.
func httpFetchFunc(store *cas.Store, url string) cache.FetchFunc {
	return func(ctx context.Context, destination string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("fetch %s: unexpected status %s", url, resp.Status)
		}

		extractor, err := cas.NewExtractor(store, destination)
		if err != nil {
			return err
		}
		return extractor.Unpack(resp.Body)
	}
}

// fillMissingRunExports looks up run_exports.json for any resolved record
// whose repodata entry didn't already carry one (older channel indexes, or
// a local dev build), via cache.RunExportsCache — a download dedicated to
// that single archive member rather than the full package fetch, mirroring
// the original source's separate run_exports cache path. Lookup failures
// are non-fatal: run_exports only enrich downstream constraint solving, and
// a channel's own repodata is the normal source of truth.
func fillMissingRunExports(ctx context.Context, cacheRoot string, resolved []types.RepoDataRecord) error {
	var needLookup bool
	for _, rec := range resolved {
		if rec.RunExports == nil {
			needLookup = true
			break
		}
	}
	if !needLookup {
		return nil
	}

	runExportsCache, err := cache.NewRunExportsCache(cacheRoot)
	if err != nil {
		return errors.Wrap(err, "open run_exports cache")
	}

	for i, rec := range resolved {
		if rec.RunExports != nil {
			continue
		}
		key := cache.BucketKey{Name: rec.Name.String(), Version: rec.Version.String(), Build: rec.BuildString}
		entry, err := runExportsCache.GetOrFetch(ctx, key, func(ctx context.Context) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, errors.Errorf("fetch %s: unexpected status %s", rec.URL, resp.Status)
			}
			return resp.Body, nil
		})
		if err != nil {
			return errors.Wrapf(err, "run_exports for %s", rec.Name.String())
		}
		resolved[i].RunExports = entry.RunExports
	}
	return nil
}
