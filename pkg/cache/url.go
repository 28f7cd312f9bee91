package cache

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ExtractFunc streams r (the downloaded package body) into destination.
// Callers pass a *cas.Extractor.Unpack-shaped function so this package
// doesn't need to know about tar/zip container details.
type ExtractFunc func(r io.Reader, destination string) error

// DownloadError reports an HTTP-level failure from GetOrFetchFromURL, along
// with the status code (0 if the request never got a response) so callers
// and retry policies can distinguish transient from permanent failures.
type DownloadError struct {
	StatusCode int
	Err        error
}

func (e DownloadError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "cache: download failed with status " + http.StatusText(e.StatusCode)
}
func (e DownloadError) Unwrap() error { return e.Err }

// GetOrFetchFromURL is a convenience wrapper around GetOrFetch that
// downloads url with client and streams the body through extract,
// retrying whole attempts (not resuming partial downloads) according to
// retryPolicy, per spec.md §4.C's HTTP retry policy paragraph.
func (c *PackageCache) GetOrFetchFromURL(ctx context.Context, key CacheKey, url string, client *http.Client, retryPolicy RetryPolicy, extract ExtractFunc, reporter Reporter) (*Lock, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retryPolicy == nil {
		retryPolicy = DoNotRetryPolicy{}
	}
	if reporter == nil {
		reporter = NoopReporter
	}

	fetch := func(fctx context.Context, destination string) error {
		start := time.Now()
		attempt := 0
		for {
			attempt++
			err := downloadAndExtract(fctx, client, url, destination, extract, reporter)
			if err == nil {
				return nil
			}

			var statusCode int
			var derr DownloadError
			if errors.As(err, &derr) {
				statusCode = derr.StatusCode
			}
			if !isRetryableHTTPError(unwrapNonDownload(err), statusCode) {
				return err
			}

			decision := retryPolicy.ShouldRetry(start, attempt)
			if !decision.ShouldRetry {
				return err
			}
			wait := time.Until(decision.ExecuteAfter)
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-fctx.Done():
					return fctx.Err()
				}
			}
		}
	}

	return c.GetOrFetch(ctx, key, fetch, reporter)
}

func unwrapNonDownload(err error) error {
	var derr DownloadError
	if errors.As(err, &derr) && derr.Err != nil {
		return derr.Err
	}
	return nil
}

func downloadAndExtract(ctx context.Context, client *http.Client, url, destination string, extract ExtractFunc, reporter Reporter) error {
	idx := reporter.OnDownloadStart()
	defer reporter.OnDownloadComplete(idx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DownloadError{Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return DownloadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DownloadError{StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return DownloadError{Err: errors.Wrapf(err, "create destination %q", destination)}
	}

	var total *uint64
	if resp.ContentLength > 0 {
		t := uint64(resp.ContentLength)
		total = &t
	}
	counting := &countingReader{r: resp.Body, onRead: func(n uint64) {
		reporter.OnDownloadProgress(idx, n, total)
	}}

	if err := extract(counting, destination); err != nil {
		return DownloadError{Err: err}
	}
	return nil
}

type countingReader struct {
	r      io.Reader
	read   uint64
	onRead func(total uint64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += uint64(n)
		c.onRead(c.read)
	}
	return n, err
}
