// Package fetch downloads archives concurrently with a per-URL entity-tag
// cache. An unchanged upstream file costs a conditional GET and zero payload
// bytes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/catalog"
	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
	"github.com/terrylica/gapless-crypto-clickhouse/services/netx"
)

// Result is the outcome of one download task. Body is the archive bytes,
// whether freshly downloaded or read back from the local cache on a 304.
type Result struct {
	Task         catalog.Task
	Body         []byte
	BytesFetched int64
	NotModified  bool
	Err          error
}

// Fetcher executes download batches with bounded parallelism.
type Fetcher struct {
	client      *http.Client
	etags       *EtagStore
	cacheDir    string
	concurrency int
	retry       netx.RetryPolicy
	logger      *zap.Logger
}

// Config tunes a Fetcher.
type Config struct {
	CacheDir    string
	Concurrency int
	Timeout     time.Duration
	Retry       netx.RetryPolicy
}

// NewFetcher builds a fetcher owning the etag store under cfg.CacheDir.
func NewFetcher(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 13
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = netx.DefaultPolicy()
	}
	return &Fetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		etags:       NewEtagStore(cfg.CacheDir),
		cacheDir:    cfg.CacheDir,
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
		logger:      logger,
	}
}

// FetchBatch runs the tasks in parallel bounded by the configured width and
// returns results in task order. Per-task failures land in Result.Err and
// never abort the batch.
func (f *Fetcher) FetchBatch(ctx context.Context, tasks []catalog.Task) []Result {
	results := make([]Result, len(tasks))
	sem := make(chan struct{}, f.concurrency)

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task catalog.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = f.fetchOne(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, task catalog.Task) Result {
	res := Result{Task: task}

	rec, haveTag := f.etags.Lookup(task.URL)
	local := ArchivePath(f.cacheDir, task.URL)
	if haveTag {
		if _, err := os.Stat(local); err != nil {
			// Tag without a local archive is useless; refetch unconditionally.
			haveTag = false
		}
	}

	err := netx.Do(ctx, f.retry, retryable, func() error {
		body, fetched, notModified, err := f.doRequest(ctx, task.URL, local, rec.Etag, rec.FileSize, haveTag)
		if err != nil {
			return err
		}
		res.Body, res.BytesFetched, res.NotModified = body, fetched, notModified
		return nil
	})
	if err != nil {
		if errors.Is(err, market.ErrRateLimited) {
			// A rate limit that outlives the retry budget surfaces as a
			// transport failure.
			err = fmt.Errorf("%w: rate limit budget exhausted: %v", market.ErrTransport, err)
		}
		if errors.Is(err, market.ErrSourceUnavailable) {
			f.logger.Warn("archive unavailable",
				zap.String("url", task.URL),
				zap.String("period", task.PeriodID))
		} else {
			f.logger.Error("download failed",
				zap.String("url", task.URL),
				zap.Error(err))
		}
		res.Err = err
	}
	return res
}

// doRequest performs one conditional GET round. On a 304 with a corrupted or
// missing local copy it invalidates the tag and refetches unconditionally.
func (f *Fetcher) doRequest(ctx context.Context, url, local, etag string, expectedSize int64, conditional bool) ([]byte, int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, false, fmt.Errorf("build request: %w", err)
	}
	if conditional {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %s: %v", market.ErrTransport, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		// A cached copy that cannot be read back at the recorded size is no
		// better than a missing one: drop the tag and refetch in full.
		body, err := os.ReadFile(local)
		if err != nil || (expectedSize > 0 && int64(len(body)) != expectedSize) {
			f.etags.Invalidate(url)
			f.logger.Warn("cached archive missing or corrupted on 304, refetching",
				zap.String("url", url))
			return f.doRequest(ctx, url, local, "", 0, false)
		}
		return body, 0, true, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, false, fmt.Errorf("%w: read body from %s: %v", market.ErrTransport, url, err)
		}
		if err := f.storeArchive(local, body); err != nil {
			return nil, 0, false, err
		}
		if tag := resp.Header.Get("ETag"); tag != "" {
			if err := f.etags.Put(url, EtagRecord{
				Etag:        tag,
				LastChecked: time.Now().UTC(),
				FileSize:    int64(len(body)),
			}); err != nil {
				f.logger.Warn("etag persist failed", zap.Error(err))
			}
		}
		return body, int64(len(body)), false, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, false, fmt.Errorf("%w: %s returned 404", market.ErrSourceUnavailable, url)

	case resp.StatusCode >= 500:
		return nil, 0, false, fmt.Errorf("%w: %s returned %d", market.ErrTransport, url, resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, 0, false, fmt.Errorf("%w: %s returned 429", market.ErrRateLimited, url)

	default:
		return nil, 0, false, fmt.Errorf("%w: %s returned %d", market.ErrSourceUnavailable, url, resp.StatusCode)
	}
}

// storeArchive atomically replaces the cached archive.
func (f *Fetcher) storeArchive(local string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create archive cache dir: %w", err)
	}
	tmp := local + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, local); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}

// retryable: network errors, timeouts, 5xx and rate limits retry; other 4xx
// do not.
func retryable(err error) bool {
	if errors.Is(err, market.ErrSourceUnavailable) {
		return false
	}
	if errors.Is(err, market.ErrTransport) || errors.Is(err, market.ErrRateLimited) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
