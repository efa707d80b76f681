package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/metrics"
	"github.com/pithecene-io/modpatch/types"
)

// DefaultParallelism bounds concurrent fetches in FetchAll.
const DefaultParallelism = 3

// partSuffix marks an in-progress download.
const partSuffix = ".part"

// Progress reports transferred bytes for one artifact. total is -1 when
// unknown. Called from the fetching goroutine.
type Progress func(key string, done, total int64)

// Result is one fetched or cached artifact.
type Result struct {
	Artifact Artifact
	Path     string
	// Cached is true when the file came from the cache.
	Cached bool
}

// Downloader fetches artifacts through a Cache.
type Downloader struct {
	Fetcher     Fetcher
	Cache       *Cache
	Metrics     *metrics.Collector
	Parallelism int
}

// Fetch returns a fresh local copy of a, downloading it on a cache miss.
// The file is written to <path>.part and renamed once verified; the part
// file is removed on any failure including cancellation.
func (d *Downloader) Fetch(ctx context.Context, a Artifact, progress Progress) (Result, error) {
	if err := ValidateKey(a.Key); err != nil {
		return Result{}, err
	}
	if p, ok := d.Cache.Lookup(a); ok {
		d.Metrics.IncCacheHit()
		return Result{Artifact: a, Path: p, Cached: true}, nil
	}
	d.Metrics.IncCacheMiss()

	dst := d.Cache.Path(a.Key)
	part := dst + partSuffix
	sum, size, err := d.fetchTo(ctx, a, part, progress)
	if err != nil {
		_ = os.Remove(part)
		return Result{}, fmt.Errorf("download %s: %w", a.Key, err)
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return Result{}, fmt.Errorf("download %s: %w", a.Key, err)
	}
	err = d.Cache.Put(a.Key, Entry{
		Version:   a.Version,
		SHA256:    sum,
		Size:      size,
		FetchedAt: time.Now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Artifact: a, Path: dst}, nil
}

func (d *Downloader) fetchTo(ctx context.Context, a Artifact, part string, progress Progress) (string, int64, error) {
	body, total, err := d.Fetcher.Open(ctx, a.URL)
	if err != nil {
		return "", 0, err
	}
	defer iox.DiscardClose(body)
	if a.Size > 0 {
		total = a.Size
	}

	f, err := os.Create(part)
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	pw := &progressWriter{ctx: ctx, key: a.Key, total: total, fn: progress, metrics: d.Metrics, h: h}
	_, err = io.Copy(io.MultiWriter(f, pw), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if a.Size > 0 && pw.done != a.Size {
		return "", 0, fmt.Errorf("%w: size %d, want %d", types.ErrNetwork, pw.done, a.Size)
	}
	if a.SHA256 != "" && sum != a.SHA256 {
		return "", 0, fmt.Errorf("%w: sha256 %s, want %s", types.ErrNetwork, sum, a.SHA256)
	}
	return sum, pw.done, nil
}

// FetchAll fetches artifacts concurrently and returns results in input
// order. The first failure cancels the remaining fetches; every fetch has
// returned, and its part file is gone, before FetchAll returns.
func (d *Downloader) FetchAll(ctx context.Context, artifacts []Artifact, progress Progress) ([]Result, error) {
	seen := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		if seen[a.Key] {
			return nil, fmt.Errorf("duplicate artifact key %q", a.Key)
		}
		seen[a.Key] = true
	}

	limit := d.Parallelism
	if limit <= 0 {
		limit = DefaultParallelism
	}
	results := make([]Result, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, a := range artifacts {
		g.Go(func() error {
			r, err := d.Fetch(gctx, a, progress)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return results, nil
}

// progressWriter hashes, counts and reports written bytes. It fails once
// ctx is done so a stalled copy stops at the next chunk.
type progressWriter struct {
	ctx     context.Context
	key     string
	done    int64
	total   int64
	fn      Progress
	metrics *metrics.Collector
	h       hash.Hash
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	w.h.Write(p)
	w.done += int64(len(p))
	w.metrics.AddBytesDownloaded(int64(len(p)))
	if w.fn != nil {
		w.fn(w.key, w.done, w.total)
	}
	return len(p), nil
}
