package steps

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/modpatch/download"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/types"
)

// Download fetches every artifact the remote info lists. The step is
// skipped when all of them were already cached.
type Download struct {
	pipeline.Base
	cfg     *Config
	Results []download.Result
}

func (*Download) Name() string           { return "download" }
func (*Download) Group() types.StepGroup { return types.GroupDownload }

func (s *Download) Execute(ctx context.Context, c *pipeline.Container) error {
	fi, err := pipeline.Require[*FetchInfo](c)
	if err != nil {
		return err
	}
	artifacts := fi.Info.Artifacts
	if s.cfg.BaseAPK != "" {
		artifacts = withoutKind(artifacts, download.KindAPK)
	}
	if len(artifacts) == 0 {
		return pipeline.Skip("nothing to download")
	}

	d := &download.Downloader{
		Fetcher:     s.cfg.Fetcher,
		Cache:       s.cfg.Cache,
		Metrics:     c.Metrics,
		Parallelism: s.cfg.Parallelism,
	}
	tr := newTransferProgress(artifacts, s.Status(), s.cfg.Progress)
	results, err := d.FetchAll(ctx, artifacts, tr.report)
	if err != nil {
		return err
	}
	s.Results = results

	cached := 0
	for _, r := range results {
		if r.Cached {
			cached++
		}
	}
	c.Logger.Info("artifacts ready", map[string]any{
		"total":  len(results),
		"cached": cached,
	})
	if cached == len(results) {
		return pipeline.Skip(fmt.Sprintf("%d artifacts cached", cached))
	}
	s.Status().SetDetail(fmt.Sprintf("%d downloaded, %d cached", len(results)-cached, cached))
	return nil
}

// Find returns the first result of kind.
func (s *Download) Find(kind string) (download.Result, bool) {
	for _, r := range s.Results {
		if r.Artifact.Kind == kind {
			return r, true
		}
	}
	return download.Result{}, false
}

// ByKind returns the results of kind in info order.
func (s *Download) ByKind(kind string) []download.Result {
	var out []download.Result
	for _, r := range s.Results {
		if r.Artifact.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func withoutKind(in []download.Artifact, kind string) []download.Artifact {
	var out []download.Artifact
	for _, a := range in {
		if a.Kind != kind {
			out = append(out, a)
		}
	}
	return out
}

// transferProgress folds per-artifact byte counts into one fraction.
type transferProgress struct {
	mu     sync.Mutex
	done   map[string]int64
	total  map[string]int64
	status *pipeline.Status
	next   download.Progress
}

func newTransferProgress(arts []download.Artifact, st *pipeline.Status, next download.Progress) *transferProgress {
	tp := &transferProgress{
		done:   make(map[string]int64, len(arts)),
		total:  make(map[string]int64, len(arts)),
		status: st,
		next:   next,
	}
	for _, a := range arts {
		tp.total[a.Key] = a.Size
	}
	return tp
}

func (tp *transferProgress) report(key string, done, total int64) {
	tp.mu.Lock()
	tp.done[key] = done
	if total > 0 {
		tp.total[key] = total
	}
	var d, t int64
	for k, n := range tp.total {
		if n <= 0 {
			t = -1
			break
		}
		t += n
		d += tp.done[k]
	}
	tp.mu.Unlock()

	if t > 0 {
		tp.status.SetProgress(float64(d)/float64(t), fmt.Sprintf("%d/%d KiB", d>>10, t>>10))
	}
	if tp.next != nil {
		tp.next(key, done, total)
	}
}
