package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/modpatch/archive"
	"github.com/pithecene-io/modpatch/download"
	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/manifest"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/types"
)

// FetchInfo loads the remote info document.
type FetchInfo struct {
	pipeline.Base
	cfg  *Config
	Info *download.Info
}

func (*FetchInfo) Name() string           { return "fetch_info" }
func (*FetchInfo) Group() types.StepGroup { return types.GroupPrepare }

func (s *FetchInfo) Execute(ctx context.Context, c *pipeline.Container) error {
	if s.cfg.Info != nil {
		if err := s.cfg.Info.Validate(); err != nil {
			return fmt.Errorf("%w: info: %v", types.ErrFormat, err)
		}
		s.Info = s.cfg.Info
		return pipeline.Skip("info provided")
	}
	info, err := download.FetchInfo(ctx, s.cfg.Fetcher, s.cfg.InfoURL)
	if err != nil {
		return err
	}
	s.Info = info
	c.Logger.Info("fetched remote info", map[string]any{
		"version":   info.Version,
		"artifacts": len(info.Artifacts),
	})
	return nil
}

// CheckStorage fails early when the work directory lacks free space.
type CheckStorage struct {
	pipeline.Base
	cfg *Config
	// Free is the free space found, or -1 when unknown.
	Free int64
}

func (*CheckStorage) Name() string           { return "check_storage" }
func (*CheckStorage) Group() types.StepGroup { return types.GroupPrepare }

func (s *CheckStorage) Execute(_ context.Context, c *pipeline.Container) error {
	if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
		return err
	}
	free, err := freeSpace(c.WorkDir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", c.WorkDir, err)
	}
	s.Free = free
	if free < 0 {
		return pipeline.Skip("free space unknown on this platform")
	}
	if free < s.cfg.MinFreeBytes {
		return fmt.Errorf("%w: %d MiB free in %s, need %d MiB",
			types.ErrInsufficientStorage, free>>20, c.WorkDir, s.cfg.MinFreeBytes>>20)
	}
	s.Status().SetDetail(fmt.Sprintf("%d MiB free", free>>20))
	return nil
}

// CopyBase copies the base package into the work directory and opens it
// as the working archive.
type CopyBase struct {
	pipeline.Base
	cfg      *Config
	Archive  *archive.Archive
	Manifest manifest.Info
	// Source is the path the base package was copied from.
	Source string
}

func (*CopyBase) Name() string           { return "copy_base" }
func (*CopyBase) Group() types.StepGroup { return types.GroupPrepare }

func (s *CopyBase) Execute(ctx context.Context, c *pipeline.Container) error {
	src := s.cfg.BaseAPK
	if src == "" {
		dl, err := pipeline.Require[*Download](c)
		if err != nil {
			return err
		}
		r, ok := dl.Find(download.KindAPK)
		if !ok {
			return errors.New("remote info lists no apk artifact and no local base was given")
		}
		src = r.Path
	}
	s.Source = src

	dst := workPath(c, baseFile)
	if err := copyFile(ctx, src, dst); err != nil {
		return fmt.Errorf("copy base: %w", err)
	}
	a, err := archive.Open(dst)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormat, err)
	}
	b, err := a.ReadFile(ManifestEntry)
	if err == nil {
		s.Manifest, err = manifest.Read(b)
	}
	if err != nil {
		iox.DiscardClose(a)
		return fmt.Errorf("base manifest: %w", err)
	}
	s.Archive = a
	c.Logger.Info("base package ready", map[string]any{
		"package":      s.Manifest.Package,
		"version_name": s.Manifest.VersionName,
		"version_code": s.Manifest.VersionCode,
	})
	return nil
}

// Close closes the working archive.
func (s *CopyBase) Close() error {
	if s.Archive == nil {
		return nil
	}
	err := s.Archive.Close()
	s.Archive = nil
	return err
}

// workingArchive returns the open archive of a completed CopyBase.
func workingArchive(c *pipeline.Container) (*archive.Archive, error) {
	cb, err := pipeline.Require[*CopyBase](c)
	if err != nil {
		return nil, err
	}
	if cb.Archive == nil {
		return nil, fmt.Errorf("%w: working archive is closed", types.ErrDependencyUnavailable)
	}
	return cb.Archive, nil
}

// copyFile copies src to dst, checking ctx between chunks.
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(in)
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, ctxReader{ctx: ctx, r: in})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
	}
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
