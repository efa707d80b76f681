// Package steps implements the patch steps and assembles them into the
// default pipeline.
//
// Steps share one working archive opened by CopyBase. Later steps find
// their inputs with pipeline.Require, so the order returned by NewPlan is
// the only valid order.
package steps

import (
	"errors"
	"path/filepath"

	"github.com/pithecene-io/modpatch/download"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/signer"
	"github.com/pithecene-io/modpatch/types"
)

// Entry names written into the patched archive.
const (
	ManifestEntry = "AndroidManifest.xml"
	MetadataEntry = "modpatch.json"
)

// File names inside the work directory.
const (
	baseFile    = "base.apk"
	patchedFile = "patched.apk"
)

// Config holds everything the steps need besides the pipeline container.
type Config struct {
	Options types.PatchOptions
	// BaseAPK is a local base package. Empty downloads the apk artifact
	// of the remote info.
	BaseAPK string
	// InfoURL locates the remote info document.
	InfoURL string
	// Info, when set, is used instead of fetching InfoURL.
	Info *download.Info
	// MinFreeBytes is the free space CheckStorage requires in the work dir.
	MinFreeBytes int64

	Fetcher     download.Fetcher
	Cache       *download.Cache
	Parallelism int
	// Progress receives download progress in addition to the step status.
	Progress download.Progress

	Identity  *signer.LazyIdentity
	Installer Installer
	// KeepWorkDir leaves the work directory in place after Cleanup.
	KeepWorkDir bool
}

// Validate checks the configuration before a plan is built.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	switch {
	case c.Info == nil && c.InfoURL == "":
		return errors.New("remote info url is required")
	case c.Info == nil && c.Fetcher == nil:
		return errors.New("fetcher is required")
	case c.Cache == nil:
		return errors.New("download cache is required")
	case c.Identity == nil:
		return errors.New("signing identity is required")
	}
	return nil
}

// Plan is the default step list of one attempt.
type Plan struct {
	fetchInfo *FetchInfo
	download  *Download
	copyBase  *CopyBase
	steps     []pipeline.Step
}

// NewPlan builds the default steps for cfg.
func NewPlan(cfg Config) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Plan{
		fetchInfo: &FetchInfo{cfg: &cfg},
		download:  &Download{cfg: &cfg},
		copyBase:  &CopyBase{cfg: &cfg},
	}
	p.steps = []pipeline.Step{
		p.fetchInfo,
		&CheckStorage{cfg: &cfg},
		p.download,
		p.copyBase,
		&PatchManifest{cfg: &cfg},
		&PatchIcons{cfg: &cfg},
		&ReorganizeDex{},
		&AddNativeLibs{},
		&SaveMetadata{cfg: &cfg},
		&Sign{cfg: &cfg},
		&Install{cfg: &cfg},
		&Cleanup{cfg: &cfg},
	}
	return p, nil
}

// Steps returns the ordered step list.
func (p *Plan) Steps() []pipeline.Step { return p.steps }

// Versions reports the component versions known so far.
func (p *Plan) Versions() types.ComponentVersions {
	var v types.ComponentVersions
	if p.copyBase.Status().State().Completed() {
		v.Base = p.copyBase.Manifest.VersionName
	}
	if p.fetchInfo.Status().State().Completed() {
		info := p.fetchInfo.Info
		v.Injector = info.Version
		if libs := info.ByKind(download.KindNative); len(libs) > 0 {
			v.Libs = libs[0].Version
		}
	}
	return v
}

// Close releases the working archive if it is still open.
func (p *Plan) Close() error {
	return p.copyBase.Close()
}

func workPath(c *pipeline.Container, name string) string {
	return filepath.Join(c.WorkDir, name)
}
