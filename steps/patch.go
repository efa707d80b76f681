package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pithecene-io/modpatch/archive"
	"github.com/pithecene-io/modpatch/dex"
	"github.com/pithecene-io/modpatch/download"
	"github.com/pithecene-io/modpatch/icon"
	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/manifest"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/types"
)

// DefaultIconBackground is used when the options leave the color unset.
const DefaultIconBackground uint32 = 0xff3ddc84

// PatchManifest rewrites the compiled manifest with the patch options.
type PatchManifest struct {
	pipeline.Base
	cfg *Config
	// Icons are the launcher icon references of the patched manifest.
	Icons manifest.IconInfo
}

func (*PatchManifest) Name() string           { return "patch_manifest" }
func (*PatchManifest) Group() types.StepGroup { return types.GroupPatch }

func (s *PatchManifest) Execute(_ context.Context, c *pipeline.Container) error {
	a, err := workingArchive(c)
	if err != nil {
		return err
	}
	b, err := a.ReadFile(ManifestEntry)
	if err != nil {
		return err
	}
	opts := s.cfg.Options
	patched, err := manifest.Patch(b, manifest.Options{
		PackageName: opts.PackageName,
		AppName:     opts.AppName,
		Debuggable:  opts.Debuggable,
	})
	if err != nil {
		return err
	}
	if s.Icons, err = manifest.ReadIconInfo(patched); err != nil {
		return err
	}
	return a.WriteFile(ManifestEntry, patched)
}

// PatchIcons replaces the launcher icon resources.
type PatchIcons struct {
	pipeline.Base
	cfg    *Config
	Result icon.Result
}

func (*PatchIcons) Name() string           { return "patch_icons" }
func (*PatchIcons) Group() types.StepGroup { return types.GroupPatch }

func (s *PatchIcons) Execute(_ context.Context, c *pipeline.Container) error {
	pm, err := pipeline.Require[*PatchManifest](c)
	if err != nil {
		return err
	}
	if pm.Icons.Icon.IsZero() && pm.Icons.RoundIcon.IsZero() {
		return pipeline.Skip("manifest declares no launcher icon")
	}
	a, err := workingArchive(c)
	if err != nil {
		return err
	}

	opts := icon.Options{Background: s.cfg.Options.IconBackground}
	if opts.Background == 0 {
		opts.Background = DefaultIconBackground
	}
	if p := s.cfg.Options.IconPath; p != "" {
		if opts.Foreground, err = os.ReadFile(p); err != nil {
			return fmt.Errorf("read icon: %w", err)
		}
	}
	if s.Result, err = icon.Patch(a, pm.Icons, opts); err != nil {
		return err
	}
	s.Status().SetDetail(fmt.Sprintf("%d adaptive, %d legacy", len(s.Result.Adaptive), len(s.Result.Legacy)))
	return nil
}

// ReorganizeDex places the downloaded dex payloads into the archive.
type ReorganizeDex struct {
	pipeline.Base
	Layout dex.Layout
}

func (*ReorganizeDex) Name() string           { return "reorganize_dex" }
func (*ReorganizeDex) Group() types.StepGroup { return types.GroupPatch }

func (s *ReorganizeDex) Execute(ctx context.Context, c *pipeline.Container) error {
	dl, err := pipeline.Require[*Download](c)
	if err != nil {
		return err
	}
	a, err := workingArchive(c)
	if err != nil {
		return err
	}
	var providers []dex.Provider
	for _, r := range dl.ByKind(download.KindDex) {
		providers = append(providers, dex.FileProvider{
			ProviderName: r.Artifact.Key,
			Prio:         r.Artifact.Priority,
			Paths:        []string{r.Path},
		})
	}
	if len(providers) == 0 {
		return pipeline.Skip("no dex artifacts")
	}
	if s.Layout, err = dex.Reorganize(ctx, a, providers); err != nil {
		return err
	}
	c.Logger.Info("dex reorganized", map[string]any{
		"existing":  s.Layout.Existing,
		"relocated": len(s.Layout.Relocated),
		"total":     s.Layout.Total,
	})
	return nil
}

// AddNativeLibs copies native libraries from the native artifacts for
// every ABI the base package already ships.
type AddNativeLibs struct {
	pipeline.Base
	Added []string
}

func (*AddNativeLibs) Name() string           { return "add_native_libs" }
func (*AddNativeLibs) Group() types.StepGroup { return types.GroupPatch }

func (s *AddNativeLibs) Execute(ctx context.Context, c *pipeline.Container) error {
	dl, err := pipeline.Require[*Download](c)
	if err != nil {
		return err
	}
	a, err := workingArchive(c)
	if err != nil {
		return err
	}
	libs := dl.ByKind(download.KindNative)
	if len(libs) == 0 {
		return pipeline.Skip("no native artifacts")
	}
	abis := ABIs(a.Names())
	if len(abis) == 0 {
		return pipeline.Skip("base ships no native libraries")
	}

	for i, r := range libs {
		if err := ctx.Err(); err != nil {
			return err
		}
		added, err := copyLibs(a, r.Path, abis)
		if err != nil {
			return fmt.Errorf("native artifact %s: %w", r.Artifact.Key, err)
		}
		s.Added = append(s.Added, added...)
		s.Status().SetProgress(float64(i+1)/float64(len(libs)), "")
	}
	s.Status().SetDetail(fmt.Sprintf("%d libraries for %s", len(s.Added), strings.Join(abis, ", ")))
	return nil
}

// ABIs returns the sorted ABI directories under lib/ in names.
func ABIs(names []string) []string {
	var out []string
	for _, n := range names {
		rest, ok := strings.CutPrefix(n, "lib/")
		if !ok {
			continue
		}
		abi, file, ok := strings.Cut(rest, "/")
		if !ok || abi == "" || file == "" || slices.Contains(out, abi) {
			continue
		}
		out = append(out, abi)
	}
	slices.Sort(out)
	return out
}

func copyLibs(dst *archive.Archive, src string, abis []string) ([]string, error) {
	z, err := archive.Open(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrFormat, err)
	}
	defer iox.DiscardClose(z)

	var added []string
	for _, n := range z.Names() {
		if !strings.HasSuffix(n, ".so") || !slices.Contains(abis, libABI(n)) {
			continue
		}
		b, err := z.ReadFile(n)
		if err != nil {
			return nil, err
		}
		if err := dst.WriteFile(n, b); err != nil {
			return nil, err
		}
		added = append(added, n)
	}
	return added, nil
}

func libABI(name string) string {
	rest, ok := strings.CutPrefix(name, "lib/")
	if !ok {
		return ""
	}
	abi, _, _ := strings.Cut(rest, "/")
	return abi
}

// SaveMetadata writes modpatch.json so a later update can reuse the options.
type SaveMetadata struct {
	pipeline.Base
	cfg      *Config
	Metadata types.InstallMetadata
}

func (*SaveMetadata) Name() string           { return "save_metadata" }
func (*SaveMetadata) Group() types.StepGroup { return types.GroupPatch }

func (s *SaveMetadata) Execute(_ context.Context, c *pipeline.Container) error {
	a, err := workingArchive(c)
	if err != nil {
		return err
	}
	cb, err := pipeline.Require[*CopyBase](c)
	if err != nil {
		return err
	}
	fi, err := pipeline.Require[*FetchInfo](c)
	if err != nil {
		return err
	}
	versions := types.ComponentVersions{
		Base:     cb.Manifest.VersionName,
		Injector: fi.Info.Version,
	}
	if libs := fi.Info.ByKind(download.KindNative); len(libs) > 0 {
		versions.Libs = libs[0].Version
	}
	s.Metadata = types.InstallMetadata{
		FormatVersion: types.MetadataFormatVersion,
		ToolVersion:   types.Version,
		AttemptID:     c.AttemptID,
		Options:       s.cfg.Options,
		Versions:      versions,
		CreatedAt:     time.Now().UTC(),
	}
	b, err := json.MarshalIndent(s.Metadata, "", "  ")
	if err != nil {
		return err
	}
	return a.WriteFile(MetadataEntry, b)
}

// ReadMetadata returns the modpatch.json of a previously patched package.
func ReadMetadata(path string) (*types.InstallMetadata, error) {
	a, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(a)
	b, err := a.ReadFile(MetadataEntry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var m types.InstallMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrFormat, MetadataEntry, err)
	}
	return &m, nil
}
