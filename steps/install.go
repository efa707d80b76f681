package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/signer"
	"github.com/pithecene-io/modpatch/types"
)

// Sign commits the working archive and signs it with both schemes.
type Sign struct {
	pipeline.Base
	cfg *Config
	// Output is the signed package inside the work directory.
	Output      string
	Fingerprint string
}

func (*Sign) Name() string           { return "sign" }
func (*Sign) Group() types.StepGroup { return types.GroupPatch }

func (s *Sign) Execute(ctx context.Context, c *pipeline.Container) error {
	cb, err := pipeline.Require[*CopyBase](c)
	if err != nil {
		return err
	}
	a, err := workingArchive(c)
	if err != nil {
		return err
	}
	id, err := s.cfg.Identity.Get()
	if err != nil {
		return fmt.Errorf("signing identity: %w", err)
	}
	if s.cfg.Identity.Created() {
		c.Logger.Info("generated signing key", map[string]any{"fingerprint": id.Fingerprint()})
	}
	s.Fingerprint = id.Fingerprint()

	removed := signer.StripSignatures(a)
	if err := signer.SignV1(a, id, signer.V1Options{V2Follows: true}); err != nil {
		return fmt.Errorf("v1 signature: %w", err)
	}
	s.Status().SetProgress(0.3, "v1 signed")
	if err := ctx.Err(); err != nil {
		return err
	}

	out := workPath(c, patchedFile)
	if err := a.Commit(out); err != nil {
		return err
	}
	if err := cb.Close(); err != nil {
		return err
	}
	s.Status().SetProgress(0.7, "archive written")
	if err := signer.SignV2(out, id, signer.V2Options{Channel: s.cfg.Options.Channel}); err != nil {
		return fmt.Errorf("v2 signature: %w", err)
	}
	s.Output = out
	c.Logger.Info("package signed", map[string]any{
		"output":             out,
		"stripped_signature": len(removed),
		"fingerprint":        s.Fingerprint,
	})
	return nil
}

// Installer delivers the signed package.
type Installer interface {
	Install(ctx context.Context, apk string) error
}

// ADBInstaller installs through `adb install-multiple -r`.
type ADBInstaller struct {
	// Path is the adb binary; empty looks it up in PATH.
	Path string
	// Serial selects a device when several are attached.
	Serial string
}

// Install implements Installer.
func (i ADBInstaller) Install(ctx context.Context, apk string) error {
	bin := i.Path
	if bin == "" {
		bin = "adb"
	}
	var args []string
	if i.Serial != "" {
		args = append(args, "-s", i.Serial)
	}
	args = append(args, "install-multiple", "-r", apk)

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("adb install: %w: %s", err, strings.TrimSpace(out.String()))
	}
	if !strings.Contains(out.String(), "Success") {
		return fmt.Errorf("adb install: %s", strings.TrimSpace(out.String()))
	}
	return nil
}

// CopyInstaller copies the package to Dest.
type CopyInstaller struct {
	Dest string
}

// Install implements Installer.
func (i CopyInstaller) Install(ctx context.Context, apk string) error {
	if i.Dest == "" {
		return errors.New("copy installer requires a destination")
	}
	if err := os.MkdirAll(filepath.Dir(i.Dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(apk)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(in)
	return iox.ReplaceFile(i.Dest, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, ctxReader{ctx: ctx, r: in})
		return err
	})
}

// Install hands the signed package to the configured installer.
type Install struct {
	pipeline.Base
	cfg *Config
}

func (*Install) Name() string           { return "install" }
func (*Install) Group() types.StepGroup { return types.GroupInstall }

func (s *Install) Execute(ctx context.Context, c *pipeline.Container) error {
	sg, err := pipeline.Require[*Sign](c)
	if err != nil {
		return err
	}
	if s.cfg.Installer == nil {
		return pipeline.Skip("no installer configured")
	}
	if err := s.cfg.Installer.Install(ctx, sg.Output); err != nil {
		return err
	}
	c.Logger.Info("package installed", map[string]any{"installer": fmt.Sprintf("%T", s.cfg.Installer)})
	return nil
}

// Cleanup removes the work directory.
type Cleanup struct {
	pipeline.Base
	cfg *Config
}

func (*Cleanup) Name() string           { return "cleanup" }
func (*Cleanup) Group() types.StepGroup { return types.GroupInstall }

func (s *Cleanup) Execute(_ context.Context, c *pipeline.Container) error {
	if s.cfg.KeepWorkDir {
		return pipeline.Skip("work dir kept")
	}
	return os.RemoveAll(c.WorkDir)
}
