package cmd

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/shogo82148/androidbinary/apk"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/modpatch/archive"
	"github.com/pithecene-io/modpatch/cli/render"
	"github.com/pithecene-io/modpatch/dex"
	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/manifest"
	"github.com/pithecene-io/modpatch/signer"
	"github.com/pithecene-io/modpatch/steps"
	"github.com/pithecene-io/modpatch/types"
)

// PackageReport is the response of the inspect command.
type PackageReport struct {
	Path        string                 `json:"path"`
	Size        int64                  `json:"size"`
	SHA256      string                 `json:"sha256"`
	Package     string                 `json:"package"`
	VersionCode uint32                 `json:"version_code"`
	VersionName string                 `json:"version_name"`
	Label       string                 `json:"label,omitempty"`
	MinSDK      int32                  `json:"min_sdk,omitempty"`
	TargetSDK   int32                  `json:"target_sdk,omitempty"`
	Dex         []string               `json:"dex"`
	ABIs        []string               `json:"abis,omitempty"`
	Metadata    *types.InstallMetadata `json:"metadata,omitempty"`
	Signature   SignatureReport        `json:"signature"`
}

// SignatureReport describes the signatures of a package.
type SignatureReport struct {
	V1          bool   `json:"v1"`
	V2          bool   `json:"v2"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Channel     string `json:"channel,omitempty"`
	V1Error     string `json:"v1_error,omitempty"`
	V2Error     string `json:"v2_error,omitempty"`
}

// Verified reports whether both schemes verify with the same signer.
func (s SignatureReport) Verified() bool {
	return s.V1 && s.V2 && s.Fingerprint != ""
}

// InspectCommand returns the inspect command.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a package: manifest, dex layout, metadata and signatures",
		ArgsUsage: "<package.apk>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("package path required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for inspect", 1)
	}
	rep, err := inspectPackage(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(rep)
}

func inspectPackage(path string) (*PackageReport, error) {
	size, sum, err := fileDigest(path)
	if err != nil {
		return nil, err
	}
	a, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(a)

	b, err := a.ReadFile(steps.ManifestEntry)
	if err != nil {
		return nil, err
	}
	info, err := manifest.Read(b)
	if err != nil {
		return nil, err
	}

	rep := &PackageReport{
		Path:        path,
		Size:        size,
		SHA256:      sum,
		Package:     info.Package,
		VersionCode: info.VersionCode,
		VersionName: info.VersionName,
		Label:       info.Label,
		ABIs:        steps.ABIs(a.Names()),
	}
	for _, name := range a.Names() {
		if _, ok := dex.Index(name); ok {
			rep.Dex = append(rep.Dex, name)
		}
	}
	slices.SortFunc(rep.Dex, func(x, y string) int {
		i, _ := dex.Index(x)
		j, _ := dex.Index(y)
		return i - j
	})
	if a.Has(steps.MetadataEntry) {
		if rep.Metadata, err = steps.ReadMetadata(path); err != nil {
			return nil, err
		}
	}
	resolveResources(rep)
	rep.Signature = verifyPackage(path, a)
	return rep, nil
}

// resolveResources fills the resolved label and SDK levels. Packages
// without a resource table keep the raw manifest values.
func resolveResources(rep *PackageReport) {
	pkg, err := apk.OpenFile(rep.Path)
	if err != nil {
		return
	}
	defer iox.DiscardClose(pkg)
	m := pkg.Manifest()
	rep.MinSDK, _ = m.SDK.Min.Int32()
	rep.TargetSDK, _ = m.SDK.Target.Int32()
	if label, err := pkg.Label(nil); err == nil && label != "" {
		rep.Label = label
	}
}

func verifyPackage(path string, a *archive.Archive) SignatureReport {
	var rep SignatureReport
	c1, err := signer.VerifyV1(a)
	if err != nil {
		rep.V1Error = err.Error()
	}
	c2, err := signer.VerifyV2(path)
	if err != nil {
		rep.V2Error = err.Error()
	}
	rep.V1, rep.V2 = c1 != nil, c2 != nil
	switch {
	case c1 != nil && c2 != nil && !c1.Equal(c2):
		rep.V2 = false
		rep.V2Error = "v1 and v2 signers differ"
	case c2 != nil:
		rep.Fingerprint = certFingerprint(c2)
	case c1 != nil:
		rep.Fingerprint = certFingerprint(c1)
	}
	if ch, err := signer.ReadChannel(path); err == nil {
		rep.Channel = ch
	}
	return rep
}

// VerifyCommand returns the verify command. It exits 1 unless both
// signature schemes verify.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify the v1 and v2 signatures of a package",
		ArgsUsage: "<package.apk>",
		Flags:     ReadOnlyFlags(),
		Action:    verifyAction,
	}
}

func verifyAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("package path required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for verify", 1)
	}
	path := c.Args().First()
	a, err := archive.Open(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(a)

	rep := verifyPackage(path, a)
	if err := r.Render(rep); err != nil {
		return err
	}
	if !rep.Verified() {
		return cli.Exit("", 1)
	}
	return nil
}

func certFingerprint(c *x509.Certificate) string {
	sum := sha256.Sum256(c.Raw)
	return hex.EncodeToString(sum[:])
}

func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, "", fmt.Errorf("package not found: %s", path)
		}
		return 0, "", err
	}
	defer iox.DiscardClose(f)
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
