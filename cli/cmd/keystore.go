package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/modpatch/cli/render"
)

// KeystoreResponse describes the signing identity.
type KeystoreResponse struct {
	Path        string    `json:"path"`
	Subject     string    `json:"subject"`
	Fingerprint string    `json:"fingerprint"`
	NotAfter    time.Time `json:"not_after"`
	Created     bool      `json:"created"`
}

// KeystoreCommand returns the keystore command. "info" generates the
// identity when the keystore does not exist yet, like the first patch
// would.
func KeystoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "keystore",
		Usage: "Show the signing identity",
		Subcommands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "Show (and create if missing) the signing identity",
				Flags:  ReadOnlyFlags(),
				Action: keystoreInfoAction,
			},
		},
	}
}

func keystoreInfoAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for keystore", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	ks := keyStore(cfg)
	id, created, err := ks.LoadOrCreate()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(KeystoreResponse{
		Path:        ks.Path,
		Subject:     id.Certificate.Subject.CommonName,
		Fingerprint: id.Fingerprint(),
		NotAfter:    id.Certificate.NotAfter.UTC(),
		Created:     created,
	})
}
