package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/modpatch/types"
)

// NewApp assembles the modpatch CLI.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "modpatch",
		Usage:   "Patch, re-sign and install an Android package",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   []cli.Flag{ConfigFlag},
		Commands: []*cli.Command{
			PatchCommand(),
			InspectCommand(),
			VerifyCommand(),
			LogsCommand(),
			CacheCommand(),
			KeystoreCommand(),
			VersionCommand(commit),
		},
	}
}
