package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/modpatch/cli/render"
	"github.com/pithecene-io/modpatch/cli/tui"
	"github.com/pithecene-io/modpatch/installlog"
	"github.com/pithecene-io/modpatch/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// LogsCommand returns the logs command with subcommands. Logs are
// read-only.
func LogsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Browse install logs of past attempts",
		Subcommands: []*cli.Command{
			logsListCommand(),
			logsShowCommand(),
			logsStatsCommand(),
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "package",
			Usage: "Filter by application identifier",
		},
		&cli.StringFlag{
			Name:  "status",
			Usage: "Filter by outcome: success, error",
		},
	}
}

func filterOf(c *cli.Context) (installlog.Filter, error) {
	f := installlog.Filter{
		Package: c.String("package"),
		Status:  types.OutcomeStatus(c.String("status")),
		Limit:   c.Int("limit"),
	}
	switch f.Status {
	case "", types.OutcomeSuccess, types.OutcomeError:
		return f, nil
	default:
		return f, fmt.Errorf("invalid status %q (must be success or error)", f.Status)
	}
}

func logsListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List attempts, newest first",
		Flags: append(append(ReadOnlyFlags(), filterFlags()...),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of attempts to return (0 = no limit)",
			},
		),
		Action: logsListAction,
	}
}

func logsListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for logs list", 1)
	}
	f, err := filterOf(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	store, err := storeFor(c)
	if err != nil {
		return err
	}
	results, err := store.List(c.Context, f)
	if err != nil {
		return err
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(results) > listWarningThreshold && f.Limit == 0 && render.IsTTY(os.Stderr) {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
	}
	return r.Render(results)
}

func logsShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one attempt with its transcript",
		ArgsUsage: "<attempt-id>",
		Flags:     ReadOnlyFlags(),
		Action:    logsShowAction,
	}
}

func logsShowAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("attempt-id required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	store, err := storeFor(c)
	if err != nil {
		return err
	}
	rec, err := store.Get(c.Context, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.Bool("tui") {
		return tui.Run(tui.ViewLogShow, rec)
	}
	return r.Render(rec)
}

func logsStatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Summarize attempts",
		Flags:  append(ReadOnlyFlags(), filterFlags()[0]),
		Action: logsStatsAction,
	}
}

func logsStatsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	store, err := storeFor(c)
	if err != nil {
		return err
	}
	sums, err := store.List(c.Context, installlog.Filter{Package: c.String("package")})
	if err != nil {
		return err
	}
	st := installlog.Summarize(sums)
	if c.Bool("tui") {
		return tui.Run(tui.ViewLogStats, &st)
	}
	return r.Render(st)
}

func storeFor(c *cli.Context) (*installlog.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	return openStore(c.Context, cfg)
}
