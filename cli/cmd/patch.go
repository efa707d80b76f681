package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/modpatch/adapter"
	"github.com/pithecene-io/modpatch/cli/config"
	"github.com/pithecene-io/modpatch/cli/render"
	"github.com/pithecene-io/modpatch/cli/tui"
	"github.com/pithecene-io/modpatch/download"
	"github.com/pithecene-io/modpatch/installlog"
	"github.com/pithecene-io/modpatch/log"
	"github.com/pithecene-io/modpatch/metrics"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/signer"
	"github.com/pithecene-io/modpatch/steps"
	"github.com/pithecene-io/modpatch/types"
)

// PatchCommand returns the patch command, the only command that writes
// packages.
func PatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "patch",
		Usage: "Patch, sign and install the base package",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "package",
				Aliases: []string{"p"},
				Usage:   "Application identifier of the patched app",
			},
			&cli.StringFlag{
				Name:    "app-name",
				Aliases: []string{"n"},
				Usage:   "Launcher label of the patched app",
			},
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Remote build channel (default from config)",
			},
			&cli.BoolFlag{
				Name:  "debuggable",
				Usage: "Mark the application debuggable",
			},
			&cli.StringFlag{
				Name:  "icon",
				Usage: "PNG replacing the launcher icon",
			},
			&cli.StringFlag{
				Name:  "icon-background",
				Usage: "Adaptive icon background as #AARRGGBB or #RRGGBB",
			},
			&cli.StringFlag{
				Name:  "reuse",
				Usage: "Reuse the options recorded in a previously patched package",
			},
			&cli.StringFlag{
				Name:  "base",
				Usage: "Local base package (default: download from the remote)",
			},
			&cli.StringFlag{
				Name:  "info-url",
				Usage: "Remote info document URL (default: <remote.url>/<channel>/info.json)",
			},
			&cli.StringFlag{
				Name:  "install",
				Usage: "Install method: copy, adb, none (default from config)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Destination of the signed package for copy installs",
			},
			&cli.StringFlag{
				Name:  "serial",
				Usage: "adb device serial",
			},
			&cli.BoolFlag{
				Name:  "keep-work",
				Usage: "Keep the work directory after the attempt",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write JSON logs to stderr",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress progress and result output",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Follow the attempt in an interactive progress view",
			},
		},
		Action: patchAction,
	}
}

func patchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	opts, err := patchOptions(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	method := c.String("install")
	if method == "" {
		method = cfg.Install.Method
	}
	installer, err := installerFor(method, cfg, c.String("output"), c.String("serial"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	infoURL := c.String("info-url")
	if infoURL == "" {
		if cfg.Remote.URL == "" {
			return cli.Exit("remote.url is not configured; set it or pass --info-url", exitError)
		}
		infoURL = cfg.Remote.InfoURL(opts.Channel)
	}

	cache, err := openCache(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	attemptID := uuid.NewString()
	var logOut io.Writer
	if c.Bool("log-json") {
		logOut = os.Stderr
	}
	logger := log.NewLoggerWithWriter(attemptID, logOut)
	defer logger.Sync()
	m := metrics.NewCollector(attemptID, cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	quiet, useTUI := c.Bool("quiet"), c.Bool("tui")
	var bar *progressbar.ProgressBar
	if !quiet && !useTUI && render.IsTTY(os.Stderr) {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
	}

	plan, err := steps.NewPlan(steps.Config{
		Options:      opts,
		BaseAPK:      c.String("base"),
		InfoURL:      infoURL,
		MinFreeBytes: cfg.MinFreeMB << 20,
		Fetcher:      newFetcher(cfg),
		Cache:        cache,
		Parallelism:  cfg.Download.Parallelism,
		Progress:     barProgress(bar),
		Identity:     signer.NewLazyIdentity(keyStore(cfg)),
		Installer:    installer,
		KeepWorkDir:  c.Bool("keep-work"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer func() { _ = plan.Close() }()

	optionsOf := func() types.PatchOptions { return opts }
	var hooks []pipeline.CompletionHook
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Warn("install log disabled", map[string]any{"error": err.Error()})
	} else {
		hooks = append(hooks, &installlog.Recorder{Store: store.WithMetrics(m), Options: optionsOf, Versions: plan.Versions})
	}
	ad, err := openAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if ad != nil {
		defer func() { _ = ad.Close() }()
		hooks = append(hooks, &adapter.Notifier{Adapter: ad, Metrics: m, Options: optionsOf, Versions: plan.Versions})
	}

	container := &pipeline.Container{
		AttemptID:   attemptID,
		WorkDir:     filepath.Join(cfg.WorkDir, attemptID),
		KeepWorkDir: c.Bool("keep-work"),
		Logger:      logger,
		Metrics:     m,
	}
	updates := make(chan pipeline.Snapshot, 16)
	var initial pipeline.Snapshot
	var sup pipeline.Supervisor
	att, err := sup.Start(ctx, func() (*pipeline.Runner, error) {
		r := pipeline.NewRunner(container, plan.Steps()...).OnComplete(hooks...)
		switch {
		case useTUI:
			r.Observe(tui.Feed(updates))
		case !quiet:
			r.Observe(newStepPrinter(os.Stderr, bar).observe)
		}
		initial = r.Snapshot()
		return r, nil
	})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	var res *pipeline.Result
	if useTUI {
		res, err = tui.RunProgress(att, initial, updates)
	} else {
		res, err = att.Wait()
	}
	if bar != nil {
		_ = bar.Exit()
	}
	if !quiet && res != nil {
		printPatchResult(os.Stdout, res, plan)
	}
	if err != nil && !quiet {
		return cli.Exit(fmt.Sprintf("patch failed: %v", err), exitCode(err))
	}
	return cli.Exit("", exitCode(err))
}

// patchOptions merges --reuse metadata, flags and config. Flags win.
func patchOptions(c *cli.Context, cfg *config.Config) (types.PatchOptions, error) {
	var opts types.PatchOptions
	if p := c.String("reuse"); p != "" {
		meta, err := steps.ReadMetadata(p)
		if err != nil {
			return opts, fmt.Errorf("reuse: %w", err)
		}
		opts = meta.Options
	}
	if c.IsSet("package") {
		opts.PackageName = c.String("package")
	}
	if c.IsSet("app-name") {
		opts.AppName = c.String("app-name")
	}
	if c.IsSet("channel") {
		opts.Channel = c.String("channel")
	}
	if opts.Channel == "" {
		opts.Channel = cfg.Remote.Channel
	}
	if c.IsSet("debuggable") {
		opts.Debuggable = c.Bool("debuggable")
	}
	if c.IsSet("icon") {
		opts.IconPath = c.String("icon")
	}
	if c.IsSet("icon-background") {
		argb, err := parseARGB(c.String("icon-background"))
		if err != nil {
			return opts, err
		}
		opts.IconBackground = argb
	}
	return opts, opts.Validate()
}

// parseARGB parses #AARRGGBB, #RRGGBB (opaque) or the same with 0x.
func parseARGB(s string) (uint32, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "#"), "0x")
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil || (len(h) != 6 && len(h) != 8) {
		return 0, fmt.Errorf("invalid color %q (want #AARRGGBB or #RRGGBB)", s)
	}
	if len(h) == 6 {
		v |= 0xff000000
	}
	return uint32(v), nil
}

// barProgress feeds per-artifact progress into bar as one byte count.
func barProgress(bar *progressbar.ProgressBar) download.Progress {
	if bar == nil {
		return nil
	}
	var agg aggregate
	return func(key string, done, total int64) {
		d, t := agg.report(key, done, total)
		if t > 0 {
			bar.ChangeMax64(t)
		}
		_ = bar.Set64(d)
	}
}

// stepPrinter prints one line per finished step.
type stepPrinter struct {
	w       io.Writer
	bar     *progressbar.ProgressBar
	printed map[string]bool
}

func newStepPrinter(w io.Writer, bar *progressbar.ProgressBar) *stepPrinter {
	return &stepPrinter{w: w, bar: bar, printed: make(map[string]bool)}
}

func (p *stepPrinter) observe(s pipeline.Snapshot) {
	for _, st := range s.Steps {
		if !st.State.Terminal() || p.printed[st.Name] {
			continue
		}
		p.printed[st.Name] = true
		if p.bar != nil && st.Name == "download" {
			_ = p.bar.Clear()
		}
		line := fmt.Sprintf("%-8s %-16s %s", st.State, st.Name, time.Duration(st.DurationMs)*time.Millisecond)
		if st.Detail != "" {
			line += "  " + st.Detail
		}
		_, _ = fmt.Fprintln(p.w, line)
	}
}

func printPatchResult(w io.Writer, res *pipeline.Result, plan *steps.Plan) {
	v := plan.Versions()
	_, _ = fmt.Fprintf(w, "\nattempt_id=%s, outcome=%s, duration=%s\n",
		res.AttemptID, res.Outcome.Status, res.Duration.Round(time.Millisecond))
	if v.Base != "" || v.Injector != "" {
		_, _ = fmt.Fprintf(w, "base=%s, injector=%s\n", v.Base, v.Injector)
	}
	if res.Outcome.Status == types.OutcomeError {
		_, _ = fmt.Fprintf(w, "failed step: %s (%s)\n", res.Outcome.Step, res.Outcome.Kind)
	}
	s := res.Metrics
	_, _ = fmt.Fprintf(w, "steps: %d succeeded, %d skipped, %d failed; cache: %d hits, %d misses; %d bytes downloaded\n",
		s.StepsSucceeded, s.StepsSkipped, s.StepsFailed, s.CacheHits, s.CacheMisses, s.BytesDownloaded)
}

// aggregate sums per-artifact byte counts. A total is known only once
// every reporting artifact has announced its size.
type aggregate struct {
	mu    sync.Mutex
	done  map[string]int64
	total map[string]int64
}

func (a *aggregate) report(key string, done, total int64) (d, t int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		a.done, a.total = make(map[string]int64), make(map[string]int64)
	}
	a.done[key], a.total[key] = done, total
	for k, n := range a.total {
		d += a.done[k]
		if n <= 0 || t < 0 {
			t = -1
			continue
		}
		t += n
	}
	return d, t
}
