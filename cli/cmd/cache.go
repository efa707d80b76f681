package cmd

import (
	"maps"
	"slices"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/modpatch/cli/render"
)

// CacheEntry is one row of cache list.
type CacheEntry struct {
	Key       string    `json:"key"`
	Version   string    `json:"version"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CacheCommand returns the cache command with subcommands.
func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage downloaded artifacts",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List cached artifacts",
				Flags:  ReadOnlyFlags(),
				Action: cacheListAction,
			},
			{
				Name:      "clear",
				Usage:     "Remove cached artifacts (all when no key is given)",
				ArgsUsage: "[key...]",
				Action:    cacheClearAction,
			},
		},
	}
}

func cacheListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for cache list", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	entries := cache.Entries()
	out := make([]CacheEntry, 0, len(entries))
	for _, k := range slices.Sorted(maps.Keys(entries)) {
		e := entries[k]
		out = append(out, CacheEntry{Key: k, Version: e.Version, Size: e.Size, SHA256: e.SHA256, FetchedAt: e.FetchedAt})
	}
	return r.Render(out)
}

func cacheClearAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	keys := c.Args().Slice()
	if len(keys) == 0 {
		keys = slices.Collect(maps.Keys(cache.Entries()))
	}
	for _, k := range keys {
		if err := cache.Remove(k); err != nil {
			return err
		}
	}
	return nil
}
