package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pithecene-io/modpatch/adapter"
	"github.com/pithecene-io/modpatch/adapter/redis"
	"github.com/pithecene-io/modpatch/adapter/webhook"
	"github.com/pithecene-io/modpatch/cli/config"
	"github.com/pithecene-io/modpatch/download"
	"github.com/pithecene-io/modpatch/installlog"
	"github.com/pithecene-io/modpatch/signer"
	"github.com/pithecene-io/modpatch/steps"
)

// openStore opens the install log store selected by cfg.
func openStore(ctx context.Context, cfg *config.Config) (*installlog.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		bucket, prefix := installlog.ParseS3Path(cfg.Storage.Path)
		return installlog.NewS3(ctx, installlog.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Storage.Region,
			Endpoint:     cfg.Storage.Endpoint,
			UsePathStyle: cfg.Storage.S3PathStyle,
		})
	default:
		return installlog.NewFS(cfg.Storage.Path)
	}
}

// openAdapter builds the notification adapter, or nil when none is
// configured.
func openAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		a, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// installerFor returns the installer for method, or nil for "none".
func installerFor(method string, cfg *config.Config, output, serial string) (steps.Installer, error) {
	switch method {
	case config.InstallCopy:
		if output == "" {
			output = cfg.Install.Output
		}
		if output == "" {
			return nil, fmt.Errorf("copy install requires --output or install.output")
		}
		return steps.CopyInstaller{Dest: output}, nil
	case config.InstallADB:
		if serial == "" {
			serial = cfg.Install.Serial
		}
		return steps.ADBInstaller{Path: cfg.Install.ADBPath, Serial: serial}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid install method %q (must be copy, adb, or none)", method)
	}
}

func keyStore(cfg *config.Config) signer.KeyStore {
	return signer.KeyStore{
		Path:     cfg.Keystore.Path,
		Password: cfg.Keystore.Password,
		Subject:  cfg.Keystore.Subject,
	}
}

func openCache(cfg *config.Config) (*download.Cache, error) {
	return download.OpenCache(cfg.CacheDir)
}

// newFetcher applies download.timeout as the response header timeout.
// Bodies are bounded by the attempt context only.
func newFetcher(cfg *config.Config) *download.HTTPFetcher {
	f := download.NewHTTPFetcher()
	if t, ok := f.Client.Transport.(*http.Transport); ok && cfg.Download.Timeout.Duration > 0 {
		t.ResponseHeaderTimeout = cfg.Download.Timeout.Duration
	}
	return f
}
