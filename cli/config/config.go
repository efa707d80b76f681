package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents a modpatch.yaml file. Values act as defaults for
// command flags; flags always override them.
type Config struct {
	WorkDir   string         `yaml:"work_dir"`
	CacheDir  string         `yaml:"cache_dir"`
	MinFreeMB int64          `yaml:"min_free_mb"`
	Keystore  KeystoreConfig `yaml:"keystore"`
	Remote    RemoteConfig   `yaml:"remote"`
	Download  DownloadConfig `yaml:"download"`
	Install   InstallConfig  `yaml:"install"`
	Storage   StorageConfig  `yaml:"storage"`
	Adapter   AdapterConfig  `yaml:"adapter"`
}

// KeystoreConfig locates the signing keystore.
type KeystoreConfig struct {
	Path     string `yaml:"path"`
	Password string `yaml:"password"`
	Subject  string `yaml:"subject"`
}

// RemoteConfig locates the remote info documents.
type RemoteConfig struct {
	// URL is the base URL; info lives at <url>/<channel>/info.json.
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// InfoURL returns the info document URL for channel, or the configured
// channel when channel is empty.
func (r RemoteConfig) InfoURL(channel string) string {
	if channel == "" {
		channel = r.Channel
	}
	return strings.TrimSuffix(r.URL, "/") + "/" + channel + "/info.json"
}

// DownloadConfig tunes artifact downloads.
type DownloadConfig struct {
	Parallelism int      `yaml:"parallelism"`
	Timeout     Duration `yaml:"timeout"`
}

// Install methods.
const (
	InstallCopy = "copy"
	InstallADB  = "adb"
)

// InstallConfig selects how the signed package is delivered.
type InstallConfig struct {
	Method  string `yaml:"method"`
	Output  string `yaml:"output"`
	ADBPath string `yaml:"adb_path"`
	Serial  string `yaml:"serial"`
}

// Storage backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// StorageConfig holds install log storage settings.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter settings. An empty Type
// disables notifications.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is present. Paths
// live under the user cache directory.
func Default() *Config {
	base := filepath.Join(os.TempDir(), "modpatch")
	if dir, err := os.UserCacheDir(); err == nil {
		base = filepath.Join(dir, "modpatch")
	}
	return &Config{
		WorkDir:   filepath.Join(base, "work"),
		CacheDir:  base,
		MinFreeMB: 500,
		Keystore:  KeystoreConfig{Path: filepath.Join(base, "keystore.p12")},
		Remote:    RemoteConfig{Channel: "stable"},
		Install:   InstallConfig{Method: InstallCopy},
		Storage:   StorageConfig{Backend: BackendFS, Path: filepath.Join(base, "logs")},
	}
}

// Validate checks enumerated values and required pairs.
func (c *Config) Validate() error {
	var errs []error
	if c.MinFreeMB < 0 {
		errs = append(errs, fmt.Errorf("min_free_mb must be >= 0, got %d", c.MinFreeMB))
	}
	if c.Download.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("download.parallelism must be >= 0, got %d", c.Download.Parallelism))
	}
	switch c.Install.Method {
	case "", InstallCopy, InstallADB:
	default:
		errs = append(errs, fmt.Errorf("install.method must be %q or %q, got %q", InstallCopy, InstallADB, c.Install.Method))
	}
	switch c.Storage.Backend {
	case "", BackendFS:
	case BackendS3:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path (bucket[/prefix]) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendFS, BackendS3, c.Storage.Backend))
	}
	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	return errors.Join(errs...)
}
