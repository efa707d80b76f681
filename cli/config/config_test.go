package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("MODPATCH_KS_PASS", "s3cret")
	yaml := `work_dir: /tmp/mp/work
cache_dir: /tmp/mp
min_free_mb: 750

keystore:
  path: /tmp/mp/ks.p12
  password: ${MODPATCH_KS_PASS}
  subject: My Mods

remote:
  url: https://builds.example.com/mod/
  channel: beta

download:
  parallelism: 4
  timeout: 45s

install:
  method: adb
  adb_path: /opt/platform-tools/adb
  serial: emulator-5554

storage:
  backend: s3
  path: my-bucket/modpatch
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/modpatch
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "work_dir", cfg.WorkDir, "/tmp/mp/work")
	if cfg.MinFreeMB != 750 {
		t.Errorf("min_free_mb = %d", cfg.MinFreeMB)
	}
	assertEqual(t, "keystore.password", cfg.Keystore.Password, "s3cret")
	assertEqual(t, "keystore.subject", cfg.Keystore.Subject, "My Mods")
	assertEqual(t, "remote.info", cfg.Remote.InfoURL(""), "https://builds.example.com/mod/beta/info.json")
	assertEqual(t, "remote.info override", cfg.Remote.InfoURL("stable"), "https://builds.example.com/mod/stable/info.json")
	if cfg.Download.Parallelism != 4 || cfg.Download.Timeout.Duration != 45*time.Second {
		t.Errorf("download = %+v", cfg.Download)
	}
	assertEqual(t, "install.method", cfg.Install.Method, InstallADB)
	assertEqual(t, "install.serial", cfg.Install.Serial, "emulator-5554")
	assertEqual(t, "storage.backend", cfg.Storage.Backend, BackendS3)
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/modpatch")
	if !cfg.Storage.S3PathStyle {
		t.Error("expected storage.s3_path_style=true")
	}
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Error("expected adapter.retries=3")
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Error("expected Authorization header")
	}
}

func TestLoad_DefaultsKept(t *testing.T) {
	cfg, err := Load(writeTemp(t, "keystore:\n  password: pw\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	assertEqual(t, "keystore.path", cfg.Keystore.Path, def.Keystore.Path)
	assertEqual(t, "keystore.password", cfg.Keystore.Password, "pw")
	assertEqual(t, "remote.channel", cfg.Remote.Channel, "stable")
	assertEqual(t, "storage.backend", cfg.Storage.Backend, BackendFS)
	if cfg.MinFreeMB != def.MinFreeMB {
		t.Errorf("min_free_mb = %d", cfg.MinFreeMB)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "install.method", cfg.Install.Method, InstallCopy)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "{{invalid yaml", "invalid YAML"},
		{"unknown key", "work_dri: /tmp\n", "work_dri"},
		{"bad duration", "download:\n  timeout: soon\n", "invalid duration"},
		{"bad install method", "install:\n  method: sideload\n", "install.method"},
		{"s3 without path", "storage:\n  backend: s3\n  path: \"\"\n", "storage.path"},
		{"bad backend", "storage:\n  backend: gcs\n", "storage.backend"},
		{"adapter without url", "adapter:\n  type: redis\n", "adapter.url"},
		{"bad adapter", "adapter:\n  type: sqs\n  url: x\n", "adapter.type"},
		{"negative free space", "min_free_mb: -1\n", "min_free_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/modpatch.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)

	if got := Find(); got != "" {
		t.Errorf("Find() = %q, want none", got)
	}
	if err := os.WriteFile(FileName, []byte("min_free_mb: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := Find(); got != FileName {
		t.Errorf("Find() = %q, want %q", got, FileName)
	}
}
