// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	cfg "github.com/toeirei/drivecfg/internal/config"
	"github.com/toeirei/drivecfg/internal/options"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, cfg.FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "update_channel: beta\npac_timeout: 5s\nproxy_server: http://file:3128\ngui_theme: dark\ndatabase:\n  type: sqlite\n")
	t.Setenv("DRIVECFG_LOG_LEVEL_FILE", "debug")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("proxy-server", "", "")
	cmd.Flags().Bool("retry-broken-migration", false, "")
	cmd.Flags().String("config", "", "")
	if err := cmd.Flags().Parse([]string{"--proxy-server=http://cli:8080", "--retry-broken-migration", "--config="}); err != nil {
		t.Fatal(err)
	}

	opts := options.New()
	used, err := cfg.Load(cmd, root, "", opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if used != filepath.Join(root, cfg.FileName) {
		t.Fatalf("config file used = %q", used)
	}

	checks := []struct {
		name   string
		value  any
		setter options.Setter
	}{
		{options.OptUpdateChannel, "beta", options.SetterLocal},
		{options.OptPACTimeout, 5 * time.Second, options.SetterLocal},
		{options.OptLogLevelFile, "debug", options.SetterLocal},
		{options.OptProxyServer, "http://cli:8080", options.SetterCLI},
		{options.OptRetryBrokenMigration, true, options.SetterCLI},
		{options.OptLocale, "en", options.SetterDefault},
	}
	for _, c := range checks {
		if got := opts.Get(c.name); got != c.value {
			t.Errorf("%s = %v, want %v", c.name, got, c.value)
		}
		if got := opts.Source(c.name); got != c.setter {
			t.Errorf("%s source = %s, want %s", c.name, got, c.setter)
		}
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	opts := options.New()
	used, err := cfg.Load(nil, t.TempDir(), "", opts)
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if used != "" {
		t.Fatalf("used = %q", used)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "update_channel: nightly\n")
	if _, err := cfg.Load(nil, root, "", options.New()); !errors.Is(err, options.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(path, []byte("locale: fr\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	opts := options.New()
	if _, err := cfg.Load(nil, t.TempDir(), path, opts); err != nil {
		t.Fatal(err)
	}
	if got := opts.String(options.OptLocale); got != "fr" {
		t.Fatalf("locale = %q", got)
	}
}

func TestWriteConfigFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nested", cfg.FileName)

	src := options.New()
	_, _ = src.Set(options.OptUpdateChannel, "release", options.SetterManual)
	f := cfg.FileFromOptions(src)
	if err := cfg.WriteConfigFile(&f, path, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cfg.WriteConfigFile(&f, path, false); !errors.Is(err, os.ErrExist) {
		t.Fatalf("second write without overwrite: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}

	dst := options.New()
	if _, err := cfg.Load(nil, filepath.Dir(path), "", dst); err != nil {
		t.Fatalf("load written file: %v", err)
	}
	if got := dst.String(options.OptUpdateChannel); got != "release" {
		t.Fatalf("update_channel = %q", got)
	}
	if got := dst.Duration(options.OptPACTimeout); got != 2*time.Second {
		t.Fatalf("pac_timeout = %s", got)
	}
}
