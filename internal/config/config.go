// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config feeds the local configuration file, the environment and
// the command line flags into the option set, each with its provenance.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/toeirei/drivecfg/internal/options"
)

// FileName is the local configuration file looked up in the configuration
// root and in the working directory.
const FileName = "drivecfg.yaml"

// EnvPrefix prefixes the environment variables, e.g. DRIVECFG_PROXY_SERVER.
const EnvPrefix = "drivecfg"

// DefaultHome returns the configuration root used when none is given.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, ".drivecfg"), nil
}

// Load reads the configuration file (explicit when non-empty, otherwise
// drivecfg.yaml in root or the working directory) and the environment into
// opts with setter local, then every flag changed on cmd with setter cli.
// It returns the file used, if any. Unknown file keys are ignored.
func Load(cmd *cobra.Command, root, explicit string, opts *options.Options) (string, error) {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
	}
	if root != "" {
		v.AddConfigPath(root)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return "", fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for name := range options.Defaults() {
		if err := v.BindEnv(name); err != nil {
			return "", err
		}
	}

	local := map[string]any{}
	for _, k := range v.AllKeys() {
		if v.IsSet(k) && v.Get(k) != nil {
			local[k] = v.Get(k)
		}
	}
	if err := opts.Update(local, options.SetterLocal, true); err != nil {
		return v.ConfigFileUsed(), fmt.Errorf("config %s: %w", v.ConfigFileUsed(), err)
	}

	if cmd == nil {
		return v.ConfigFileUsed(), nil
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return v.ConfigFileUsed(), err
	}
	var errs []error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if _, err := opts.Set(f.Name, v.Get(f.Name), options.SetterCLI); err != nil && !errors.Is(err, options.ErrUnknownOption) {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return v.ConfigFileUsed(), errors.Join(errs...)
}

// File is the layout of drivecfg.yaml.
type File struct {
	LogLevelConsole string   `yaml:"log_level_console"`
	LogLevelFile    string   `yaml:"log_level_file"`
	Locale          string   `yaml:"locale"`
	UpdateChannel   string   `yaml:"update_channel"`
	ProxyServer     string   `yaml:"proxy_server,omitempty"`
	PACTimeout      string   `yaml:"pac_timeout"`
	Database        Database `yaml:"database"`
}

// Database selects the store backend.
type Database struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn,omitempty"`
}

// FileFromOptions captures the current option values in file form.
func FileFromOptions(o *options.Options) File {
	return File{
		LogLevelConsole: o.String(options.OptLogLevelConsole),
		LogLevelFile:    o.String(options.OptLogLevelFile),
		Locale:          o.String(options.OptLocale),
		UpdateChannel:   o.String(options.OptUpdateChannel),
		ProxyServer:     o.String(options.OptProxyServer),
		PACTimeout:      o.Duration(options.OptPACTimeout).String(),
		Database: Database{
			Type: o.String(options.OptDatabaseType),
			DSN:  o.String(options.OptDatabaseDSN),
		},
	}
}

// WriteConfigFile writes c as YAML to path, creating the directory. An
// existing file is only replaced when overwrite is set.
func WriteConfigFile[T any](c *T, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, os.ErrExist)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	// 0600: the file may hold a proxy URL with credentials.
	return os.WriteFile(path, data, 0o600)
}
