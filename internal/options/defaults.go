// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package options

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Option names.
const (
	OptHome                 = "home"
	OptProxyServer          = "proxy_server"
	OptLogLevelConsole      = "log_level_console"
	OptLogLevelFile         = "log_level_file"
	OptLocale               = "locale"
	OptFeatureAutoUpdate    = "feature_auto_update"
	OptBrokenUpdate         = "broken_update"
	OptUpdateChannel        = "update_channel"
	OptPACTimeout           = "pac_timeout"
	OptClientVersion        = "client_version"
	OptRetryBrokenMigration = "retry_broken_migration"
	OptDatabaseType         = "database_type"
	OptDatabaseDSN          = "database_dsn"
)

// MaxPACTimeout caps pac_timeout.
const MaxPACTimeout = 30 * time.Second

// Defaults returns the built-in value of every known option. The type of a
// default fixes the type of the option.
func Defaults() map[string]any {
	return map[string]any{
		OptHome:                 "",
		OptProxyServer:          "",
		OptLogLevelConsole:      "warn",
		OptLogLevelFile:         "info",
		OptLocale:               "en",
		OptFeatureAutoUpdate:    true,
		OptBrokenUpdate:         "",
		OptUpdateChannel:        "centralized",
		OptPACTimeout:           2 * time.Second,
		OptClientVersion:        "",
		OptRetryBrokenMigration: false,
		OptDatabaseType:         "sqlite",
		OptDatabaseDSN:          "",
	}
}

var (
	logLevels      = []string{"debug", "info", "warn", "error", "fatal"}
	updateChannels = []string{"centralized", "release", "beta", "alpha"}
	databaseTypes  = []string{"sqlite", "postgres", "mysql"}
)

func defaultCheckers() map[string]Checker {
	return map[string]Checker{
		OptLogLevelConsole: oneOf(logLevels, map[string]string{"warning": "warn", "critical": "fatal"}),
		OptLogLevelFile:    oneOf(logLevels, map[string]string{"warning": "warn", "critical": "fatal"}),
		OptUpdateChannel:   oneOf(updateChannels, nil),
		OptDatabaseType:    oneOf(databaseTypes, map[string]string{"postgresql": "postgres"}),
		OptPACTimeout: func(v any) (any, error) {
			d := v.(time.Duration)
			if d <= 0 || d > MaxPACTimeout {
				return nil, fmt.Errorf("must be within (0, %s]", MaxPACTimeout)
			}
			return d, nil
		},
	}
}

// oneOf accepts a case-insensitive member of allowed, after applying aliases.
func oneOf(allowed []string, aliases map[string]string) Checker {
	return func(v any) (any, error) {
		s := strings.ToLower(strings.TrimSpace(v.(string)))
		if a, ok := aliases[s]; ok {
			s = a
		}
		if !slices.Contains(allowed, s) {
			return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
		}
		return s, nil
	}
}
