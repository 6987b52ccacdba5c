// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import "github.com/toeirei/drivecfg/internal/logging"

var storeDebugEnabled bool

// SetDebug enables or disables store debug logging. Disabled by default.
func SetDebug(enabled bool) {
	storeDebugEnabled = enabled
}

func dbLogf(format string, v ...any) {
	if storeDebugEnabled {
		logging.Infof("[DB] "+format, v...)
	}
}
