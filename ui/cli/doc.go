// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli implements the drivecfg command line using Cobra. It feeds
// flags and the configuration file into the option set, starts a manager
// for the commands that need the store and reports fatal startup errors.
// Business logic stays in the internal packages.
package cli
