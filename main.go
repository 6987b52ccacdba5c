// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for drivecfg.
//
// Usage:
//
//	go run . [flags] [command]
//	./drivecfg [flags] [command]
//
// See --help for options. The process exits with 2 when the configuration
// store could not be migrated and with 1 on any other fatal error.
package main

import (
	"os"

	"github.com/toeirei/drivecfg/ui/cli"
)

func main() {
	os.Exit(cli.Execute())
}
