// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package manager

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"syscall"
)

// ErrNoAssociation may be returned (or wrapped) by an Opener when no
// application handles the file.
var ErrNoAssociation = errors.New("no associated application")

// NoAssociatedSoftwareError is returned by OpenLocalFile when the OS has no
// handler for the file.
type NoAssociatedSoftwareError struct {
	Path string
}

func (e *NoAssociatedSoftwareError) Error() string {
	return fmt.Sprintf("no application is associated with %q", e.Path)
}

// Opener opens a file with the default handler of the host.
type Opener interface {
	Open(path string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) error

// Open implements Opener.
func (f OpenerFunc) Open(path string) error { return f(path) }

// errorNoAssociation is ERROR_NO_ASSOCIATION on Windows.
const errorNoAssociation = syscall.Errno(1155)

// OSOpener runs the desktop handler of the current OS.
type OSOpener struct{}

// Open implements Opener.
func (OSOpener) Open(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if isNoAssociation(err) {
			return fmt.Errorf("%w: %s", ErrNoAssociation, out)
		}
		return fmt.Errorf("%s %s: %w: %s", cmd.Path, path, err, out)
	}
	return nil
}

// isNoAssociation recognises the "no handler" failures of the platform
// openers: Windows error 1155, xdg-open exit status 3 (no tool) or 4
// (action failed), and the exit status 1 `open` uses when no application
// claims the file.
func isNoAssociation(err error) bool {
	if errors.Is(err, ErrNoAssociation) || errors.Is(err, errorNoAssociation) {
		return true
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	switch runtime.GOOS {
	case "windows":
		return ee.ExitCode() == int(errorNoAssociation)
	case "darwin":
		return ee.ExitCode() == 1
	default:
		return ee.ExitCode() == 3 || ee.ExitCode() == 4
	}
}
