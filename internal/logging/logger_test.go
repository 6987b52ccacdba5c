// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// TestLoggingHelpers_WriteToBuffer verifies the package helper functions write
// formatted messages to the package-level logger `L`. The test swaps `L` with
// a buffer-backed logger and restores it afterwards.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")

	out := buf.String()
	for _, want := range []string{"hello dbg", "info 1", "warn", "err E"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output; got: %s", want, out)
		}
	}
}

func TestSetup_SplitsConsoleAndFileLevels(t *testing.T) {
	root := t.TempDir()
	var console bytes.Buffer
	prev := L
	defer func() {
		_ = Close()
		L = prev
		clog.SetDefault(prev)
	}()

	if err := Setup(Config{Root: root, ConsoleLevel: "warn", FileLevel: "debug", Console: &console}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Debugf("only in file")
	Warnf("everywhere")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if strings.Contains(console.String(), "only in file") {
		t.Fatalf("debug record leaked to console: %s", console.String())
	}
	if !strings.Contains(console.String(), "everywhere") {
		t.Fatalf("warn record missing from console: %s", console.String())
	}
	data, err := os.ReadFile(filepath.Join(root, "logs", LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "only in file") || !strings.Contains(string(data), "everywhere") {
		t.Fatalf("log file missing records: %s", data)
	}
}

func TestSetup_LevelComesFromRecordNotMessage(t *testing.T) {
	root := t.TempDir()
	var console bytes.Buffer
	prev := L
	defer func() {
		_ = Close()
		L = prev
		clog.SetDefault(prev)
	}()

	if err := Setup(Config{Root: root, ConsoleLevel: "warn", FileLevel: "info", Console: &console}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Infof("WARNING users about something")
	Debugf("ERROR in a debug message")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if console.Len() != 0 {
		t.Fatalf("console should be empty: %s", console.String())
	}
	data, err := os.ReadFile(filepath.Join(root, "logs", LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "WARNING users about something") {
		t.Fatalf("info record missing from file: %s", data)
	}
	if strings.Contains(string(data), "ERROR in a debug message") {
		t.Fatalf("debug record leaked to file: %s", data)
	}

	// Without a file the helpers keep writing to the console.
	Warnf("after close")
	if !strings.Contains(console.String(), "after close") {
		t.Fatalf("console lost records after Close: %s", console.String())
	}
}

func TestParseLevel_Default(t *testing.T) {
	if got := parseLevel("", clog.WarnLevel); got != clog.WarnLevel {
		t.Fatalf("expected default level, got %v", got)
	}
	if got := parseLevel("nonsense", clog.InfoLevel); got != clog.InfoLevel {
		t.Fatalf("expected default on parse error, got %v", got)
	}
	if got := parseLevel("DEBUG", clog.InfoLevel); got != clog.DebugLevel {
		t.Fatalf("expected debug, got %v", got)
	}
}
