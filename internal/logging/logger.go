// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging holds the process logger. Console output goes to stderr,
// and once Setup has run a rotating log file below the configuration root
// receives the same records at its own level.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	clog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// L is the console logger. Callers should use the helper functions below,
// which also feed the log file once Setup has configured one.
var L = clog.New(os.Stderr)

var (
	mu      sync.Mutex
	file    *lumberjack.Logger
	fileLog *clog.Logger
)

// LogFileName is the log file created below `<root>/logs`.
const LogFileName = "drivecfg.log"

// Config drives Setup.
type Config struct {
	Root         string
	ConsoleLevel string
	FileLevel    string
	// Console, when nil, defaults to os.Stderr.
	Console io.Writer
}

// Setup points the console logger at cfg.Console and, when cfg.Root is set,
// opens a size-rotated file in `<root>/logs` with a logger of its own. Each
// sink filters records at its own level. L is also installed as the
// charmbracelet default logger.
func Setup(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	if file != nil {
		_ = file.Close()
		file, fileLog = nil, nil
	}

	if cfg.Root != "" {
		dir := filepath.Join(cfg.Root, "logs")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(dir, LogFileName),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		fileLog = clog.NewWithOptions(file, clog.Options{
			ReportTimestamp: true,
			Level:           parseLevel(cfg.FileLevel, clog.InfoLevel),
		})
	}

	L = clog.NewWithOptions(console, clog.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.ConsoleLevel, clog.WarnLevel),
	})
	clog.SetDefault(L)
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file, fileLog = nil, nil
	return err
}

func parseLevel(s string, def clog.Level) clog.Level {
	if strings.TrimSpace(s) == "" {
		return def
	}
	lvl, err := clog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return def
	}
	return lvl
}

func emit(lvl clog.Level, msg string) {
	L.Log(lvl, msg)
	mu.Lock()
	defer mu.Unlock()
	if fileLog != nil {
		fileLog.Log(lvl, msg)
	}
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	emit(clog.DebugLevel, fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	emit(clog.InfoLevel, fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	emit(clog.WarnLevel, fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	emit(clog.ErrorLevel, fmt.Sprintf(format, v...))
}
