// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n translates the user-visible messages of the command line.
// Translations are YAML files embedded from locales/.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	lang      string
	available []string
)

// Init loads every embedded locale and selects lang. Unknown languages fall
// back to English.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()

	if bundle == nil {
		bundle = i18n.NewBundle(language.English)
		bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)
		files, _ := fs.ReadDir(localeFS, "locales")
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			data, err := localeFS.ReadFile("locales/" + f.Name())
			if err != nil {
				continue
			}
			if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
				continue
			}
			available = append(available, strings.TrimSuffix(f.Name(), ".yaml"))
		}
		sort.Strings(available)
	}
	lang = l
	localizer = i18n.NewLocalizer(bundle, l, language.English.String())
}

// SetLang changes the active language.
func SetLang(l string) { Init(l) }

// GetLang returns the language passed to the last Init.
func GetLang() string {
	mu.RLock()
	defer mu.RUnlock()
	return lang
}

// Available lists the embedded locales.
func Available() []string {
	if GetLang() == "" {
		Init("en")
	}
	mu.RLock()
	defer mu.RUnlock()
	return append([]string(nil), available...)
}

// T translates messageID. A single map argument is used as template data;
// other arguments are applied with fmt.Sprintf to the translation. Unknown
// IDs translate to themselves.
func T(messageID string, args ...any) string {
	if GetLang() == "" {
		Init("en")
	}
	mu.RLock()
	loc := localizer
	mu.RUnlock()

	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(args) == 1 {
		if data, ok := args[0].(map[string]any); ok {
			cfg.TemplateData = data
			args = nil
		}
	}
	msg, err := loc.Localize(cfg)
	if err != nil {
		msg = messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
