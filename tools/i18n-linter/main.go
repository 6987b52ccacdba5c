// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the translation keys used by the Go code against the
// YAML locale files. A key used in code but absent from the primary locale,
// or a primary key missing from another locale, fails the run. Keys of the
// primary locale that no code uses are reported as orphans.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
	projectRoot   = "."
)

// Report is the outcome of one lint run.
type Report struct {
	Used      map[string]struct{}
	Primary   map[string]struct{}
	Undefined []string            // used in code, absent from the primary locale
	Orphaned  []string            // in the primary locale, never used
	Missing   map[string][]string // locale file -> primary keys it lacks
}

// Failed reports whether the run found blocking problems.
func (r *Report) Failed() bool {
	if len(r.Undefined) > 0 {
		return true
	}
	for _, keys := range r.Missing {
		if len(keys) > 0 {
			return true
		}
	}
	return false
}

func main() {
	fmt.Println("🔍 Running i18n linter...")
	r, err := lint(projectRoot, localesDir, primaryLocale)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Found %d unique translation keys used in source code.\n", len(r.Used))
	fmt.Printf("✅ Loaded %d keys from primary locale (%s).\n\n", len(r.Primary), primaryLocale)

	section("Undefined Keys (used in code but not in primary locale)", r.Undefined, "Undefined")
	section("Orphaned Keys (in primary locale but not used in code)", r.Orphaned, "Orphaned")

	fmt.Println("--- Checking for Missing Keys (in primary locale but not in others) ---")
	files := make([]string, 0, len(r.Missing))
	for f := range r.Missing {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		fmt.Printf("Checking %s:\n", f)
		if len(r.Missing[f]) == 0 {
			fmt.Println("  ✨ All keys present.")
		}
		for _, k := range r.Missing[f] {
			fmt.Printf("  - Missing: %s\n", k)
		}
	}

	fmt.Println("\n--- Linter Finished ---")
	switch {
	case r.Failed():
		fmt.Println("❌ Found issues that need to be addressed.")
		os.Exit(1)
	case len(r.Orphaned) > 0:
		fmt.Println("⚠️  Found orphaned keys. Please consider removing them.")
	default:
		fmt.Println("✅ All translation files are consistent!")
	}
}

func section(title string, keys []string, label string) {
	fmt.Printf("--- Checking for %s ---\n", title)
	if len(keys) == 0 {
		fmt.Println("  ✨ None found.")
	}
	for _, k := range keys {
		fmt.Printf("  - %s: %s\n", label, k)
	}
	fmt.Println()
}

func lint(root, locales, primary string) (*Report, error) {
	used, err := findUsedKeys(root)
	if err != nil {
		return nil, fmt.Errorf("finding used keys: %w", err)
	}
	primaryKeys, err := loadKeysFromLocale(filepath.Join(locales, primary))
	if err != nil {
		return nil, fmt.Errorf("loading primary locale '%s': %w", primary, err)
	}
	files, err := filepath.Glob(filepath.Join(locales, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("finding locale files: %w", err)
	}

	r := &Report{Used: used, Primary: primaryKeys, Missing: map[string][]string{}}
	r.Undefined = difference(used, primaryKeys)
	r.Orphaned = difference(primaryKeys, used)
	for _, f := range files {
		if filepath.Base(f) == primary {
			continue
		}
		keys, err := loadKeysFromLocale(f)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
		r.Missing[filepath.Base(f)] = difference(primaryKeys, keys)
	}
	return r, nil
}

// difference returns the sorted keys of a that are not in b.
func difference(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// keyCall matches i18n.T("some.key") and writeLine(w, "some.key", ...).
var keyCall = regexp.MustCompile(`(?:i18n\.T\(|writeLine\(\w+,\s*)"([a-z_]+(?:\.[a-z_]+)+)"`)

// findUsedKeys scans the non-test .go files below root.
func findUsedKeys(root string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && (info.Name() == "tools" || strings.HasPrefix(info.Name(), "_")) {
			return filepath.SkipDir
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range keyCall.FindAllStringSubmatch(string(content), -1) {
			keys[m[1]] = struct{}{}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a YAML file and returns a flat map of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts a nested map into dot-separated keys. Message
// objects with an "other" field (go-i18n plural form) count as leaves.
func flattenYAML(prefix string, node any, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		if _, ok := v["other"]; ok && prefix != "" {
			keys[prefix] = struct{}{}
			return
		}
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	case []any:
		for i, val := range v {
			flattenYAML(fmt.Sprintf("%s[%d]", prefix, i), val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
