// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import (
	"strings"
	"testing"
)

func TestInitAndAvailableLocales(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	av := Available()
	if len(av) != 2 || av[0] != "en" || av[1] != "fr" {
		t.Fatalf("available = %v", av)
	}
}

func TestTemplateData(t *testing.T) {
	Init("en")
	got := T("open.no_software", map[string]any{"Path": "File.azerty"})
	if got != "No application is associated with File.azerty." {
		t.Fatalf("unexpected translation: %q", got)
	}

	SetLang("fr")
	got = T("open.no_software", map[string]any{"Path": "File.azerty"})
	if !strings.HasPrefix(got, "Aucune application") {
		t.Fatalf("unexpected French translation: %q", got)
	}
	Init("en")
}

func TestFallbacks(t *testing.T) {
	Init("de")
	if got := T("proxy.direct"); got != "direct" {
		t.Fatalf("unknown language should fall back to English, got %q", got)
	}
	if got := T("does.not.exist"); got != "does.not.exist" {
		t.Fatalf("unknown id should translate to itself, got %q", got)
	}
	if got := T("missing %d", 3); got != "missing 3" {
		t.Fatalf("fmt args: %q", got)
	}
	Init("en")
}
