// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"

	"github.com/charmbracelet/lipgloss"

	"github.com/toeirei/drivecfg/internal/i18n"
	"github.com/toeirei/drivecfg/internal/migration"
	"github.com/toeirei/drivecfg/internal/store"
)

var (
	fatalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	fatalBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// FatalMessage returns the translated explanation of a startup failure.
func FatalMessage(err error, home string) string {
	var (
		failed *migration.MigrationFailedError
		broken *migration.BrokenError
	)
	switch {
	case errors.As(err, &failed):
		return i18n.T("fatal.migration_failed", map[string]any{"Step": failed.StepID, "Name": failed.StepName})
	case errors.As(err, &broken):
		return i18n.T("fatal.migration_broken", map[string]any{"Step": broken.Marker.StepID, "Version": broken.Marker.Version})
	case errors.Is(err, store.ErrStoreCorrupted):
		return i18n.T("fatal.store_corrupted", map[string]any{"Path": home})
	case errors.Is(err, store.ErrStoreUnavailable):
		return i18n.T("fatal.store_unavailable", map[string]any{"Path": home})
	}
	return i18n.T("fatal.generic", map[string]any{"Error": err.Error()})
}

// FatalBanner renders FatalMessage in a bordered box, with the raw error
// underneath for bug reports.
func FatalBanner(err error, home string) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		fatalTitleStyle.Render(i18n.T("fatal.title")),
		"",
		FatalMessage(err, home),
		detailStyle.Render(err.Error()),
	)
	return fatalBoxStyle.Render(body)
}
