// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal styling for the reasoner CLI.
//
// Styles are bound to a writer. When the writer is not a color-capable
// terminal (a pipe, a file, a bytes.Buffer in tests) every style renders
// plain text, so callers never branch on TTY detection themselves.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Palette
// =============================================================================

var (
	// Primary palette (brightest to darkest)
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents

	// Semantic colors
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// =============================================================================
// Icons
// =============================================================================

// Icon is a single-glyph status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// =============================================================================
// Styles
// =============================================================================

// Styles is the set of text styles for one output stream.
type Styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}

// NewStyles returns styles whose color profile is detected from w.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Subtitle:  r.NewStyle().Foreground(ColorTealPrimary),
		Bold:      r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(ColorMuted),
		Success:   r.NewStyle().Foreground(ColorTealBright),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Error:     r.NewStyle().Foreground(ColorError),
		Highlight: r.NewStyle().Foreground(ColorTealBright).Bold(true),
	}
}

// Icon renders an icon in its semantic color.
func (s Styles) Icon(i Icon) string {
	switch i {
	case IconSuccess:
		return s.Success.Render(string(i))
	case IconWarning:
		return s.Warning.Render(string(i))
	case IconError:
		return s.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Successf writes "✓ message" to w.
func (s Styles) Successf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", s.Icon(IconSuccess), s.Success.Render(fmt.Sprintf(format, args...)))
}

// Warnf writes "⚠ message" to w.
func (s Styles) Warnf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", s.Icon(IconWarning), s.Warning.Render(fmt.Sprintf(format, args...)))
}

// Errorf writes "✗ message" to w.
func (s Styles) Errorf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", s.Icon(IconError), s.Error.Render(fmt.Sprintf(format, args...)))
}

// Footerf writes a blank line and a muted summary line to w.
func (s Styles) Footerf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\n%s\n", s.Muted.Render(fmt.Sprintf(format, args...)))
}

// ScoreBar renders score in [0, 1] as a fixed-width bar.
func (s Styles) ScoreBar(score float64, width int) string {
	if width <= 0 {
		return ""
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	filled := int(score*float64(width) + 0.5)
	return s.Success.Render(repeatChar('█', filled)) + s.Muted.Render(repeatChar('░', width-filled))
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = c
	}
	return string(result)
}
