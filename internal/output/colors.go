package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the different parts of a report.
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Label     *color.Color
	Value     *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
	// The writer decides, not color.NoColor's stdout detection.
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Success, s.Warn, s.Error, s.Dim, s.Highlight}
}

// PassIcon returns a check mark, colored by the scheme.
func (s *ColorScheme) PassIcon() string {
	return s.Success.Sprint("✓")
}

// FailIcon returns a cross, colored by the scheme.
func (s *ColorScheme) FailIcon() string {
	return s.Error.Sprint("✗")
}

// Icon returns PassIcon or FailIcon.
func (s *ColorScheme) Icon(passed bool) string {
	if passed {
		return s.PassIcon()
	}
	return s.FailIcon()
}

// rateColor picks a color for an error-like rate: green under 1%, yellow
// under 5%, red otherwise.
func (s *ColorScheme) rateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Error
	case rate > 0.01:
		return s.Warn
	default:
		return s.Success
	}
}
