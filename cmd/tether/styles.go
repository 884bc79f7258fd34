package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	colorPrimary = lipgloss.Color("#4F8FC9")
	colorMuted   = lipgloss.Color("240")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

// isTerminal reports whether stdout is a TTY; styling is disabled for
// pipes and redirects.
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func renderSuccess(msg string) string {
	if !isTerminal() {
		return msg
	}
	return successStyle.Render("✓") + " " + msg
}

func renderError(msg string) string {
	if !isTerminal() {
		return "error: " + msg
	}
	return errorStyle.Render("✗") + " " + msg
}

func renderWarning(msg string) string {
	if !isTerminal() {
		return msg
	}
	return warningStyle.Render("!") + " " + msg
}

func renderLabel(label string) string {
	if !isTerminal() {
		return label
	}
	return labelStyle.Render(label)
}

func renderMuted(msg string) string {
	if !isTerminal() {
		return msg
	}
	return mutedStyle.Render(msg)
}
