// Package ui provides consistent styling for the portal-input CLI
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary = lipgloss.Color("39")  // Bright blue
	ColorSuccess = lipgloss.Color("82")  // Green
	ColorWarning = lipgloss.Color("214") // Orange
	ColorError   = lipgloss.Color("196") // Red
	ColorInfo    = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	KeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorInfo)
)

// Status icons
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconArrow   = "→"
	IconBullet  = "•"
)

// FormatHeader renders a section title with a separator under it.
func FormatHeader(title string) string {
	return HeaderStyle.Render(title) + "\n" + CreateSeparator(50, "─")
}

// FormatCheck renders one status line.
func FormatCheck(ok bool, label, detail string) string {
	icon, style := SuccessStyle.Render(IconSuccess), SuccessStyle
	if !ok {
		icon, style = ErrorStyle.Render(IconError), ErrorStyle
	}
	line := "  " + icon + " " + label
	if detail != "" {
		line += " " + style.Render(detail)
	}
	return line
}

// FormatWarning renders a non-fatal notice.
func FormatWarning(msg string) string {
	return "  " + WarningStyle.Render(IconWarning+" "+msg)
}

// FormatKeyValue renders an indented "key: value" pair.
func FormatKeyValue(key string, value any) string {
	return fmt.Sprintf("  %s %s", SubtleStyle.Render(key+":"), fmt.Sprint(value))
}

// FormatListItem renders a bullet point.
func FormatListItem(item string) string {
	return "  " + InfoStyle.Render(IconBullet) + " " + item
}

// FormatControl renders a command and its description for help output.
func FormatControl(key, desc string) string {
	return "  " + KeyStyle.Render(key) + " - " + desc
}

// FormatAction renders a line describing input that was just sent.
func FormatAction(format string, args ...any) string {
	return SuccessStyle.Render(IconArrow) + " " + fmt.Sprintf(format, args...)
}

// FormatError renders an error for interactive output.
func FormatError(err error) string {
	return ErrorStyle.Render(IconError + " " + err.Error())
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50
	}
	if char == "" {
		char = "─"
	}
	return SubtleStyle.Render(strings.Repeat(char, width))
}
