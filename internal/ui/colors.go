// Package ui holds terminal styling for CLI output.
package ui

import (
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color and style constants
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"

	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[97m"
	ColorRed    = "\033[31m"
)

// plain disables styling when NO_COLOR is set or stdout is not a terminal
var plain = os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd())

func style(code, s string) string {
	if plain {
		return s
	}
	return code + s + ColorReset
}

func Bold(s string) string    { return style(ColorBold, s) }
func Success(s string) string { return style(ColorGreen, s) }
func Info(s string) string    { return style(ColorDim+ColorYellow, s) }
func Warn(s string) string    { return style(ColorYellow, s) }
func Error(s string) string   { return style(ColorRed, s) }
