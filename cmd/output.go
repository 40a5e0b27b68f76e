package cmd

import (
	"github.com/fatih/color"
)

func okMark() string   { return color.New(color.FgGreen).Sprint("✓") }
func failMark() string { return color.New(color.FgRed).Sprint("✗") }
func warnMark() string { return color.New(color.FgYellow).Sprint("!") }

func tubeLabel(n int) string {
	return color.New(color.FgHiMagenta).Sprintf("tube %d", n)
}
