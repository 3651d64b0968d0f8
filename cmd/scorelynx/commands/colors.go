package commands

import (
	"github.com/fatih/color"
)

var (
	colorGood     = color.New(color.FgGreen).SprintFunc()
	colorBest     = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorWarn     = color.New(color.FgYellow).SprintFunc()
	colorBad      = color.New(color.FgRed).SprintFunc()
	colorCritical = color.New(color.FgRed, color.Bold).SprintFunc()
)

// colorLevel colours a rating level or scan status name for the terminal.
func colorLevel(name string) string {
	switch name {
	case "doubleplusgood":
		return colorBest(name)
	case "good", "finished":
		return colorGood(name)
	case "warning", "running":
		return colorWarn(name)
	case "bad", "aborted":
		return colorBad(name)
	case "critical":
		return colorCritical(name)
	default:
		return name
	}
}
