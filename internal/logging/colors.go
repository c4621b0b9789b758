package logging

import (
	"github.com/fatih/color"
)

// Colour per level. fatih/color disables itself when the destination is not a
// terminal, or when NO_COLOR is set.
var levelColors = map[Level]*color.Color{
	Error: color.New(color.FgRed, color.Bold),
	Warn:  color.New(color.FgRed),
	Info:  color.New(color.Reset),
	Debug: color.New(color.FgGreen),
}

var (
	traceColor  = color.New(color.FgYellow)
	headerColor = color.New(color.FgWhite)
)

func (l Level) colorize(s string) string {
	if c, ok := levelColors[l]; ok {
		return c.Sprint(s)
	}
	return traceColor.Sprint(s)
}
