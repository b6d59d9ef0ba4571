package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"go-daw/sequencer"
)

type rgb [3]uint8

// plasma, dark to bright
var palette = []rgb{
	{13, 8, 135},
	{84, 2, 163},
	{139, 10, 165},
	{185, 50, 137},
	{219, 92, 104},
	{244, 136, 73},
	{254, 188, 43},
	{240, 249, 33},
}

// Color roles mapped to palette positions (0-1)
const (
	roleMuted   = 0.25
	roleFG      = 0.5
	roleAccent  = 0.4
	roleCursor  = 0.6
	roleActive  = 0.7
	roleWarning = 0.8
	roleSuccess = 1.0
)

// lookup returns the interpolated palette color for norm in 0-1
func lookup(norm float64) rgb {
	if norm <= 0 {
		return palette[0]
	}
	if norm >= 1 {
		return palette[len(palette)-1]
	}

	pos := norm * float64(len(palette)-1)
	i := int(pos)
	frac := pos - float64(i)
	c0, c1 := palette[i], palette[i+1]
	return rgb{lerp(c0[0], c1[0], frac), lerp(c0[1], c1[1], frac), lerp(c0[2], c1[2], frac)}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a)*(1-t) + float64(b)*t)
}

func color(norm float64) lipgloss.Color {
	c := lookup(norm)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}

var (
	headerStyle  = lipgloss.NewStyle().Foreground(color(roleAccent)).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(color(roleMuted))
	textStyle    = lipgloss.NewStyle().Foreground(color(roleFG))
	cursorStyle  = lipgloss.NewStyle().Foreground(color(roleCursor)).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(color(roleWarning))
	beatStyle    = lipgloss.NewStyle().Foreground(color(roleSuccess)).Bold(true)
	sectionStyle = lipgloss.NewStyle().Foreground(color(roleAccent)).Underline(true)
)

// stateStyle colors a sequence row by transport state
func stateStyle(s sequencer.SeqState) lipgloss.Style {
	switch s {
	case sequencer.Playing:
		return lipgloss.NewStyle().Foreground(color(roleSuccess))
	case sequencer.Queued:
		return lipgloss.NewStyle().Foreground(color(roleActive))
	case sequencer.Stopping:
		return lipgloss.NewStyle().Foreground(color(roleWarning))
	default:
		return textStyle
	}
}

// stateSymbol is the row marker for a transport state
func stateSymbol(s sequencer.SeqState) rune {
	switch s {
	case sequencer.Playing:
		return '▶'
	case sequencer.Queued:
		return '◉'
	case sequencer.Stopping:
		return '▷'
	default:
		return '·'
	}
}
