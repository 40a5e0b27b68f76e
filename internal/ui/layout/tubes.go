// Package layout renders scheduler state for the terminal.
package layout

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/triplehelix/internal/spacedrep"
	"github.com/abhisek/triplehelix/internal/ui/theme"
)

// TitleFunc maps a stitch id to a display title. It may return "".
type TitleFunc func(stitchID string) string

// RenderTubeSet draws the three tubes side by side, at most maxRows slots
// each, with the active tube and its active stitch highlighted.
func RenderTubeSet(ts spacedrep.TubeSet, title TitleFunc, maxRows int) string {
	cols := make([]string, 0, spacedrep.NumTubes)
	for _, t := range ts.Tubes {
		cols = append(cols, renderTube(t, t.Number == ts.ActiveTube, title, maxRows))
	}

	header := theme.Title.Render("Triple Helix") + "  " + theme.Subtitle.Render(fmt.Sprintf(
		"tube %d active · %d cycles · %d points", ts.ActiveTube, ts.CycleCount, ts.TotalPoints))
	return lipgloss.JoinVertical(lipgloss.Left, header, lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func renderTube(t spacedrep.Tube, active bool, title TitleFunc, maxRows int) string {
	var b strings.Builder
	heading := fmt.Sprintf("Tube %d", t.Number)
	if t.ThreadID != "" {
		heading += " · " + t.ThreadID
	}
	b.WriteString(theme.Subtitle.Render(heading))

	if t.Len() == 0 {
		b.WriteString("\n" + theme.Hint.Render("(empty)"))
	}
	for i, s := range t.Slots {
		if maxRows > 0 && i == maxRows {
			b.WriteString("\n" + theme.Hint.Render(fmt.Sprintf("… %d more", t.Len()-maxRows)))
			break
		}
		b.WriteString("\n" + renderSlot(i, s, active, title))
	}

	style := theme.Tube
	if active {
		style = theme.ActiveTube
	}
	return style.Render(b.String())
}

func renderSlot(i int, s spacedrep.Stitch, activeTube bool, title TitleFunc) string {
	name := s.ID
	if title != nil {
		if t := title(s.ID); t != "" {
			name = t
		}
	}
	line := fmt.Sprintf("%2d %-16s k=%-3d %s", i, truncate(name, 16), s.SkipNumber, s.DistractorLevel)
	if i == 0 && activeTube {
		return theme.ActiveStitch.Render("▶" + line)
	}
	return theme.Stitch.Render(" " + line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
