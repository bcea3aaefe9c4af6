package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/truebpm/internal/model"
)

const (
	minSliderWidth = 10
	maxSliderWidth = 40
)

// filterSongs keeps songs whose label contains every word of query, case-insensitively.
func filterSongs(songs []model.SongRef, query string) []model.SongRef {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return append([]model.SongRef(nil), songs...)
	}
	out := make([]model.SongRef, 0, len(songs))
	for _, song := range songs {
		label := strings.ToLower(song.Label)
		match := true
		for _, w := range words {
			if !strings.Contains(label, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, song)
		}
	}
	return out
}

// nextReadSpeed moves v by delta, clamped to the valid range.
func nextReadSpeed(v, delta int) int {
	next := v + delta
	if next < model.MinReadSpeed {
		return model.MinReadSpeed
	}
	if next > model.MaxReadSpeed {
		return model.MaxReadSpeed
	}
	return next
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sliderWidth(total int) int {
	w := total / 3
	if w < minSliderWidth {
		return minSliderWidth
	}
	if w > maxSliderWidth {
		return maxSliderWidth
	}
	return w
}

// renderSlider draws the read speed as a marker on a track spanning the valid range.
func renderSlider(v, width int) string {
	if width < 2 {
		width = 2
	}
	clamped := v
	if clamped < model.MinReadSpeed {
		clamped = model.MinReadSpeed
	}
	if clamped > model.MaxReadSpeed {
		clamped = model.MaxReadSpeed
	}
	pos := (clamped - model.MinReadSpeed) * (width - 1) / (model.MaxReadSpeed - model.MinReadSpeed)
	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == pos:
			b.WriteString(accentStyle.Render("●"))
		case i < pos:
			b.WriteString("━")
		default:
			b.WriteString("─")
		}
	}
	return mutedStyle.Render("50 ") + b.String() + mutedStyle.Render(" 800")
}

// listWindow returns the visible [start, end) range of a list keeping cursor in view.
func listWindow(cursor, total, height int) (int, int) {
	if total <= height {
		return 0, total
	}
	start := cursor - height/2
	if start < 0 {
		start = 0
	}
	if start+height > total {
		start = total - height
	}
	return start, start + height
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func truncateLabel(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
