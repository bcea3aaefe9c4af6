package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/verte-zerg/truebpm/internal/model"
)

// SeriesKind selects how a series is drawn.
type SeriesKind int

const (
	// Stepped holds each value until the next one, like a BPM track.
	Stepped SeriesKind = iota
	// Points marks non-zero values only, like stop events.
	Points
)

func (k SeriesKind) String() string {
	if k == Points {
		return "points"
	}
	return "stepped"
}

// Series represents a named data series for plotting.
type Series struct {
	Name   string
	Values []float64
	Kind   SeriesKind
}

type valueRange struct {
	min float64
	max float64
}

type ansiColor struct {
	name string
	code string
}

const (
	defaultPlotHeight   = 10
	minPlotWidth        = 10
	yLabelWidth         = 5
	axisSeparator       = " │ "
	xAxisName           = "Measure"
	colorReset          = "\x1b[0m"
	terminalWidthBackup = 80
)

// Stops first so they stay visible where both series share a cell.
var seriesColors = []ansiColor{
	{name: "magenta", code: "\x1b[35m"},
	{name: "cyan", code: "\x1b[36m"},
	{name: "yellow", code: "\x1b[33m"},
}

// Plot renders the stops and BPM series of data as a braille chart.
// Nothing is written for empty data.
func Plot(w io.Writer, title string, data model.ChartData, width, height int, forceColor bool) error {
	if data.Empty() {
		return nil
	}
	series := []Series{
		{Name: "Stops", Values: data.Stops, Kind: Points},
		{Name: "BPM", Values: data.BPM, Kind: Stepped},
	}
	return PlotSeries(w, title, series, data.Labels, width, height, forceColor)
}

// PlotSeries renders series over the given x labels. The y axis is labelled with the
// range of the first stepped series; every other series is scaled to its own range.
func PlotSeries(w io.Writer, title string, series []Series, labels []int, width, height int, forceColor bool) error {
	series = nonEmptySeries(series)
	if len(series) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultPlotHeight
	}
	if width <= 0 {
		width = PlotWidthFor(terminalWidth())
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}

	columns := make([][]float64, len(series))
	ranges := make([]valueRange, len(series))
	canvases := make([]*canvas, len(series))
	for i, s := range series {
		columns[i] = resample(s.Values, width, s.Kind)
		ranges[i] = rangeOf(s.Values)
		canvases[i] = newCanvas(width, height)
		drawSeries(canvases[i], columns[i], ranges[i], s.Kind)
	}

	axis := axisSeries(series)
	useColor := shouldUseColor(w, forceColor)

	if title != "" {
		if _, err := fmt.Fprintln(w, title); err != nil {
			return err
		}
	}
	for i, s := range series {
		note := ""
		if i != axis {
			note = " (own scale)"
		}
		if _, err := fmt.Fprintf(w, "%s: min=%s max=%s%s\n", s.Name, formatValue(ranges[i].min), formatValue(ranges[i].max), note); err != nil {
			return err
		}
	}
	yLabels := makeYLabels(ranges[axis], height)
	for y := 0; y < height; y++ {
		var row strings.Builder
		row.WriteString(padLeft(yLabels[y], yLabelWidth))
		row.WriteString(axisSeparator)
		for x := 0; x < width; x++ {
			mask, owner := composeCell(canvases, x, y)
			ch := brailleFromMask(mask)
			if useColor && owner >= 0 {
				row.WriteString(seriesColors[owner%len(seriesColors)].code)
				row.WriteRune(ch)
				row.WriteString(colorReset)
			} else {
				row.WriteRune(ch)
			}
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	indent := strings.Repeat(" ", yLabelWidth+utf8.RuneCountInString(axisSeparator))
	if _, err := fmt.Fprintln(w, indent+renderXAxis(labels, width)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, indent+centerIn(xAxisName, width)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, renderLegend(series, useColor)); err != nil {
		return err
	}
	return nil
}

// PlotWidthFor computes a plot width that fits within the total available width.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	plotWidth := totalWidth - yLabelWidth - utf8.RuneCountInString(axisSeparator)
	if plotWidth < minPlotWidth {
		plotWidth = minPlotWidth
	}
	return plotWidth
}

func nonEmptySeries(series []Series) []Series {
	out := make([]Series, 0, len(series))
	for _, s := range series {
		if len(s.Values) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func axisSeries(series []Series) int {
	for i, s := range series {
		if s.Kind == Stepped {
			return i
		}
	}
	return 0
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// resample maps values onto width columns. Columns without a value of their own are
// NaN for point series, so a single stop does not smear across a wide measure.
func resample(values []float64, width int, kind SeriesKind) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	out := make([]float64, width)
	n := len(values)
	if n > width {
		for i := 0; i < width; i++ {
			start := i * n / width
			end := (i + 1) * n / width
			if end <= start {
				end = start + 1
			}
			if kind == Points {
				out[i] = maxOf(values[start:end])
			} else {
				out[i] = values[start]
			}
		}
		return out
	}
	prev := -1
	for i := 0; i < width; i++ {
		idx := i * n / width
		if kind == Points && idx == prev {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[idx]
		prev = idx
	}
	return out
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func rangeOf(values []float64) valueRange {
	r := valueRange{min: math.Inf(1), max: math.Inf(-1)}
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		r.min = math.Min(r.min, v)
		r.max = math.Max(r.max, v)
	}
	if math.IsInf(r.min, 1) {
		return valueRange{}
	}
	return r
}

// scaled widens a flat range so a constant series sits mid-plot.
func (r valueRange) scaled() valueRange {
	if math.Abs(r.max-r.min) < 1e-9 {
		return valueRange{min: r.min - 1, max: r.max + 1}
	}
	return r
}

func drawSeries(c *canvas, columns []float64, r valueRange, kind SeriesKind) {
	dotRows := c.height * 4
	r = r.scaled()
	prevX, prevY := -1, -1
	for x, v := range columns {
		if math.IsNaN(v) {
			continue
		}
		px := x * 2
		py := valueToRow(v, r, dotRows)
		switch kind {
		case Points:
			if v > 0 {
				c.set(px, py)
			}
		default:
			if prevX >= 0 {
				c.line(prevX, prevY, px, prevY)
				c.line(px, prevY, px, py)
			}
			c.set(px, py)
			c.set(px+1, py)
			prevX, prevY = px+1, py
		}
	}
}

func valueToRow(v float64, r valueRange, rows int) int {
	if rows <= 1 {
		return 0
	}
	pos := (v - r.min) / (r.max - r.min)
	row := int(math.Round((1 - pos) * float64(rows-1)))
	return clamp(row, 0, rows-1)
}

func makeYLabels(r valueRange, height int) []string {
	labels := make([]string, height)
	if height <= 0 {
		return labels
	}
	r = r.scaled()
	labels[0] = formatValue(r.max)
	if height > 2 {
		labels[height/2] = formatValue((r.min + r.max) / 2)
	}
	if height > 1 {
		labels[height-1] = formatValue(r.min)
	}
	return labels
}

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func renderXAxis(labels []int, width int) string {
	row := []rune(strings.Repeat(" ", width))
	if len(labels) == 0 {
		return string(row)
	}
	place := func(text string, at int) {
		rs := []rune(text)
		if at+len(rs) > width {
			at = width - len(rs)
		}
		if at < 0 {
			at = 0
		}
		for i, r := range rs {
			if at+i < width {
				row[at+i] = r
			}
		}
	}
	first := strconv.Itoa(labels[0])
	last := strconv.Itoa(labels[len(labels)-1])
	place(first, 0)
	if len(labels) > 2 {
		mid := strconv.Itoa(labels[len(labels)/2])
		at := width/2 - len(mid)/2
		if at > len(first) && at+len(mid) < width-len(last) {
			place(mid, at)
		}
	}
	if len(labels) > 1 {
		place(last, width-len(last))
	}
	return string(row)
}

func centerIn(text string, width int) string {
	n := utf8.RuneCountInString(text)
	if n >= width {
		return text
	}
	return strings.Repeat(" ", (width-n)/2) + text
}

func padLeft(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", width-n) + s
}

func renderLegend(series []Series, useColor bool) string {
	parts := make([]string, 0, len(series))
	marker := brailleFromMask(0x01)
	for i, s := range series {
		label := fmt.Sprintf("%c %s (%s)", marker, s.Name, s.Kind)
		if useColor {
			label = seriesColors[i%len(seriesColors)].code + label + colorReset
		}
		parts = append(parts, label)
	}
	return "Legend: " + strings.Join(parts, "  ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
