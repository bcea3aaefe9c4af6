// Package tui provides the Bubble Tea chart browser.
package tui

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/truebpm/internal/chart"
	"github.com/verte-zerg/truebpm/internal/engine"
	"github.com/verte-zerg/truebpm/internal/fragment"
	"github.com/verte-zerg/truebpm/internal/logger"
	"github.com/verte-zerg/truebpm/internal/model"
)

const (
	focusSpeed = iota
	focusSong
)

const (
	songListHeight = 6
	description    = "Pick a chart and a preferred read speed to see its BPM track and stops."
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	accentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
)

// Backend fetches the song catalog and chart results.
type Backend interface {
	FetchCatalog(ctx context.Context) ([]model.SongRef, error)
	FetchChart(ctx context.Context, q model.ChartQuery) (model.ChartResult, error)
}

type catalogMsg struct {
	songs []model.SongRef
	err   error
}

type chartMsg struct {
	query  engine.Query
	result model.ChartResult
	err    error
}

// Model implements the Bubble Tea chart browser.
type Model struct {
	ctx     context.Context
	cfg     model.Config
	engine  *engine.Engine
	backend Backend
	link    *fragment.Link
	logger  *slog.Logger

	width  int
	height int

	focus      int
	speedInput textinput.Model
	songInput  textinput.Model
	matches    []model.SongRef
	songCursor int

	spinner        spinner.Model
	catalogLoading bool
	initial        *engine.Query

	// cancelChart aborts the in-flight chart request once a newer query supersedes it.
	cancelChart context.CancelFunc
}

// NewModel constructs the chart browser and initializes the engine from its ports.
func NewModel(ctx context.Context, cfg model.Config, eng *engine.Engine, backend Backend, link *fragment.Link, log *slog.Logger) *Model {
	if log == nil {
		log = logger.Discard()
	}
	m := &Model{
		ctx:        ctx,
		cfg:        cfg,
		engine:     eng,
		backend:    backend,
		link:       link,
		logger:     log,
		speedInput: newInput("Read speed: ", 4),
		songInput:  newInput("Song: ", 0),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle)),
	}
	m.songInput.Placeholder = "type to filter"
	if q, ok := eng.Init(ctx); ok {
		m.initial = &q
	}
	sel := eng.Selection()
	m.speedInput.SetValue(strconv.Itoa(sel.ReadSpeed))
	if sel.Song != nil {
		m.songInput.SetValue(sel.Song.Label)
	}
	m.setFocus(focusSpeed)
	return m
}

func newInput(prompt string, limit int) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = limit
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.loadCatalog(), m.spinner.Tick, textinput.Blink}
	if m.initial != nil {
		cmds = append(cmds, m.fetchChart(*m.initial))
		m.initial = nil
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.songInput.Width = maxInt(10, m.width-lipgloss.Width(m.songInput.Prompt)-2)
		return m, nil
	case catalogMsg:
		m.catalogLoading = false
		m.engine.SetCatalog(msg.songs, msg.err)
		m.refilter()
		return m, nil
	case chartMsg:
		if m.engine.Apply(msg.query, msg.result, msg.err) {
			m.cancelInFlight()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelInFlight()
			return m, tea.Quit
		case "tab", "shift+tab":
			if m.focus == focusSpeed {
				return m, m.setFocus(focusSong)
			}
			return m, m.setFocus(focusSpeed)
		case "ctrl+r":
			return m, m.retry()
		}
		if m.focus == focusSpeed {
			return m.updateSpeed(msg)
		}
		return m.updateSong(msg)
	}
	var cmd tea.Cmd
	if m.focus == focusSpeed {
		m.speedInput, cmd = m.speedInput.Update(msg)
	} else {
		m.songInput, cmd = m.songInput.Update(msg)
	}
	return m, cmd
}

func (m *Model) updateSpeed(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "right", "k":
		return m, m.stepSpeed(model.ReadSpeedStep)
	case "down", "left", "j":
		return m, m.stepSpeed(-model.ReadSpeedStep)
	}
	before := m.speedInput.Value()
	var cmd tea.Cmd
	m.speedInput, cmd = m.speedInput.Update(msg)
	digits := digitsOnly(m.speedInput.Value())
	if digits != m.speedInput.Value() {
		m.speedInput.SetValue(digits)
	}
	if digits == before {
		return m, cmd
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return m, cmd
	}
	return m, tea.Batch(cmd, m.issue(m.engine.SetReadSpeed(m.ctx, v)))
}

func (m *Model) stepSpeed(delta int) tea.Cmd {
	v := nextReadSpeed(m.engine.Selection().ReadSpeed, delta)
	m.speedInput.SetValue(strconv.Itoa(v))
	m.speedInput.CursorEnd()
	return m.issue(m.engine.SetReadSpeed(m.ctx, v))
}

func (m *Model) updateSong(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up":
		m.songCursor = clampIndex(m.songCursor-1, len(m.matches))
		return m, nil
	case "down":
		m.songCursor = clampIndex(m.songCursor+1, len(m.matches))
		return m, nil
	case "enter":
		if len(m.matches) == 0 {
			return m, nil
		}
		song := m.matches[m.songCursor]
		return m, m.issue(m.engine.SetSong(m.ctx, song))
	}
	before := m.songInput.Value()
	var cmd tea.Cmd
	m.songInput, cmd = m.songInput.Update(msg)
	if m.songInput.Value() != before {
		m.refilter()
	}
	return m, cmd
}

func (m *Model) setFocus(focus int) tea.Cmd {
	m.focus = focus
	if focus == focusSpeed {
		m.songInput.Blur()
		return m.speedInput.Focus()
	}
	m.speedInput.Blur()
	if _, loaded := m.engine.Catalog(); loaded && m.songInput.Value() == m.engine.Selection().SongLabel() {
		// Start from the full list rather than the selected label.
		m.songInput.SetValue("")
		m.refilter()
	}
	return m.songInput.Focus()
}

func (m *Model) retry() tea.Cmd {
	m.logger.Debug("retry requested", "song", m.engine.Selection().SongLabel())
	var cmds []tea.Cmd
	if _, loaded := m.engine.Catalog(); !loaded && !m.catalogLoading {
		cmds = append(cmds, m.loadCatalog())
	}
	cmds = append(cmds, m.issue(m.engine.Refresh(m.ctx)))
	return tea.Batch(cmds...)
}

func (m *Model) refilter() {
	songs, _ := m.engine.Catalog()
	m.matches = filterSongs(songs, m.songInput.Value())
	m.songCursor = clampIndex(m.songCursor, len(m.matches))
	label := m.engine.Selection().SongLabel()
	for i, song := range m.matches {
		if song.Label == label {
			m.songCursor = i
			break
		}
	}
}

func (m *Model) loadCatalog() tea.Cmd {
	if m.backend == nil {
		return nil
	}
	m.catalogLoading = true
	ctx, backend := m.ctx, m.backend
	return func() tea.Msg {
		songs, err := backend.FetchCatalog(ctx)
		return catalogMsg{songs: songs, err: err}
	}
}

func (m *Model) issue(q engine.Query, ok bool) tea.Cmd {
	if !ok {
		if _, pending := m.engine.Pending(); !pending {
			m.cancelInFlight()
		}
		return nil
	}
	return m.fetchChart(q)
}

// fetchChart starts q under its own context so a newer query can abort it
// before it reaches the backend.
func (m *Model) fetchChart(q engine.Query) tea.Cmd {
	if m.backend == nil {
		return nil
	}
	m.cancelInFlight()
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelChart = cancel
	backend := m.backend
	return func() tea.Msg {
		res, err := backend.FetchChart(ctx, q.Request)
		return chartMsg{query: q, result: res, err: err}
	}
}

func (m *Model) cancelInFlight() {
	if m.cancelChart != nil {
		m.cancelChart()
		m.cancelChart = nil
	}
}

// ShareLink returns the current share link.
func (m *Model) ShareLink() string {
	if m.link == nil {
		return ""
	}
	return m.link.String()
}

// View implements tea.Model.
func (m *Model) View() string {
	top := strings.Join([]string{
		m.renderHeader(),
		"",
		m.renderSpeed(),
		"",
		m.renderSongs(),
	}, "\n")
	bottom := m.renderFooter() + "\n" + m.renderHelp()
	if m.width == 0 || m.height == 0 {
		return top + "\n\n" + m.renderBody() + "\n" + bottom
	}
	topHeight := lipgloss.Height(top)
	bottomHeight := lipgloss.Height(bottom)
	bodyHeight := m.height - topHeight - bottomHeight
	if bodyHeight < 1 {
		return fitLines(top+"\n"+bottom, m.width, m.height)
	}
	return strings.Join([]string{
		fitLines(top, m.width, topHeight),
		fitLines(m.renderBody(), m.width, bodyHeight),
		fitLines(bottom, m.width, bottomHeight),
	}, "\n")
}

func (m *Model) renderHeader() string {
	return titleStyle.Render("true BPM") + "  " + mutedStyle.Render(description)
}

func (m *Model) renderSpeed() string {
	v := m.engine.Selection().ReadSpeed
	line := m.speedInput.View() + "  " + renderSlider(v, sliderWidth(m.width))
	if !model.ReadSpeedInRange(v) {
		line += "  " + errorStyle.Render(fmt.Sprintf("must be %d-%d", model.MinReadSpeed, model.MaxReadSpeed))
	}
	return line
}

func (m *Model) renderSongs() string {
	lines := []string{m.songInput.View()}
	songs, loaded := m.engine.Catalog()
	switch {
	case !loaded && m.engine.CatalogError() != nil:
		lines = append(lines, errorStyle.Render(m.engine.CatalogError().Error()+" (ctrl+r to retry)"))
	case !loaded:
		lines = append(lines, m.spinner.View()+mutedStyle.Render(" Loading songs..."))
	case len(songs) == 0:
		lines = append(lines, mutedStyle.Render("No songs available."))
	case len(m.matches) == 0:
		lines = append(lines, mutedStyle.Render("No matching songs."))
	default:
		lines = append(lines, m.renderMatches()...)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderMatches() []string {
	start, end := listWindow(m.songCursor, len(m.matches), songListHeight)
	selected := m.engine.Selection().SongLabel()
	labelWidth := maxInt(10, m.width-4)
	lines := make([]string, 0, end-start+1)
	for i := start; i < end; i++ {
		label := truncateLabel(m.matches[i].Label, labelWidth)
		prefix := "  "
		if i == m.songCursor && m.focus == focusSong {
			prefix = accentStyle.Render("> ")
		}
		if m.matches[i].Label == selected {
			label = selectedStyle.Render(label + " ●")
		}
		lines = append(lines, prefix+label)
	}
	if hidden := len(m.matches) - (end - start); hidden > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("  %d of %d songs", end-start, len(m.matches))))
	}
	return lines
}

func (m *Model) renderBody() string {
	var lines []string
	if _, pending := m.engine.Pending(); pending {
		lines = append(lines, m.spinner.View()+mutedStyle.Render(" Loading chart..."))
	}
	data := m.engine.ChartData()
	if data.Empty() {
		if m.engine.Selection().Song == nil {
			lines = append(lines, mutedStyle.Render("No song selected."))
		}
		return strings.Join(lines, "\n")
	}
	var buf bytes.Buffer
	if err := chart.Plot(&buf, "", data, chart.PlotWidthFor(m.width), m.cfg.PlotHeight, true); err != nil {
		lines = append(lines, errorStyle.Render(err.Error()))
	} else {
		lines = append(lines, strings.TrimRight(buf.String(), "\n"))
	}
	if res, ok := m.engine.Result(); ok {
		if info := chart.FormatInfo(res.Raw); len(info) > 0 {
			lines = append(lines, "")
			lines = append(lines, info...)
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderFooter() string {
	segments := []string{}
	if link := m.ShareLink(); link != "" && m.engine.Selection().Song != nil {
		segments = append(segments, footerStyle.Render("Share: "+link))
	}
	if err := m.engine.LastError(); err != nil {
		segments = append(segments, errorStyle.Render("Error: "+strings.ReplaceAll(err.Error(), "\n", " ")))
	}
	return strings.Join(segments, "  ")
}

func (m *Model) renderHelp() string {
	help := "Speed: up/down ±5 or type  Switch: tab  Retry: ctrl+r  Quit: esc"
	if m.focus == focusSong {
		help = "Filter: type  Move: up/down  Pick: enter  Switch: tab  Retry: ctrl+r  Quit: esc"
	}
	return footerStyle.Render(help)
}
