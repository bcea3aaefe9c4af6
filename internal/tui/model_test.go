package tui

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/truebpm/internal/api"
	"github.com/verte-zerg/truebpm/internal/apperrors"
	"github.com/verte-zerg/truebpm/internal/engine"
	"github.com/verte-zerg/truebpm/internal/fragment"
	"github.com/verte-zerg/truebpm/internal/model"
)

type fakeBackend struct {
	songs      []model.SongRef
	catalogErr error
	chartErr   error
	queries    []model.ChartQuery
}

func (f *fakeBackend) FetchCatalog(context.Context) ([]model.SongRef, error) {
	return f.songs, f.catalogErr
}

func (f *fakeBackend) FetchChart(ctx context.Context, q model.ChartQuery) (model.ChartResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ChartResult{}, err
	}
	f.queries = append(f.queries, q)
	if f.chartErr != nil {
		return model.ChartResult{}, f.chartErr
	}
	bpm := float64(q.ReadSpeed) / 4
	return model.ChartResult{
		NumberOfMeasures: 3,
		Stops:            []float64{0, 1, 0},
		BPM:              []float64{bpm, bpm, bpm * 2},
		Raw:              map[string]any{"title": q.Song},
	}, nil
}

type memoryKV map[string]string

func (m memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memoryKV) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func newTestModel(t *testing.T, rawLink string, backend *fakeBackend) (*Model, memoryKV) {
	t.Helper()
	link, err := fragment.NewLink(rawLink, "https://truebpm.example/")
	require.NoError(t, err)
	prefs := memoryKV{}
	eng := engine.New(prefs, link, nil)
	cfg := model.Config{PlotHeight: 6}
	return NewModel(context.Background(), cfg, eng, backend, link, nil), prefs
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(m *Model, text string) {
	for _, r := range text {
		m.Update(key(string(r)))
	}
}

func runChartCmd(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	msg, ok := cmd().(chartMsg)
	require.True(t, ok, "expected a chart message")
	m.Update(msg)
}

func loadCatalog(m *Model, backend *fakeBackend) {
	songs, err := backend.FetchCatalog(context.Background())
	m.Update(catalogMsg{songs: songs, err: err})
}

func TestSharedLinkQueriesOnInit(t *testing.T) {
	backend := &fakeBackend{}
	m, prefs := newTestModel(t, "#song=Paranoia&readSpeed=600", backend)

	require.NotNil(t, m.Init())
	q, pending := m.engine.Pending()
	require.True(t, pending)
	assert.Equal(t, "Paranoia", q.Request.Song)
	assert.Equal(t, "600", m.speedInput.Value())
	assert.Equal(t, "600", prefs[engine.PreferenceReadSpeedKey])
}

func TestPickSongFetchesAndRendersChart(t *testing.T) {
	backend := &fakeBackend{songs: []model.SongRef{{Label: "Paranoia"}, {Label: "MAX 300"}, {Label: "Max Period"}}}
	m, _ := newTestModel(t, "", backend)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
	loadCatalog(m, backend)

	m.Update(key("tab"))
	typeText(m, "max 3")
	require.Len(t, m.matches, 1)
	_, cmd := m.Update(key("enter"))
	runChartCmd(t, m, cmd)

	require.Len(t, backend.queries, 1)
	assert.Equal(t, model.NewChartQuery("MAX 300", model.DefaultReadSpeed), backend.queries[0])
	assert.Equal(t, []int{0, 1, 2}, m.engine.ChartData().Labels)
	view := m.View()
	assert.Contains(t, view, "Measure")
	assert.Contains(t, view, "title")
	assert.Contains(t, m.renderFooter(), "Share: https://truebpm.example/#readSpeed=573&song=MAX+300")
}

func TestArrowKeysStepReadSpeed(t *testing.T) {
	backend := &fakeBackend{}
	m, prefs := newTestModel(t, "#song=Paranoia", backend)

	_, cmd := m.Update(key("up"))
	runChartCmd(t, m, cmd)
	assert.Equal(t, 578, m.engine.Selection().ReadSpeed)
	assert.Equal(t, "578", m.speedInput.Value())
	assert.Equal(t, "578", prefs[engine.PreferenceReadSpeedKey])

	m.Update(key("down"))
	m.Update(key("down"))
	assert.Equal(t, 568, m.engine.Selection().ReadSpeed)
}

func TestArrowKeysClampToRange(t *testing.T) {
	m, _ := newTestModel(t, "#readSpeed=798", &fakeBackend{})
	m.Update(key("up"))
	assert.Equal(t, model.MaxReadSpeed, m.engine.Selection().ReadSpeed)

	m2, _ := newTestModel(t, "#readSpeed=52", &fakeBackend{})
	m2.Update(key("down"))
	assert.Equal(t, model.MinReadSpeed, m2.engine.Selection().ReadSpeed)
}

func TestTypedOutOfRangeSpeedIsHeldButNotQueried(t *testing.T) {
	backend := &fakeBackend{}
	m, prefs := newTestModel(t, "#song=Paranoia&readSpeed=600", backend)

	for i := 0; i < 3; i++ {
		m.Update(key("backspace"))
	}
	m.Update(key("5"))

	assert.Equal(t, "5", m.speedInput.Value())
	assert.Equal(t, 5, m.engine.Selection().ReadSpeed)
	assert.Equal(t, "5", prefs[engine.PreferenceReadSpeedKey])
	_, pending := m.engine.Pending()
	assert.False(t, pending)
	assert.Equal(t, "https://truebpm.example/#readSpeed=60&song=Paranoia", m.ShareLink())
	assert.Contains(t, m.renderSpeed(), "must be 50-800")
}

func TestNonDigitsAreDropped(t *testing.T) {
	m, _ := newTestModel(t, "", &fakeBackend{})
	m.Update(key("x"))
	assert.Equal(t, "573", m.speedInput.Value())
	assert.Equal(t, model.DefaultReadSpeed, m.engine.Selection().ReadSpeed)
}

func TestStaleChartMessageIsIgnored(t *testing.T) {
	backend := &fakeBackend{}
	m, _ := newTestModel(t, "#song=Paranoia", backend)
	first, ok := m.engine.Pending()
	require.True(t, ok)

	_, cmd := m.Update(key("up"))
	require.NotNil(t, cmd)

	m.Update(chartMsg{query: first, result: model.ChartResult{NumberOfMeasures: 1, Stops: []float64{0}, BPM: []float64{1}}})
	assert.True(t, m.engine.ChartData().Empty())

	runChartCmd(t, m, cmd)
	assert.Equal(t, []float64{578.0 / 4, 578.0 / 4, 578.0 / 2}, m.engine.ChartData().BPM)
}

func TestChartFailureKeepsDataAndShowsError(t *testing.T) {
	backend := &fakeBackend{}
	m, _ := newTestModel(t, "#song=Paranoia", backend)
	runChartCmd(t, m, m.fetchChart(mustPending(t, m)))
	before := m.engine.ChartData()

	backend.chartErr = errors.Join(apperrors.ErrChartUnavailable, errors.New("502"))
	_, cmd := m.Update(key("up"))
	runChartCmd(t, m, cmd)

	assert.Equal(t, before, m.engine.ChartData())
	assert.Contains(t, m.renderFooter(), "Error: chart unavailable")
}

func TestCatalogFailureAndRetry(t *testing.T) {
	backend := &fakeBackend{catalogErr: apperrors.ErrCatalogUnavailable}
	m, _ := newTestModel(t, "", backend)
	loadCatalog(m, backend)

	assert.Contains(t, m.renderSongs(), "ctrl+r to retry")

	backend.catalogErr = nil
	backend.songs = []model.SongRef{{Label: "Paranoia"}}
	_, cmd := m.Update(key("ctrl+r"))
	require.NotNil(t, cmd)
	assert.True(t, m.catalogLoading)

	loadCatalog(m, backend)
	assert.False(t, m.catalogLoading)
	assert.Contains(t, m.renderSongs(), "Paranoia")
}

func TestLoadingStateBeforeCatalog(t *testing.T) {
	m, _ := newTestModel(t, "", &fakeBackend{})
	m.Init()
	assert.Contains(t, m.renderSongs(), "Loading songs...")
	assert.Contains(t, m.renderBody(), "No song selected.")
}

func TestFooterHiddenWithoutSong(t *testing.T) {
	m, _ := newTestModel(t, "", &fakeBackend{})
	assert.Equal(t, "", m.renderFooter())
}

func TestViewFitsWindow(t *testing.T) {
	backend := &fakeBackend{songs: []model.SongRef{{Label: "Paranoia"}}}
	m, _ := newTestModel(t, "#song=Paranoia", backend)
	m.Update(tea.WindowSizeMsg{Width: 90, Height: 40})
	runChartCmd(t, m, m.fetchChart(mustPending(t, m)))

	lines := strings.Split(m.View(), "\n")
	assert.Len(t, lines, 40)
}

func TestSupersededChartQueriesNeverReachBackend(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "598", r.URL.Query().Get("preferred_rate"))
		_, _ = w.Write([]byte(`{"result": {"number_of_measures": 1, "line_chart_data": {"stop": [0], "bpm": [150]}}}`))
	}))
	t.Cleanup(srv.Close)
	client, err := api.NewClient(api.Options{BaseURL: srv.URL, RequestsPerSecond: 1, Burst: 1})
	require.NoError(t, err)

	link, err := fragment.NewLink("#song=Paranoia", "https://truebpm.example/")
	require.NoError(t, err)
	eng := engine.New(memoryKV{}, link, nil)
	m := NewModel(context.Background(), model.Config{PlotHeight: 6}, eng, client, link, nil)

	var cmds []tea.Cmd
	for i := 0; i < 5; i++ {
		_, cmd := m.Update(key("up"))
		require.NotNil(t, cmd)
		cmds = append(cmds, cmd)
	}

	start := time.Now()
	for _, cmd := range cmds {
		msg, ok := cmd().(chartMsg)
		require.True(t, ok)
		m.Update(msg)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, []float64{150}, m.engine.ChartData().BPM)
	assert.NoError(t, m.engine.LastError())
}

func TestAbandonedQueryIsCanceled(t *testing.T) {
	backend := &fakeBackend{}
	m, _ := newTestModel(t, "#song=Paranoia&readSpeed=55", backend)

	_, cmd := m.Update(key("up"))
	require.NotNil(t, cmd)
	m.Update(key("backspace"))
	assert.Equal(t, "6", m.speedInput.Value())
	_, pending := m.engine.Pending()
	require.False(t, pending)

	msg, ok := cmd().(chartMsg)
	require.True(t, ok)
	assert.ErrorIs(t, msg.err, context.Canceled)
	assert.Empty(t, backend.queries)
}

func mustPending(t *testing.T, m *Model) engine.Query {
	t.Helper()
	q, ok := m.engine.Pending()
	require.True(t, ok)
	return q
}
