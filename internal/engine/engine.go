// Package engine reconciles the read-speed preference, the share link and user
// input into one selection, and turns that selection into chart queries.
//
// The engine is driven from a single event loop and is not safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/verte-zerg/truebpm/internal/apperrors"
	"github.com/verte-zerg/truebpm/internal/chart"
	"github.com/verte-zerg/truebpm/internal/fragment"
	"github.com/verte-zerg/truebpm/internal/logger"
	"github.com/verte-zerg/truebpm/internal/model"
)

// PreferenceReadSpeedKey is the preference key holding the last chosen read speed.
const PreferenceReadSpeedKey = "preferredReadSpeed"

// KeyValue is a string key/value port.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ChartFetcher fetches chart results.
type ChartFetcher interface {
	FetchChart(ctx context.Context, q model.ChartQuery) (model.ChartResult, error)
}

// Query is one issued chart request, tagged with the selection it was built from.
type Query struct {
	Seq       uint64
	Selection model.Selection
	Request   model.ChartQuery
}

// Engine owns the canonical selection and the chart data derived from it.
type Engine struct {
	prefs   KeyValue
	session KeyValue
	logger  *slog.Logger

	selection model.Selection

	catalog       []model.SongRef
	catalogLoaded bool
	catalogErr    error

	seq     uint64
	pending *Query

	data    model.ChartData
	result  *model.ChartResult
	lastErr error
}

// New creates an engine over the preference store and the share link state.
func New(prefs, session KeyValue, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		prefs:     prefs,
		session:   session,
		logger:    log,
		selection: model.Selection{ReadSpeed: model.DefaultReadSpeed},
		data:      chart.Empty(),
	}
}

// Init merges the external state into the selection. It returns the first query
// when the share link already names a song and an in-range read speed.
func (e *Engine) Init(ctx context.Context) (Query, bool) {
	e.selection.ReadSpeed = e.initialReadSpeed(ctx)

	label, ok := e.get(ctx, e.session, fragment.KeySong)
	if ok && strings.TrimSpace(label) != "" {
		e.selection.Song = &model.SongRef{Label: label}
		e.logger.Debug("song restored from share link", "song", label)
		return e.refetch(ctx)
	}
	return Query{}, false
}

func (e *Engine) initialReadSpeed(ctx context.Context) int {
	if raw, ok := e.get(ctx, e.session, fragment.KeyReadSpeed); ok {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil {
			e.set(ctx, e.prefs, PreferenceReadSpeedKey, strconv.Itoa(v))
			e.logger.Debug("read speed restored from share link", "read_speed", v)
			return v
		}
		e.logger.Warn("ignoring unparseable share link read speed", "value", raw)
	}
	if raw, ok := e.get(ctx, e.prefs, PreferenceReadSpeedKey); ok {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil {
			return v
		}
		e.logger.Warn("ignoring unparseable stored read speed", "value", raw)
	}
	return model.DefaultReadSpeed
}

// SetReadSpeed replaces the read speed and persists it, even when out of range.
func (e *Engine) SetReadSpeed(ctx context.Context, v int) (Query, bool) {
	e.set(ctx, e.prefs, PreferenceReadSpeedKey, strconv.Itoa(v))
	if v == e.selection.ReadSpeed {
		return Query{}, false
	}
	e.selection.ReadSpeed = v
	return e.refetch(ctx)
}

// SetSong replaces the selected song. Selecting the current song again re-issues its query.
func (e *Engine) SetSong(ctx context.Context, song model.SongRef) (Query, bool) {
	e.selection.Song = &song
	return e.refetch(ctx)
}

// Refresh re-issues the query for the unchanged selection.
func (e *Engine) Refresh(ctx context.Context) (Query, bool) {
	return e.refetch(ctx)
}

func (e *Engine) refetch(ctx context.Context) (Query, bool) {
	if !e.selection.Ready() {
		e.pending = nil
		e.logger.Debug("chart query suppressed",
			"error", apperrors.ErrInvalidSelection,
			"song", e.selection.SongLabel(),
			"read_speed", e.selection.ReadSpeed,
		)
		return Query{}, false
	}
	label := e.selection.Song.Label
	e.set(ctx, e.session, fragment.KeySong, label)
	e.set(ctx, e.session, fragment.KeyReadSpeed, strconv.Itoa(e.selection.ReadSpeed))

	e.seq++
	q := Query{
		Seq:       e.seq,
		Selection: e.selection.Clone(),
		Request:   model.NewChartQuery(label, e.selection.ReadSpeed),
	}
	e.pending = &q
	e.logger.Debug("chart query issued", "seq", q.Seq, "song", label, "read_speed", q.Request.ReadSpeed)
	return q, true
}

// Apply folds a chart response into the engine. It reports false when q is stale.
func (e *Engine) Apply(q Query, res model.ChartResult, err error) bool {
	if !e.current(q) {
		e.logger.Debug("discarding stale chart response", "seq", q.Seq, "song", q.Request.Song)
		return false
	}
	e.pending = nil
	if err != nil {
		e.lastErr = err
		e.logger.Warn("chart fetch failed", "seq", q.Seq, "song", q.Request.Song, "error", err)
		return true
	}
	data, err := chart.FromResult(res)
	if err != nil {
		e.lastErr = err
		e.logger.Warn("chart result rejected", "seq", q.Seq, "song", q.Request.Song, "error", err)
		return true
	}
	e.data = data
	stored := res
	e.result = &stored
	e.lastErr = nil
	return true
}

func (e *Engine) current(q Query) bool {
	if e.pending == nil || q.Seq != e.pending.Seq {
		return false
	}
	return q.Selection.Equal(e.selection)
}

// Resolve fetches q and applies the response in one call.
func (e *Engine) Resolve(ctx context.Context, fetcher ChartFetcher, q Query) error {
	res, err := fetcher.FetchChart(ctx, q.Request)
	if !e.Apply(q, res, err) {
		return fmt.Errorf("chart response for %q is stale", q.Request.Song)
	}
	return e.lastErr
}

// SetCatalog records the outcome of the catalog fetch. On failure the catalog stays unset.
func (e *Engine) SetCatalog(songs []model.SongRef, err error) {
	if err != nil {
		if !errors.Is(err, apperrors.ErrCatalogUnavailable) {
			err = fmt.Errorf("%w: %w", apperrors.ErrCatalogUnavailable, err)
		}
		e.catalogErr = err
		e.logger.Warn("catalog fetch failed", "error", err)
		return
	}
	e.catalog = append([]model.SongRef(nil), songs...)
	e.catalogLoaded = true
	e.catalogErr = nil
}

// Catalog returns the song list and whether it has loaded.
func (e *Engine) Catalog() ([]model.SongRef, bool) {
	return e.catalog, e.catalogLoaded
}

// CatalogError returns the last catalog failure, if any.
func (e *Engine) CatalogError() error {
	return e.catalogErr
}

// Selection returns a copy of the current selection.
func (e *Engine) Selection() model.Selection {
	return e.selection.Clone()
}

// ChartData returns the current render-ready chart data.
func (e *Engine) ChartData() model.ChartData {
	return e.data
}

// Result returns the last applied chart result.
func (e *Engine) Result() (model.ChartResult, bool) {
	if e.result == nil {
		return model.ChartResult{}, false
	}
	return *e.result, true
}

// LastError returns the error of the last applied chart response.
func (e *Engine) LastError() error {
	return e.lastErr
}

// Pending returns the query awaiting a response.
func (e *Engine) Pending() (Query, bool) {
	if e.pending == nil {
		return Query{}, false
	}
	return *e.pending, true
}

func (e *Engine) get(ctx context.Context, kv KeyValue, key string) (string, bool) {
	value, ok, err := kv.Get(ctx, key)
	if err != nil {
		e.logger.Warn("failed to read key", "key", key, "error", err)
		return "", false
	}
	return value, ok
}

func (e *Engine) set(ctx context.Context, kv KeyValue, key, value string) {
	if err := kv.Set(ctx, key, value); err != nil {
		e.logger.Warn("failed to write key", "key", key, "error", err)
	}
}
