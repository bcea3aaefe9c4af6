package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/truebpm/internal/apperrors"
	"github.com/verte-zerg/truebpm/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{BaseURL: srv.URL + "/", RequestsPerSecond: 1000, Burst: 10})
	require.NoError(t, err)
	return client
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "localhost"})
	assert.Error(t, err)
}

func TestFetchCatalog(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/simfiles", r.URL.Path)
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"label": "Paranoia", "value": "paranoia", "pack": "DDR 1st"},
			{"value": "orphan"},
			{"label": "MAX 300", "value": "max300"}
		]`))
	})

	songs, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "Paranoia", songs[0].Label)
	assert.Equal(t, "paranoia", songs[0].Value)
	assert.Equal(t, map[string]any{"pack": "DDR 1st"}, songs[0].Extra)
	assert.Equal(t, "MAX 300", songs[1].Label)
	assert.Nil(t, songs[1].Extra)
}

func TestFetchCatalog_Unavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCatalogUnavailable)
}

func TestFetchChart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/simfiles/Foo%20Bar%2FBaz", r.URL.EscapedPath())
		q := r.URL.Query()
		assert.Equal(t, "Single", q.Get("style"))
		assert.Equal(t, "Hard", q.Get("difficulty"))
		assert.Equal(t, "600", q.Get("preferred_rate"))
		assert.Equal(t, "4", q.Get("speed_change_threshold"))
		_, _ = w.Write([]byte(`{"result": {
			"title": "Foo Bar/Baz",
			"number_of_measures": 4,
			"line_chart_data": {"stop": [0, 0, 1, 0], "bpm": [120, 120, 140, 140]}
		}}`))
	})

	res, err := client.FetchChart(context.Background(), model.NewChartQuery("Foo Bar/Baz", 600))
	require.NoError(t, err)
	assert.Equal(t, 4, res.NumberOfMeasures)
	assert.Equal(t, []float64{0, 0, 1, 0}, res.Stops)
	assert.Equal(t, []float64{120, 120, 140, 140}, res.BPM)
	assert.Equal(t, "Foo Bar/Baz", res.Raw["title"])
	assert.Contains(t, res.Raw, "line_chart_data")
}

func TestFetchChart_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.FetchChart(context.Background(), model.NewChartQuery("Nope", 573))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSong)
	assert.NotErrorIs(t, err, apperrors.ErrChartUnavailable)
}

func TestFetchChart_MalformedPayloads(t *testing.T) {
	tests := map[string]string{
		"not json":         `{"result":`,
		"missing result":   `{}`,
		"missing measures": `{"result": {"line_chart_data": {"stop": [], "bpm": []}}}`,
		"negative count":   `{"result": {"number_of_measures": -1, "line_chart_data": {"stop": [], "bpm": []}}}`,
		"missing series":   `{"result": {"number_of_measures": 1, "line_chart_data": {"bpm": [120]}}}`,
		"length mismatch":  `{"result": {"number_of_measures": 2, "line_chart_data": {"stop": [0], "bpm": [120, 130]}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := client.FetchChart(context.Background(), model.NewChartQuery("Song", 573))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrChartUnavailable)
		})
	}
}

func TestFetchChart_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "analysis failed", http.StatusBadGateway)
	})

	_, err := client.FetchChart(context.Background(), model.NewChartQuery("Song", 573))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrChartUnavailable)
	assert.Contains(t, err.Error(), "analysis failed")
}

func TestFetchChart_ZeroMeasures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"number_of_measures": 0, "line_chart_data": {"stop": [], "bpm": []}}}`))
	})

	res, err := client.FetchChart(context.Background(), model.NewChartQuery("Empty", 573))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NumberOfMeasures)
	assert.Empty(t, res.Stops)
}

func TestFetchChart_CanceledContext(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchChart(ctx, model.NewChartQuery("Song", 573))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrChartUnavailable)
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchChart_CanceledWhileWaitingForRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"result": {"number_of_measures": 0, "line_chart_data": {"stop": [], "bpm": []}}}`))
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{BaseURL: srv.URL, RequestsPerSecond: 0.1, Burst: 1})
	require.NoError(t, err)

	_, err = client.FetchChart(context.Background(), model.NewChartQuery("First", 573))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.FetchChart(ctx, model.NewChartQuery("Second", 573))
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled request kept waiting for the rate limiter")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestEscapeLabel(t *testing.T) {
	cases := map[string]string{
		"Foo Bar/Baz":           "Foo%20Bar%2FBaz",
		"Rock 'n' Roll (Remix)": "Rock%20'n'%20Roll%20(Remix)",
		"A*B!~C-D_E.F":          "A*B!~C-D_E.F",
		"1+1=2?&#":              "1%2B1%3D2%3F%26%23",
		"100%21":                "100%2521",
		"恋":                     "%E6%81%8B",
	}
	for label, want := range cases {
		assert.Equal(t, want, escapeLabel(label), label)
	}
}
