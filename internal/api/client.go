// Package api talks to the simfile analysis backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/verte-zerg/truebpm/internal/apperrors"
	"github.com/verte-zerg/truebpm/internal/logger"
	"github.com/verte-zerg/truebpm/internal/model"
)

const (
	simfilesPath     = "/api/v1/simfiles"
	requestIDHeader  = "X-Request-Id"
	defaultTimeout   = 30 * time.Second
	defaultRate      = 4
	defaultBurst     = 2
	maxErrorBodySize = 512
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client fetches the song catalog and chart descriptions.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewClient creates a backend client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host are required", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	perSecond := opts.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = defaultRate
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:     base,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		validate:    validator.New(),
		logger:      log,
	}, nil
}

// FetchCatalog returns the selectable songs. Entries without a label are skipped.
func (c *Client) FetchCatalog(ctx context.Context) ([]model.SongRef, error) {
	var entries []map[string]any
	if err := c.getJSON(ctx, c.baseURL.String()+simfilesPath, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCatalogUnavailable, err)
	}
	songs := make([]model.SongRef, 0, len(entries))
	for i, entry := range entries {
		label, ok := entry["label"].(string)
		if !ok || label == "" {
			c.logger.Warn("skipping catalog entry without label", "index", i)
			continue
		}
		song := model.SongRef{Label: label}
		if value, ok := entry["value"].(string); ok {
			song.Value = value
		}
		for k, v := range entry {
			if k == "label" || k == "value" {
				continue
			}
			if song.Extra == nil {
				song.Extra = make(map[string]any)
			}
			song.Extra[k] = v
		}
		songs = append(songs, song)
	}
	c.logger.Debug("catalog loaded", "songs", len(songs))
	return songs, nil
}

type chartEnvelope struct {
	Result *chartPayload `json:"result" validate:"required"`
}

type chartPayload struct {
	NumberOfMeasures *int           `json:"number_of_measures" validate:"required,gte=0"`
	LineChartData    *lineChartData `json:"line_chart_data" validate:"required"`
}

type lineChartData struct {
	Stop []float64 `json:"stop" validate:"required"`
	BPM  []float64 `json:"bpm" validate:"required"`
}

type rawEnvelope struct {
	Result map[string]any `json:"result"`
}

// FetchChart returns the chart description for q.
func (c *Client) FetchChart(ctx context.Context, q model.ChartQuery) (model.ChartResult, error) {
	if strings.TrimSpace(q.Song) == "" {
		return model.ChartResult{}, fmt.Errorf("%w: empty song label", apperrors.ErrInvalidSong)
	}
	params := url.Values{}
	params.Set("style", q.Style)
	params.Set("difficulty", q.Difficulty)
	params.Set("preferred_rate", strconv.Itoa(q.ReadSpeed))
	params.Set("speed_change_threshold", strconv.Itoa(q.SpeedChangeThreshold))
	chartURL := c.baseURL.String() + simfilesPath + "/" + escapeLabel(q.Song) + "?" + params.Encode()

	body, err := c.get(ctx, chartURL)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return model.ChartResult{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidSong, q.Song)
		}
		return model.ChartResult{}, fmt.Errorf("%w: %w", apperrors.ErrChartUnavailable, err)
	}

	var envelope chartEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.ChartResult{}, fmt.Errorf("%w: failed to decode chart: %w", apperrors.ErrChartUnavailable, err)
	}
	if err := c.validate.Struct(envelope); err != nil {
		return model.ChartResult{}, fmt.Errorf("%w: invalid chart payload: %w", apperrors.ErrChartUnavailable, err)
	}
	payload := envelope.Result
	n := *payload.NumberOfMeasures
	if len(payload.LineChartData.Stop) != n || len(payload.LineChartData.BPM) != n {
		return model.ChartResult{}, fmt.Errorf("%w: series lengths %d/%d do not match %d measures",
			apperrors.ErrChartUnavailable, len(payload.LineChartData.Stop), len(payload.LineChartData.BPM), n)
	}

	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.ChartResult{}, fmt.Errorf("%w: failed to decode chart: %w", apperrors.ErrChartUnavailable, err)
	}
	return model.ChartResult{
		NumberOfMeasures: n,
		Stops:            payload.LineChartData.Stop,
		BPM:              payload.LineChartData.BPM,
		Raw:              raw.Result,
	}, nil
}

var errNotFound = errors.New("not found")

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	body, err := c.get(ctx, target)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "request_id", requestID, "url", target, "error", err)
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort close of response body.
			_ = cerr
		}
	}()
	c.logger.Debug("backend response",
		"request_id", requestID,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// componentUnescaper restores the characters that QueryEscape encodes but a
// browser's encodeURIComponent leaves as is.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeLabel escapes a song label as a single path segment, the way share
// links built in a browser do.
func escapeLabel(label string) string {
	return componentUnescaper.Replace(url.QueryEscape(label))
}
