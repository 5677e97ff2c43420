package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultUserAgent = "scratchwatch/1.0"

// FeedOptions parameterise the catalog feed sensor.
type FeedOptions struct {
	URL             string
	Timeout         time.Duration
	UserAgent       string
	SafetyThreshold int
}

// Feed fetches the already field-extracted catalog over HTTP.
type Feed struct {
	opts   FeedOptions
	logger zerolog.Logger
	client *http.Client
}

// NewFeed constructs a feed sensor.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Feed{
		opts:   opts,
		logger: logger.With().Str("component", "feed_sensor").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Observe downloads and decodes the catalog.
func (f *Feed) Observe(ctx context.Context) (Observation, error) {
	if strings.TrimSpace(f.opts.URL) == "" {
		return Observation{}, errors.New("sensor.feed_url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return Observation{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Observation{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Observation{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Observation{}, parseHTTPError(resp.StatusCode, payload)
	}

	obs, err := DecodeFeed(payload, f.opts.URL)
	if err != nil {
		return Observation{}, err
	}
	f.logger.Info().
		Int("games", len(obs.Records)).
		Float64("size_kb", obs.SizeKB).
		Dur("elapsed", time.Since(started)).
		Msg("catalog captured")

	if err := CheckSafety(obs, f.opts.SafetyThreshold); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("catalog feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("catalog feed error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("catalog feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("catalog feed error (%d)", status)
}

var _ Sensor = (*Feed)(nil)
