package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scratch-registry/internal/catalog"
)

// DetailOptions parameterise the per-game detail fetcher.
type DetailOptions struct {
	// URLTemplate may contain {id} and {slug} placeholders.
	URLTemplate string
	Timeout     time.Duration
	UserAgent   string
	Limit       int
}

// DetailFetcher enriches entries whose overall odds are still unknown.
type DetailFetcher struct {
	opts   DetailOptions
	logger zerolog.Logger
	client *http.Client
}

// NewDetailFetcher constructs a detail fetcher.
func NewDetailFetcher(opts DetailOptions, logger zerolog.Logger) *DetailFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	return &DetailFetcher{
		opts:   opts,
		logger: logger.With().Str("component", "detail_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

type detailResponse struct {
	OverallOdds string `json:"overall_odds"`
}

// FetchOdds returns the overall odds of one game without the "1 in " prefix.
func (d *DetailFetcher) FetchOdds(ctx context.Context, entry catalog.Entry) (string, error) {
	if d.opts.URLTemplate == "" {
		return "", errors.New("sensor.detail_url_template is required")
	}
	endpoint := strings.NewReplacer(
		"{id}", url.PathEscape(entry.ExternalID),
		"{slug}", url.PathEscape(entry.URLSlug),
	).Replace(d.opts.URLTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	ua := strings.TrimSpace(d.opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseHTTPError(resp.StatusCode, payload)
	}

	var detail detailResponse
	if err := json.Unmarshal(payload, &detail); err != nil {
		return "", err
	}
	odds := strings.TrimSpace(detail.OverallOdds)
	if len(odds) >= 5 && strings.EqualFold(odds[:5], "1 in ") {
		odds = strings.TrimSpace(odds[5:])
	}
	if odds == "" {
		return "", errors.New("detail response carried no overall odds")
	}
	return odds, nil
}

// Heal fills in overall odds for up to Limit active entries still marked
// unknown. Failures leave the entry unchanged. The input is not mutated.
func (d *DetailFetcher) Heal(ctx context.Context, reg catalog.Registry) (catalog.Registry, int) {
	out := reg.Clone()
	healed := 0
	attempts := 0
	for _, id := range reg.IDs() {
		if attempts >= d.opts.Limit || ctx.Err() != nil {
			break
		}
		entry := out[id]
		if !entry.Active() || entry.OverallOdds != catalog.UnknownOdds {
			continue
		}
		attempts++

		odds, err := d.FetchOdds(ctx, entry)
		if err != nil {
			d.logger.Warn().Err(err).Str("game_id", id).Msg("detail fetch failed")
			continue
		}
		entry.OverallOdds = odds
		out[id] = entry
		healed++
		d.logger.Info().Str("game_id", id).Str("overall_odds", odds).Msg("overall odds recovered")
	}
	return out, healed
}

var _ OddsFetcher = (*DetailFetcher)(nil)
