// Package pulse keeps a bounded history of per-run statistics and derives the
// rolling baseline used for anomaly comparison.
package pulse

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scratch-registry/internal/storage"
)

const (
	// DefaultCapacity bounds the history to the most recent samples.
	DefaultCapacity = 200
	// DefaultMinSamples is the history length required before a baseline exists.
	DefaultMinSamples = 3
)

// Baseline is the arithmetic mean of the stored samples.
type Baseline struct {
	AvgWealth decimal.Decimal
	AvgGames  decimal.Decimal
	Samples   int
}

// Append adds a sample and evicts the oldest entries beyond capacity.
func Append(history []storage.PulseSample, sample storage.PulseSample, capacity int) []storage.PulseSample {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	out := make([]storage.PulseSample, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, sample)
	if len(out) > capacity {
		out = out[len(out)-capacity:]
	}
	return out
}

// ComputeBaseline averages wealth and game count across the history. It
// reports false when fewer than minSamples samples are stored.
func ComputeBaseline(history []storage.PulseSample, minSamples int) (Baseline, bool) {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if len(history) < minSamples {
		return Baseline{}, false
	}

	wealth := decimal.Zero
	games := decimal.Zero
	for _, s := range history {
		wealth = wealth.Add(s.TotalWealth)
		games = games.Add(decimal.NewFromInt(int64(s.GameCount)))
	}
	n := decimal.NewFromInt(int64(len(history)))
	return Baseline{
		AvgWealth: wealth.Div(n),
		AvgGames:  games.Div(n),
		Samples:   len(history),
	}, true
}

// Options tune the tracker.
type Options struct {
	Capacity   int
	MinSamples int
}

// Tracker owns the persisted pulse history.
type Tracker struct {
	store  storage.PulseStore
	opts   Options
	logger zerolog.Logger
}

// NewTracker constructs a tracker over a pulse store.
func NewTracker(store storage.PulseStore, opts Options, logger zerolog.Logger) *Tracker {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = DefaultMinSamples
	}
	return &Tracker{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "pulse").Logger(),
	}
}

// Record appends a sample and persists the bounded history.
func (t *Tracker) Record(ctx context.Context, sample storage.PulseSample) error {
	history, err := t.store.LoadPulse(ctx)
	if err != nil {
		return fmt.Errorf("load pulse history: %w", err)
	}

	updated := Append(history, sample, t.opts.Capacity)
	if err := t.store.SavePulse(ctx, updated); err != nil {
		return fmt.Errorf("save pulse history: %w", err)
	}

	t.logger.Debug().
		Str("run_id", sample.RunID).
		Int("history_len", len(updated)).
		Msg("pulse sample recorded")
	return nil
}

// Baseline loads the history and computes the rolling baseline.
func (t *Tracker) Baseline(ctx context.Context) (Baseline, bool, error) {
	history, err := t.store.LoadPulse(ctx)
	if err != nil {
		return Baseline{}, false, fmt.Errorf("load pulse history: %w", err)
	}
	baseline, ok := ComputeBaseline(history, t.opts.MinSamples)
	if !ok {
		t.logger.Debug().Int("samples", len(history)).Msg("not enough history for a baseline")
	}
	return baseline, ok, nil
}

// History returns the stored samples oldest first.
func (t *Tracker) History(ctx context.Context) ([]storage.PulseSample, error) {
	return t.store.LoadPulse(ctx)
}
