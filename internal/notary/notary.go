// Package notary owns the registry lifecycle. It merges each observation into
// the persisted registry, guards the merge with integrity gates and records
// the run in the pulse history.
package notary

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"scratch-registry/internal/catalog"
	"scratch-registry/internal/pulse"
	"scratch-registry/internal/storage"
)

// Notary runs reconciliations against persisted state.
type Notary struct {
	registry storage.RegistryStore
	tracker  *pulse.Tracker
	opts     Options
	logger   zerolog.Logger
}

// New constructs a Notary.
func New(registry storage.RegistryStore, tracker *pulse.Tracker, opts Options, logger zerolog.Logger) *Notary {
	return &Notary{
		registry: registry,
		tracker:  tracker,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "notary").Logger(),
	}
}

// Registry loads the currently persisted registry.
func (n *Notary) Registry(ctx context.Context) (catalog.Registry, error) {
	return n.registry.LoadRegistry(ctx)
}

// Audit reconciles one observation and commits it. Nothing is written when
// the integrity gate trips.
func (n *Notary) Audit(ctx context.Context, in Input) (Result, error) {
	logger := n.logger.With().Str("run_id", in.RunID).Logger()

	prior, err := n.registry.LoadRegistry(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load registry: %w", err)
	}

	baseline, ok, err := n.tracker.Baseline(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load baseline: %w", err)
	}
	var base *pulse.Baseline
	if ok {
		base = &baseline
	}

	res, err := Reconcile(prior, base, in, n.opts)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			logger.Error().
				Str("old_wealth", integrity.OldWealth.StringFixed(2)).
				Str("new_wealth", integrity.NewWealth.StringFixed(2)).
				Str("floor", integrity.Floor.StringFixed(2)).
				Msg("integrity failure, aborting run")
		}
		return Result{}, err
	}

	for _, id := range res.Duplicates {
		logger.Warn().Str("game_id", id).Msg("duplicate game in observation, keeping last occurrence")
	}
	if res.Anomaly != nil && res.Anomaly.Exceeded {
		logger.Warn().
			Str("wealth_deviation", res.Anomaly.WealthDeviation.StringFixed(4)).
			Str("game_deviation", res.Anomaly.GameDeviation.StringFixed(4)).
			Int("baseline_samples", res.Anomaly.BaselineSamples).
			Msg("wealth deviates from baseline")
	}

	for _, ev := range res.Events {
		switch ev.Kind {
		case EventBirth, EventDeath, EventRevival:
			logger.Info().Str("event", string(ev.Kind)).Str("game_id", ev.GameID).Str("game_name", ev.GameName).Msg("lifecycle event")
		case EventMiss:
			logger.Debug().Str("game_id", ev.GameID).Int("miss_count", ev.MissCount).Msg("game missing from observation")
		}
	}

	if err := n.registry.SaveRegistry(ctx, res.Registry); err != nil {
		return Result{}, fmt.Errorf("save registry: %w", err)
	}
	if err := n.tracker.Record(ctx, res.Sample); err != nil {
		return Result{}, fmt.Errorf("record pulse: %w", err)
	}

	logger.Info().
		Int("entries", len(res.Registry)).
		Int("active", res.Registry.CountActive()).
		Int("births", res.Sample.BirthCount).
		Int("deaths", res.Sample.DeathCount).
		Int("revivals", res.Sample.RevivalCount).
		Str("total_wealth", res.NewWealth.StringFixed(2)).
		Msg("audit complete")
	return res, nil
}

// SaveRegistry replaces the persisted registry. Used after enrichment, which
// only touches metadata.
func (n *Notary) SaveRegistry(ctx context.Context, reg catalog.Registry) error {
	return n.registry.SaveRegistry(ctx, reg)
}
