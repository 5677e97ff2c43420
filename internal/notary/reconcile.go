package notary

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scratch-registry/internal/catalog"
	"scratch-registry/internal/pulse"
	"scratch-registry/internal/storage"
	"scratch-registry/internal/wealth"
)

// ErrIntegrityGate marks a run rejected because observed wealth collapsed.
var ErrIntegrityGate = errors.New("notary: integrity gate tripped")

// IntegrityError carries the figures behind a hard gate failure.
type IntegrityError struct {
	OldWealth decimal.Decimal
	NewWealth decimal.Decimal
	Floor     decimal.Decimal
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("wealth dropped from %s to %s (floor %s)",
		e.OldWealth.StringFixed(2), e.NewWealth.StringFixed(2), e.Floor.StringFixed(2))
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityGate }

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventBirth   EventKind = "birth"
	EventStasis  EventKind = "stasis"
	EventRevival EventKind = "revival"
	EventMiss    EventKind = "miss"
	EventDeath   EventKind = "death"
)

// Event is one lifecycle transition applied during a run.
type Event struct {
	Kind      EventKind
	GameID    string
	GameName  string
	MissCount int
}

// Options tune the gates and the death sweep.
type Options struct {
	// IntegrityRetention is the share of prior wealth a run must keep.
	IntegrityRetention float64
	// AnomalyThreshold is the relative wealth deviation from baseline that raises an anomaly.
	AnomalyThreshold  float64
	RetireAfterMisses int
	NewGUID           func() string
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		IntegrityRetention: 0.75,
		AnomalyThreshold:   0.40,
		RetireAfterMisses:  3,
		NewGUID:            uuid.NewString,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IntegrityRetention <= 0 {
		o.IntegrityRetention = d.IntegrityRetention
	}
	if o.AnomalyThreshold <= 0 {
		o.AnomalyThreshold = d.AnomalyThreshold
	}
	if o.RetireAfterMisses <= 0 {
		o.RetireAfterMisses = d.RetireAfterMisses
	}
	if o.NewGUID == nil {
		o.NewGUID = d.NewGUID
	}
	return o
}

// Input is one validated observation.
type Input struct {
	Records       []catalog.ObservedRecord
	RunID         string
	PayloadSizeKB *float64
	Now           time.Time
}

// Anomaly is the result of the statistical gate. It never aborts a run.
type Anomaly struct {
	WealthDeviation decimal.Decimal
	GameDeviation   decimal.Decimal
	BaselineSamples int
	Exceeded        bool
}

// Result is a committed reconciliation.
type Result struct {
	Prior      catalog.Registry
	Registry   catalog.Registry
	Sample     storage.PulseSample
	Events     []Event
	Duplicates []string
	OldWealth  decimal.Decimal
	NewWealth  decimal.Decimal
	// Anomaly is nil when no baseline was available.
	Anomaly *Anomaly
}

// Count returns how many events of a kind were applied.
func (r Result) Count(kind EventKind) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Reconcile merges observed records into the prior registry. It performs no
// I/O; the prior registry is never mutated. A tripped hard gate returns an
// *IntegrityError and no result.
func Reconcile(prior catalog.Registry, baseline *pulse.Baseline, in Input, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if prior == nil {
		prior = catalog.Registry{}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	observed, duplicates := dedupe(in.Records)

	oldWealth := wealth.Total(prior)

	candidate := prior.Clone()
	for _, rec := range observed {
		entry, ok := candidate[rec.ExternalID]
		if !ok {
			entry = catalog.Entry{ExternalID: rec.ExternalID, DisplayName: rec.DisplayName}
		}
		entry.Prizes = catalog.ClonePrizes(rec.Prizes)
		entry.Status = catalog.StatusActive
		candidate[rec.ExternalID] = entry
	}
	stats := wealth.Summarize(candidate)
	newWealth := stats.TotalWealth
	gameCount := len(observed)

	if oldWealth.IsPositive() {
		floor := oldWealth.Mul(decimal.NewFromFloat(opts.IntegrityRetention))
		if newWealth.LessThanOrEqual(floor) {
			return Result{}, &IntegrityError{OldWealth: oldWealth, NewWealth: newWealth, Floor: floor}
		}
	}

	var anomaly *Anomaly
	if baseline != nil {
		a := Anomaly{
			WealthDeviation: relativeDeviation(newWealth, baseline.AvgWealth),
			GameDeviation:   relativeDeviation(decimal.NewFromInt(int64(gameCount)), baseline.AvgGames),
			BaselineSamples: baseline.Samples,
		}
		a.Exceeded = a.WealthDeviation.GreaterThan(decimal.NewFromFloat(opts.AnomalyThreshold))
		anomaly = &a
	}

	next := prior.Clone()
	events := make([]Event, 0, len(observed))
	live := make(map[string]struct{}, len(observed))
	for _, rec := range observed {
		live[rec.ExternalID] = struct{}{}
		entry, ok := next[rec.ExternalID]
		if ok {
			kind := EventStasis
			if !entry.Active() {
				kind = EventRevival
				entry.DeathDate = nil
			}
			entry.LastSeen = now
			entry.Status = catalog.StatusActive
			entry.MissCount = 0
			entry.Prizes = catalog.ClonePrizes(rec.Prizes)
			entry.LastRunID = in.RunID
			if rec.TicketPrice != "" {
				entry.TicketPrice = rec.TicketPrice
			}
			next[rec.ExternalID] = entry
			events = append(events, Event{Kind: kind, GameID: rec.ExternalID, GameName: entry.DisplayName})
			continue
		}

		next[rec.ExternalID] = catalog.Entry{
			GUID:        opts.NewGUID(),
			ExternalID:  rec.ExternalID,
			DisplayName: rec.DisplayName,
			ProductKey:  catalog.Slugify(rec.DisplayName),
			URLSlug:     rec.URLSlug,
			OverallOdds: catalog.UnknownOdds,
			TicketPrice: rec.TicketPrice,
			Prizes:      catalog.ClonePrizes(rec.Prizes),
			Status:      catalog.StatusActive,
			FirstSeen:   now,
			LastSeen:    now,
			LastRunID:   in.RunID,
		}
		events = append(events, Event{Kind: EventBirth, GameID: rec.ExternalID, GameName: rec.DisplayName})
	}

	for _, id := range prior.IDs() {
		if _, seen := live[id]; seen {
			continue
		}
		entry := next[id]
		if !entry.Active() {
			continue
		}
		entry.MissCount++
		if entry.MissCount >= opts.RetireAfterMisses {
			death := now
			entry.Status = catalog.StatusRetired
			entry.DeathDate = &death
			events = append(events, Event{Kind: EventDeath, GameID: id, GameName: entry.DisplayName, MissCount: entry.MissCount})
		} else {
			events = append(events, Event{Kind: EventMiss, GameID: id, GameName: entry.DisplayName, MissCount: entry.MissCount})
		}
		next[id] = entry
	}

	res := Result{
		Prior:      prior,
		Registry:   next,
		Events:     events,
		Duplicates: duplicates,
		OldWealth:  oldWealth,
		NewWealth:  newWealth,
		Anomaly:    anomaly,
	}
	res.Sample = storage.PulseSample{
		RunID:         in.RunID,
		Timestamp:     now,
		GameCount:     gameCount,
		TotalWealth:   newWealth,
		TopPrizeSum:   stats.TopPrizeSum,
		BirthCount:    res.Count(EventBirth),
		DeathCount:    res.Count(EventDeath),
		RevivalCount:  res.Count(EventRevival),
		PayloadSizeKB: in.PayloadSizeKB,
	}
	if anomaly != nil {
		dev := anomaly.WealthDeviation
		res.Sample.WealthDeviation = &dev
		res.Sample.Anomaly = anomaly.Exceeded
	}
	return res, nil
}

// dedupe keeps the last occurrence of each external id at the position of
// its first occurrence.
func dedupe(records []catalog.ObservedRecord) ([]catalog.ObservedRecord, []string) {
	index := make(map[string]int, len(records))
	out := make([]catalog.ObservedRecord, 0, len(records))
	var duplicates []string
	for _, rec := range records {
		if i, ok := index[rec.ExternalID]; ok {
			out[i] = rec
			duplicates = append(duplicates, rec.ExternalID)
			continue
		}
		index[rec.ExternalID] = len(out)
		out = append(out, rec)
	}
	return out, duplicates
}

func relativeDeviation(value, mean decimal.Decimal) decimal.Decimal {
	if mean.IsZero() {
		if value.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(1)
	}
	return value.Sub(mean).Abs().Div(mean.Abs())
}
