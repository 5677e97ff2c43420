// Package archive pushes registry state off-box. The live pointer is always
// refreshed; dated snapshots, deltas and changelog entries are only written
// when the registry fingerprint changed since the last archival.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scratch-registry/internal/blob"
	"scratch-registry/internal/catalog"
	"scratch-registry/internal/differ"
	"scratch-registry/internal/storage"
)

const (
	// LiveKey always holds the latest registry.
	LiveKey = "registry.json"
	// ChangelogKey holds the rolling changelog, newest first.
	ChangelogKey = "changelog.json"
	// DefaultChangelogLimit bounds the changelog length.
	DefaultChangelogLimit = 90
)

// SnapshotKey is the immutable archive location of a registry snapshot.
func SnapshotKey(runID string, at time.Time) string {
	return fmt.Sprintf("registry_history/%s/registry_%s.json", at.UTC().Format("2006/01"), runID)
}

// DeltaKey is the archive location of a run's delta report.
func DeltaKey(runID string, at time.Time) string {
	return fmt.Sprintf("deltas/%s/delta_%s.json", at.UTC().Format("2006/01"), runID)
}

// EvidenceKey is the archive location of a run's raw observation payload.
func EvidenceKey(runID string, at time.Time) string {
	return fmt.Sprintf("raw_payload/%s/%s.json", at.UTC().Format("2006/01"), runID)
}

// ChangelogEntry summarises one archived change.
type ChangelogEntry struct {
	Date         string          `json:"date"`
	RunID        string          `json:"run_id"`
	Fingerprint  string          `json:"fingerprint"`
	Summary      string          `json:"summary"`
	Added        int             `json:"added"`
	Retired      int             `json:"retired"`
	PrizeChanges int             `json:"prize_changes"`
	WealthDelta  decimal.Decimal `json:"wealth_delta"`
}

// Decision reports what an archival pass did.
type Decision struct {
	Fingerprint         string
	PreviousFingerprint string
	Changed             bool
	Delta               *differ.Delta
	SnapshotKey         string
	DeltaKey            string
}

// Options tune the deduplicator.
type Options struct {
	ChangelogLimit int
}

// Deduplicator decides what gets archived for each committed registry.
type Deduplicator struct {
	blobs  blob.Store
	cache  storage.FingerprintStore
	opts   Options
	logger zerolog.Logger
}

// New constructs a Deduplicator.
func New(blobs blob.Store, cache storage.FingerprintStore, opts Options, logger zerolog.Logger) *Deduplicator {
	if opts.ChangelogLimit <= 0 {
		opts.ChangelogLimit = DefaultChangelogLimit
	}
	return &Deduplicator{
		blobs:  blobs,
		cache:  cache,
		opts:   opts,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Archive refreshes the live pointer and, when the fingerprint changed,
// writes the snapshot, the delta against the previous live registry and a
// changelog entry. The cached fingerprint is only updated once every write
// succeeded.
func (d *Deduplicator) Archive(ctx context.Context, reg catalog.Registry, runID string, now time.Time) (Decision, error) {
	fingerprint, err := differ.Fingerprint(reg)
	if err != nil {
		return Decision{}, err
	}
	previous, err := d.cache.LoadFingerprint(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load cached fingerprint: %w", err)
	}

	decision := Decision{
		Fingerprint:         fingerprint,
		PreviousFingerprint: previous,
		Changed:             fingerprint != previous,
	}
	logger := d.logger.With().Str("run_id", runID).Str("fingerprint", fingerprint).Logger()

	body, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return Decision{}, fmt.Errorf("encode registry: %w", err)
	}

	if decision.Changed {
		prior, err := d.loadLive(ctx)
		if err != nil {
			return Decision{}, err
		}
		delta := differ.Compute(prior, reg, runID, now)
		decision.Delta = &delta

		decision.SnapshotKey = SnapshotKey(runID, now)
		if err := d.blobs.Put(ctx, decision.SnapshotKey, body, blob.ContentTypeJSON); err != nil {
			return Decision{}, fmt.Errorf("archive snapshot: %w", err)
		}

		deltaBody, err := json.MarshalIndent(delta, "", "  ")
		if err != nil {
			return Decision{}, fmt.Errorf("encode delta: %w", err)
		}
		decision.DeltaKey = DeltaKey(runID, now)
		if err := d.blobs.Put(ctx, decision.DeltaKey, deltaBody, blob.ContentTypeJSON); err != nil {
			return Decision{}, fmt.Errorf("archive delta: %w", err)
		}

		if err := d.appendChangelog(ctx, ChangelogEntry{
			Date:         now.UTC().Format(time.RFC3339),
			RunID:        runID,
			Fingerprint:  fingerprint,
			Summary:      delta.Summary,
			Added:        len(delta.GamesAdded),
			Retired:      len(delta.GamesRetired),
			PrizeChanges: len(delta.PrizeChanges),
			WealthDelta:  delta.WealthDelta,
		}); err != nil {
			return Decision{}, err
		}

		logger.Info().
			Str("previous", previous).
			Str("snapshot", decision.SnapshotKey).
			Str("summary", delta.Summary).
			Msg("registry changed, snapshot archived")
	} else {
		logger.Info().Msg("registry unchanged, refreshing live pointer only")
	}

	if err := d.blobs.Put(ctx, LiveKey, body, blob.ContentTypeJSON); err != nil {
		return Decision{}, fmt.Errorf("refresh live pointer: %w", err)
	}
	if decision.Changed {
		if err := d.cache.SaveFingerprint(ctx, fingerprint); err != nil {
			return Decision{}, fmt.Errorf("save cached fingerprint: %w", err)
		}
	}
	return decision, nil
}

// ArchiveEvidence stores the raw observation payload of a run.
func (d *Deduplicator) ArchiveEvidence(ctx context.Context, runID string, payload []byte, now time.Time) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	key := EvidenceKey(runID, now)
	if err := d.blobs.Put(ctx, key, payload, blob.ContentTypeJSON); err != nil {
		return "", fmt.Errorf("archive evidence: %w", err)
	}
	d.logger.Debug().Str("run_id", runID).Str("key", key).Msg("evidence archived")
	return key, nil
}

// Changelog returns the archived changelog, newest first.
func (d *Deduplicator) Changelog(ctx context.Context) ([]ChangelogEntry, error) {
	data, err := d.blobs.Get(ctx, ChangelogKey)
	if errors.Is(err, blob.ErrNotFound) {
		return []ChangelogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load changelog: %w", err)
	}
	var entries []ChangelogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		d.logger.Warn().Err(err).Msg("changelog unreadable, starting a new one")
		return []ChangelogEntry{}, nil
	}
	return entries, nil
}

// WriteChangelog renders changelog entries in the order given.
func WriteChangelog(w io.Writer, entries []ChangelogEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no changelog entries")
		return err
	}
	for _, e := range entries {
		_, err := fmt.Fprintf(w, "%s  %s  fingerprint %s\n    added %d  retired %d  prize changes %d  wealth %s\n    %s\n",
			e.Date, e.RunID, e.Fingerprint, e.Added, e.Retired, e.PrizeChanges, signedMoney(e.WealthDelta), e.Summary)
		if err != nil {
			return err
		}
	}
	return nil
}

func signedMoney(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + differ.FormatMoney(amount)
	}
	return differ.FormatMoney(amount)
}

func (d *Deduplicator) appendChangelog(ctx context.Context, entry ChangelogEntry) error {
	entries, err := d.Changelog(ctx)
	if err != nil {
		return err
	}
	entries = append([]ChangelogEntry{entry}, entries...)
	if len(entries) > d.opts.ChangelogLimit {
		entries = entries[:d.opts.ChangelogLimit]
	}
	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode changelog: %w", err)
	}
	if err := d.blobs.Put(ctx, ChangelogKey, body, blob.ContentTypeJSON); err != nil {
		return fmt.Errorf("archive changelog: %w", err)
	}
	return nil
}

// loadLive reads the registry behind the live pointer before it is replaced.
func (d *Deduplicator) loadLive(ctx context.Context) (catalog.Registry, error) {
	data, err := d.blobs.Get(ctx, LiveKey)
	if errors.Is(err, blob.ErrNotFound) {
		return catalog.Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load live registry: %w", err)
	}
	var reg catalog.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		d.logger.Warn().Err(err).Msg("live registry unreadable, diffing against empty registry")
		return catalog.Registry{}, nil
	}
	if reg == nil {
		reg = catalog.Registry{}
	}
	return reg, nil
}
