package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scratch-registry/internal/alerting"
	"scratch-registry/internal/archive"
	"scratch-registry/internal/catalog"
	"scratch-registry/internal/config"
	"scratch-registry/internal/differ"
	"scratch-registry/internal/fetcher"
	"scratch-registry/internal/metrics"
	"scratch-registry/internal/notary"
	"scratch-registry/internal/scheduler"
	"scratch-registry/internal/storage"
	"scratch-registry/internal/telemetry"
)

// ErrNoValidRecords means every observed record was rejected by validation.
var ErrNoValidRecords = errors.New("observation contained no valid records")

// Healer enriches committed entries with metadata the feed omits.
type Healer interface {
	Heal(ctx context.Context, reg catalog.Registry) (catalog.Registry, int)
}

// Archiver ships committed registries off-box.
type Archiver interface {
	Archive(ctx context.Context, reg catalog.Registry, runID string, now time.Time) (archive.Decision, error)
	ArchiveEvidence(ctx context.Context, runID string, payload []byte, now time.Time) (string, error)
}

// Dependencies groups the collaborators of a census. Only Sensor and Notary
// are required.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Sensor    fetcher.Sensor
	Notary    *notary.Notary
	Healer    Healer
	Archiver  Archiver
	Runs      storage.RunStore
	Notifier  alerting.Notifier
	Metrics   *metrics.Recorder
}

// Report summarises one census run.
type Report struct {
	RunID       string
	Status      string
	Observed    int
	Skipped     int
	Healed      int
	Result      *notary.Result
	Delta       *differ.Delta
	Archive     *archive.Decision
	EvidenceKey string
	Duration    time.Duration
}

// Service orchestrates observation, reconciliation, archival and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	sensor    fetcher.Sensor
	notary    *notary.Notary
	healer    Healer
	archiver  Archiver
	runs      storage.RunStore
	notifier  alerting.Notifier
	metrics   *metrics.Recorder
	logger    zerolog.Logger

	safetyThreshold  int
	anomalyThreshold decimal.Decimal
	keepEvidence     bool
	channels         []string
	alertsOn         bool
	topPrizeAlerts   bool
	locker           storage.AdvisoryLocker
	lockKey          int64

	now func() time.Time
}

// New constructs the census service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Runs.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:        deps.Scheduler,
		sensor:           deps.Sensor,
		notary:           deps.Notary,
		healer:           deps.Healer,
		archiver:         deps.Archiver,
		runs:             deps.Runs,
		notifier:         deps.Notifier,
		metrics:          deps.Metrics,
		logger:           logger.With().Str("component", "service").Logger(),
		safetyThreshold:  cfg.Sensor.SafetyThreshold,
		anomalyThreshold: decimal.NewFromFloat(cfg.Notary.AnomalyThreshold),
		keepEvidence:     cfg.Archive.KeepEvidence,
		channels:         cfg.Alerting.Channels,
		alertsOn:         cfg.Alerting.Enabled,
		topPrizeAlerts:   cfg.Alerting.TopPrizeClaims,
		locker:           locker,
		lockKey:          cfg.Scheduler.AdvisoryLockKey,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the aligned census loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one scheduled census. A census that fails is logged and
// retried on the next tick.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time, runID string) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Str("run_id", runID).Msg("skip census because advisory lock held elsewhere")
		s.metrics.ObserveRun(metrics.OutcomeSkipped, 0)
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.Census(ctx, s.sensor, runID)
	return err
}

// RunOnce performs a single locked census with the configured sensor.
func (s *Service) RunOnce(ctx context.Context, runID string) (Report, error) {
	return s.RunWith(ctx, s.sensor, runID)
}

// RunWith performs a single locked census with the given sensor.
func (s *Service) RunWith(ctx context.Context, sensor fetcher.Sensor, runID string) (Report, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Report{}, err
	}
	if !proceed {
		return Report{}, fmt.Errorf("another census holds advisory lock %d", s.lockKey)
	}
	if unlock != nil {
		defer unlock()
	}
	return s.Census(ctx, sensor, runID)
}

// Census executes observe, validate, audit, heal and archive for one run.
// Integrity-gate aborts return an error wrapping notary.ErrIntegrityGate.
func (s *Service) Census(ctx context.Context, sensor fetcher.Sensor, runID string) (Report, error) {
	if sensor == nil {
		return Report{}, fmt.Errorf("sensor not configured")
	}
	if s.notary == nil {
		return Report{}, fmt.Errorf("notary not configured")
	}

	started := s.now()
	logger := s.logger.With().Str("run_id", runID).Logger()

	ctx, span := telemetry.Tracer().Start(ctx, "census", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	report := Report{RunID: runID}
	record := storage.RunRecord{RunID: runID, StartedAt: started}

	res, obs, err := s.observeAndAudit(ctx, sensor, runID, started, &report, logger)
	if err != nil {
		var integrity *notary.IntegrityError
		if errors.As(err, &integrity) {
			report.Status = storage.RunAborted
			s.alertIntegrity(ctx, runID, started, integrity)
		} else {
			report.Status = storage.RunFailed
		}
		record.GameCount = report.Observed
		record.SkippedCount = report.Skipped
		s.finish(ctx, &report, &record, started, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, report.Status)
		return report, err
	}

	report.Status = storage.RunCommitted
	report.Result = &res

	if s.healer != nil {
		report.Healed = s.heal(ctx, &res, logger)
	}

	delta := differ.Compute(res.Prior, res.Registry, runID, started)
	report.Delta = &delta

	if s.archiver != nil {
		s.archive(ctx, res, obs, runID, started, &report, &record, logger)
	}

	s.publish(res)
	s.alertRun(ctx, runID, started, res, delta)

	record.GameCount = res.Sample.GameCount
	record.TotalWealth = res.Sample.TotalWealth
	record.TopPrizeSum = res.Sample.TopPrizeSum
	record.BirthCount = res.Sample.BirthCount
	record.DeathCount = res.Sample.DeathCount
	record.RevivalCount = res.Sample.RevivalCount
	record.SkippedCount = report.Skipped
	record.Anomaly = res.Sample.Anomaly
	record.WealthDeviation = res.Sample.WealthDeviation
	s.finish(ctx, &report, &record, started, nil)

	span.SetAttributes(
		attribute.Int("census.games", res.Sample.GameCount),
		attribute.Int("census.births", res.Sample.BirthCount),
		attribute.Int("census.deaths", res.Sample.DeathCount),
		attribute.String("census.total_wealth", res.Sample.TotalWealth.StringFixed(2)),
	)

	logger.Info().
		Int("observed", report.Observed).
		Int("skipped", report.Skipped).
		Int("healed", report.Healed).
		Str("summary", differ.Summarize(delta)).
		Dur("duration", report.Duration).
		Msg("census committed")
	return report, nil
}

func (s *Service) observeAndAudit(ctx context.Context, sensor fetcher.Sensor, runID string, started time.Time, report *Report, logger zerolog.Logger) (notary.Result, fetcher.Observation, error) {
	obsCtx, obsSpan := telemetry.Tracer().Start(ctx, "census.observe")
	obs, err := sensor.Observe(obsCtx)
	if err == nil {
		err = fetcher.CheckSafety(obs, s.safetyThreshold)
	}
	report.Observed = len(obs.Records)
	obsSpan.SetAttributes(attribute.Int("census.observed", len(obs.Records)))
	obsSpan.End()
	if err != nil {
		return notary.Result{}, obs, fmt.Errorf("observe catalog: %w", err)
	}

	batch := catalog.ValidateBatch(obs.Records)
	for _, rej := range batch.Rejected {
		evt := logger.Warn().Int("index", rej.Index).Str("game_id", rej.GameID)
		if rej.Err != nil {
			evt = evt.Str("errors", rej.Err.Error())
		}
		evt.Msg("record rejected")
	}
	report.Skipped = len(batch.Rejected)
	s.metrics.AddSkipped(report.Skipped)
	if len(batch.Accepted) == 0 {
		return notary.Result{}, obs, fmt.Errorf("%w (%d rejected)", ErrNoValidRecords, len(batch.Rejected))
	}

	in := notary.Input{Records: batch.Accepted, RunID: runID, Now: started}
	if obs.SizeKB > 0 {
		size := obs.SizeKB
		in.PayloadSizeKB = &size
	}

	auditCtx, auditSpan := telemetry.Tracer().Start(ctx, "census.audit")
	defer auditSpan.End()
	res, err := s.notary.Audit(auditCtx, in)
	if err != nil {
		auditSpan.RecordError(err)
		return notary.Result{}, obs, fmt.Errorf("audit run %s: %w", runID, err)
	}
	return res, obs, nil
}

func (s *Service) heal(ctx context.Context, res *notary.Result, logger zerolog.Logger) int {
	ctx, span := telemetry.Tracer().Start(ctx, "census.heal")
	defer span.End()

	healed, n := s.healer.Heal(ctx, res.Registry)
	span.SetAttributes(attribute.Int("census.healed", n))
	if n == 0 {
		return 0
	}
	if err := s.notary.SaveRegistry(ctx, healed); err != nil {
		logger.Error().Err(err).Msg("failed to persist healed registry")
		return 0
	}
	res.Registry = healed
	return n
}

func (s *Service) archive(ctx context.Context, res notary.Result, obs fetcher.Observation, runID string, started time.Time, report *Report, record *storage.RunRecord, logger zerolog.Logger) {
	ctx, span := telemetry.Tracer().Start(ctx, "census.archive")
	defer span.End()

	decision, err := s.archiver.Archive(ctx, res.Registry, runID, started)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("archival failed, registry remains committed locally")
		msg := fmt.Sprintf("archive: %v", err)
		record.Error = &msg
	} else {
		report.Archive = &decision
		record.Fingerprint = decision.Fingerprint
		record.Archived = decision.Changed
		s.metrics.ObserveArchive(decision.Changed)
		span.SetAttributes(attribute.Bool("archive.changed", decision.Changed), attribute.String("archive.fingerprint", decision.Fingerprint))
	}

	if s.keepEvidence && len(obs.Payload) > 0 {
		key, err := s.archiver.ArchiveEvidence(ctx, runID, obs.Payload, started)
		if err != nil {
			logger.Error().Err(err).Msg("failed to archive raw payload")
			return
		}
		report.EvidenceKey = key
	}
}

func (s *Service) publish(res notary.Result) {
	s.metrics.SetSnapshot(res.Sample.TotalWealth, res.Sample.TopPrizeSum, res.Registry.CountActive())
	s.metrics.AddLifecycle(string(notary.EventBirth), res.Sample.BirthCount)
	s.metrics.AddLifecycle(string(notary.EventDeath), res.Sample.DeathCount)
	s.metrics.AddLifecycle(string(notary.EventRevival), res.Sample.RevivalCount)
	if res.Anomaly != nil && res.Anomaly.Exceeded {
		s.metrics.IncAnomaly()
	}
}

func (s *Service) finish(ctx context.Context, report *Report, record *storage.RunRecord, started time.Time, runErr error) {
	finished := s.now()
	report.Duration = finished.Sub(started)
	record.FinishedAt = finished
	record.Status = report.Status
	if runErr != nil {
		msg := runErr.Error()
		record.Error = &msg
	}

	outcome := metrics.OutcomeFailed
	switch report.Status {
	case storage.RunCommitted:
		outcome = metrics.OutcomeCommitted
	case storage.RunAborted:
		outcome = metrics.OutcomeAborted
	}
	s.metrics.ObserveRun(outcome, report.Duration.Seconds())

	if s.runs != nil {
		if err := s.runs.UpsertRun(ctx, *record); err != nil && !errors.Is(err, storage.ErrNotConfigured) {
			s.logger.Error().Err(err).Str("run_id", record.RunID).Msg("failed to record run")
		}
	}
}

func (s *Service) alertIntegrity(ctx context.Context, runID string, at time.Time, integrity *notary.IntegrityError) {
	s.dispatch(ctx, alerting.Notification{
		At:             at,
		RunID:          runID,
		Kind:           alerting.KindIntegrityFailure,
		Headline:       "Integrity gate tripped, run aborted and nothing committed",
		PreviousWealth: integrity.OldWealth,
		TotalWealth:    integrity.NewWealth,
		Details:        []string{"Floor: " + differ.FormatMoney(integrity.Floor)},
	})
}

func (s *Service) alertRun(ctx context.Context, runID string, at time.Time, res notary.Result, delta differ.Delta) {
	if res.Anomaly != nil && res.Anomaly.Exceeded {
		dev := res.Anomaly.WealthDeviation
		s.dispatch(ctx, alerting.Notification{
			At:              at,
			RunID:           runID,
			Kind:            alerting.KindAnomaly,
			Headline:        "Total wealth deviates from rolling baseline",
			PreviousWealth:  res.OldWealth,
			TotalWealth:     res.NewWealth,
			WealthDeviation: &dev,
			ThresholdPct:    s.anomalyThreshold,
			Details: []string{
				fmt.Sprintf("Game count deviation: %s%%", res.Anomaly.GameDeviation.Mul(decimal.NewFromInt(100)).StringFixed(1)),
				fmt.Sprintf("Baseline samples: %d", res.Anomaly.BaselineSamples),
			},
		})
	}

	if !s.topPrizeAlerts {
		return
	}
	claims := delta.TopPrizeClaims()
	if len(claims) == 0 {
		return
	}
	details := make([]string, 0, len(claims))
	for _, c := range claims {
		details = append(details, fmt.Sprintf("%s claimed in %s (%d -> %d)", c.PrizeValue, c.GameName, c.OldRemaining, c.NewRemaining))
	}
	s.dispatch(ctx, alerting.Notification{
		At:             at,
		RunID:          runID,
		Kind:           alerting.KindTopPrizeClaim,
		Headline:       fmt.Sprintf("%d top prize(s) claimed", len(claims)),
		PreviousWealth: res.OldWealth,
		TotalWealth:    res.NewWealth,
		Details:        details,
		AdditionalMsg:  strings.TrimSpace(differ.Summarize(delta)),
	})
}

func (s *Service) dispatch(ctx context.Context, note alerting.Notification) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	note.Channels = s.channels
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", note.RunID).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
