package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"scratch-registry/internal/alerting"
	"scratch-registry/internal/archive"
	"scratch-registry/internal/blob"
	"scratch-registry/internal/config"
	"scratch-registry/internal/fetcher"
	"scratch-registry/internal/metrics"
	"scratch-registry/internal/notary"
	"scratch-registry/internal/pulse"
	"scratch-registry/internal/scheduler"
	"scratch-registry/internal/service"
	"scratch-registry/internal/storage"
	"scratch-registry/internal/telemetry"
	"scratch-registry/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSensor() (fetcher.Sensor, error) {
	if a.Config.Sensor.FeedURL == "" {
		return nil, errors.New("sensor.feed_url not configured")
	}
	return fetcher.NewFeed(fetcher.FeedOptions{
		URL:             a.Config.Sensor.FeedURL,
		Timeout:         a.Config.Sensor.RequestTimeout,
		UserAgent:       a.Config.Sensor.UserAgent,
		SafetyThreshold: a.Config.Sensor.SafetyThreshold,
	}, a.Logger), nil
}

func (a *App) newHealer() service.Healer {
	if a.Config.Sensor.DetailURLTemplate == "" || a.Config.Sensor.HealLimit == 0 {
		return nil
	}
	return fetcher.NewDetailFetcher(fetcher.DetailOptions{
		URLTemplate: a.Config.Sensor.DetailURLTemplate,
		Timeout:     a.Config.Sensor.RequestTimeout,
		UserAgent:   a.Config.Sensor.UserAgent,
		Limit:       a.Config.Sensor.HealLimit,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	var notifiers alerting.Multi
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	for _, ch := range a.Config.Alerting.Channels {
		if strings.EqualFold(strings.TrimSpace(ch), "log") {
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
			break
		}
	}
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return notifiers
	}
}

func (a *App) openFiles(dir string) (*storage.FileStore, error) {
	state := a.Config.State
	if dir == "" {
		dir = state.Dir
	}
	return storage.NewFileStore(storage.FileOptions{
		Dir:             dir,
		RegistryFile:    state.RegistryFile,
		PulseFile:       state.PulseFile,
		FingerprintFile: state.FingerprintFile,
		Strict:          state.Strict,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openArchiver(ctx context.Context, files *storage.FileStore) (service.Archiver, func(), error) {
	dedup, closer, err := a.openDeduplicator(ctx, files)
	if err != nil || dedup == nil {
		return nil, nil, err
	}
	return dedup, closer, nil
}

func (a *App) openDeduplicator(ctx context.Context, files *storage.FileStore) (*archive.Deduplicator, func(), error) {
	blobs, err := blob.Open(ctx, a.Config.Archive, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	if blobs == nil {
		return nil, nil, nil
	}
	closer := func() {}
	if c, ok := blobs.(io.Closer); ok {
		closer = func() {
			if err := c.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close archive backend")
			}
		}
	}
	dedup := archive.New(blobs, files, archive.Options{ChangelogLimit: a.Config.Archive.ChangelogLimit}, a.Logger)
	return dedup, closer, nil
}

func (a *App) newNotary(files *storage.FileStore) *notary.Notary {
	tracker := pulse.NewTracker(files, pulse.Options{
		Capacity:   a.Config.Notary.PulseCapacity,
		MinSamples: a.Config.Notary.BaselineMinSamples,
	}, a.Logger)
	opts := notary.DefaultOptions()
	opts.IntegrityRetention = a.Config.Notary.IntegrityRetention
	opts.AnomalyThreshold = a.Config.Notary.AnomalyThreshold
	opts.RetireAfterMisses = a.Config.Notary.RetireAfterMisses
	return notary.New(files, tracker, opts, a.Logger)
}

// pipeline is a fully wired census service plus its cleanup.
type pipeline struct {
	svc     *service.Service
	files   *storage.FileStore
	closers []func()
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

type pipelineOptions struct {
	scheduler *scheduler.Scheduler
	sensor    fetcher.Sensor
	recorder  *metrics.Recorder
	stateDir  string
	noArchive bool
	noAudit   bool
}

func (a *App) buildPipeline(ctx context.Context, opts pipelineOptions) (*pipeline, error) {
	files, err := a.openFiles(opts.stateDir)
	if err != nil {
		return nil, err
	}
	p := &pipeline{files: files}

	deps := service.Dependencies{
		Scheduler: opts.scheduler,
		Sensor:    opts.sensor,
		Notary:    a.newNotary(files),
		Healer:    a.newHealer(),
		Notifier:  a.newNotifier(),
		Metrics:   opts.recorder,
	}

	if !opts.noAudit {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		if store == nil {
			a.Logger.Warn().Msg("database.dsn not configured; run audit log disabled")
		} else {
			deps.Runs = store
			p.closers = append(p.closers, closeStore)
		}
	}

	if !opts.noArchive {
		archiver, closeArchive, err := a.openArchiver(ctx, files)
		if err != nil {
			p.Close()
			return nil, err
		}
		if archiver != nil {
			deps.Archiver = archiver
			p.closers = append(p.closers, closeArchive)
		}
	}

	p.svc = service.New(a.Config, deps, a.Logger)
	return p, nil
}

func (a *App) setupTelemetry(ctx context.Context) func() {
	shutdown, err := telemetry.Setup(ctx, a.Config.Telemetry, version.Version)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("tracing disabled")
		return func() {}
	}
	return func() {
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctxShutdown); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}
}

// RunOptions configure the long-running loop.
type RunOptions struct {
	Immediately bool
}

// Run executes the long-running census service.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	defer a.setupTelemetry(ctx)()

	sensor, err := a.newSensor()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: opts.Immediately,
	}, a.Logger)

	recorder := metrics.NewRecorder()
	p, err := a.buildPipeline(ctx, pipelineOptions{scheduler: sched, sensor: sensor, recorder: recorder})
	if err != nil {
		return err
	}
	defer p.Close()

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		stop := a.serveMetrics(addr, recorder)
		defer stop()
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting census service")
	err = p.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("census service stopped")
	return nil
}

func (a *App) serveMetrics(addr string, recorder *metrics.Recorder) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// CensusOptions configure a one-shot census.
type CensusOptions struct {
	// FeedFile reads the observation from disk instead of the configured feed.
	FeedFile string
	Out      io.Writer
}

// Census performs a single census now.
func (a *App) Census(ctx context.Context, opts CensusOptions) (service.Report, error) {
	defer a.setupTelemetry(ctx)()

	var sensor fetcher.Sensor
	if opts.FeedFile != "" {
		sensor = fetcher.File{Path: opts.FeedFile, SafetyThreshold: a.Config.Sensor.SafetyThreshold}
	} else {
		s, err := a.newSensor()
		if err != nil {
			return service.Report{}, err
		}
		sensor = s
	}

	p, err := a.buildPipeline(ctx, pipelineOptions{sensor: sensor})
	if err != nil {
		return service.Report{}, err
	}
	defer p.Close()

	report, err := p.svc.RunOnce(ctx, scheduler.NewRunID(time.Now()))
	if opts.Out != nil {
		printReport(opts.Out, report, err)
	}
	return report, err
}

func printReport(w io.Writer, report service.Report, runErr error) {
	fmt.Fprintf(w, "run %s: %s\n", report.RunID, report.Status)
	if runErr != nil {
		fmt.Fprintf(w, "  error: %s\n", sanitizeInline(runErr.Error()))
	}
	if report.Result != nil {
		sample := report.Result.Sample
		fmt.Fprintf(w, "  games: %d  births: %d  deaths: %d  revivals: %d  skipped: %d\n",
			sample.GameCount, sample.BirthCount, sample.DeathCount, sample.RevivalCount, report.Skipped)
		fmt.Fprintf(w, "  total wealth: %s  top prizes: %s\n",
			formatDecimal(sample.TotalWealth, 2), formatDecimal(sample.TopPrizeSum, 2))
	}
	if report.Delta != nil {
		fmt.Fprintf(w, "  %s\n", report.Delta.Summary)
	}
	if report.Archive != nil {
		fmt.Fprintf(w, "  fingerprint: %s (changed: %t)\n", report.Archive.Fingerprint, report.Archive.Changed)
	}
}

// ExportOptions hold parameters for exporting pulse history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Changelog bool
	Out       io.Writer
}

// ReplayOptions configure the replay job.
type ReplayOptions struct {
	Files  []string
	DryRun bool
	Out    io.Writer
}

// DiffOptions configure the diff command.
type DiffOptions struct {
	OldPath string
	NewPath string
	JSON    bool
	Out     io.Writer
}
