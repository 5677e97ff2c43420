package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scratch-registry/internal/fetcher"
	"scratch-registry/internal/notary"
	"scratch-registry/internal/scheduler"
	"scratch-registry/internal/storage"
)

// Replay reconciles recorded observation files in order, one census per file.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if len(opts.Files) == 0 {
		return errors.New("replay requires at least one observation file")
	}

	stateDir := ""
	if opts.DryRun {
		dir, err := a.scratchState()
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		stateDir = dir
		a.Logger.Warn().Str("state_dir", dir).Msg("replay dry-run: state changes are discarded")
	}

	p, err := a.buildPipeline(ctx, pipelineOptions{stateDir: stateDir, noArchive: opts.DryRun, noAudit: opts.DryRun})
	if err != nil {
		return err
	}
	defer p.Close()

	processed := 0
	aborted := 0
	failed := 0
	for _, path := range opts.Files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sensor := fetcher.File{Path: path, SafetyThreshold: a.Config.Sensor.SafetyThreshold}
		report, err := p.svc.RunWith(ctx, sensor, scheduler.NewRunID(time.Now()))
		if opts.Out != nil {
			fmt.Fprintf(opts.Out, "%s\n", filepath.Base(path))
			printReport(opts.Out, report, err)
		}
		if err != nil {
			if errors.Is(err, notary.ErrIntegrityGate) {
				aborted++
			} else {
				failed++
			}
			a.Logger.Error().Err(err).Str("file", path).Msg("replay census failed")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("aborted", aborted).Int("failed", failed).Msg("replay complete")
	if aborted+failed > 0 {
		return fmt.Errorf("%d of %d replayed observations did not commit", aborted+failed, len(opts.Files))
	}
	return nil
}

// scratchState copies the current registry and pulse history into a
// temporary directory.
func (a *App) scratchState() (string, error) {
	dir, err := os.MkdirTemp("", "scratchwatch-replay-")
	if err != nil {
		return "", fmt.Errorf("create scratch state: %w", err)
	}

	live, err := a.openFiles("")
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	for _, src := range []string{live.RegistryPath(), live.PulsePath()} {
		data, err := os.ReadFile(src)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("copy state: %w", err)
		}
		if err := storage.WriteFileAtomic(filepath.Join(dir, filepath.Base(src)), data); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}
