package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"scratch-registry/internal/archive"
)

// Show prints recent census runs from the audit log, or recent pulse samples
// when no database is configured.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Changelog {
		return a.showChangelog(ctx, out, opts.Limit)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return a.showPulse(ctx, out, opts.Limit)
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tRun\tStatus\tGames\tWealth\tTop prizes\tBirths\tDeaths\tSkipped\tAnomaly\tError")

	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%d\t%d\t%d\t%t\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.RunID,
			run.Status,
			run.GameCount,
			formatDecimal(run.TotalWealth, 2),
			formatDecimal(run.TopPrizeSum, 2),
			run.BirthCount,
			run.DeathCount,
			run.SkippedCount,
			run.Anomaly,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showPulse(ctx context.Context, out io.Writer, limit int) error {
	files, err := a.openFiles("")
	if err != nil {
		return err
	}
	history, err := files.LoadPulse(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "no pulse samples found")
		return nil
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRun\tGames\tWealth\tTop prizes\tBirths\tDeaths\tAnomaly")
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%d\t%d\t%t\n",
			s.Timestamp.UTC().Format(time.RFC3339),
			s.RunID,
			s.GameCount,
			formatDecimal(s.TotalWealth, 2),
			formatDecimal(s.TopPrizeSum, 2),
			s.BirthCount,
			s.DeathCount,
			s.Anomaly,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showChangelog(ctx context.Context, out io.Writer, limit int) error {
	files, err := a.openFiles("")
	if err != nil {
		return err
	}
	dedup, closer, err := a.openDeduplicator(ctx, files)
	if err != nil {
		return err
	}
	if dedup == nil {
		return errors.New("archive.backend is not configured")
	}
	defer closer()

	entries, err := dedup.Changelog(ctx)
	if err != nil {
		return err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return archive.WriteChangelog(out, entries)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
