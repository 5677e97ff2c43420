package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"scratch-registry/internal/storage"
)

// Export renders pulse history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	files, err := a.openFiles("")
	if err != nil {
		return err
	}
	history, err := files.LoadPulse(ctx)
	if err != nil {
		return err
	}

	samples := filterWindow(history, opts.From, opts.To)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no pulse samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting pulse samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterWindow(samples []storage.PulseSample, from, to *time.Time) []storage.PulseSample {
	out := make([]storage.PulseSample, 0, len(samples))
	for _, s := range samples {
		if from != nil && s.Timestamp.Before(from.UTC()) {
			continue
		}
		if to != nil && s.Timestamp.After(to.UTC()) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func downsampleSamples(samples []storage.PulseSample, max int) []storage.PulseSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.PulseSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.PulseSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "run_id", "game_count", "total_wealth", "top_prize_sum", "births", "deaths", "revivals", "payload_size_kb", "anomaly", "wealth_deviation"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		size := ""
		if sample.PayloadSizeKB != nil {
			size = strconv.FormatFloat(*sample.PayloadSizeKB, 'f', 2, 64)
		}
		deviation := ""
		if sample.WealthDeviation != nil {
			deviation = sample.WealthDeviation.StringFixed(4)
		}
		record := []string{
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.RunID,
			strconv.Itoa(sample.GameCount),
			formatDecimal(sample.TotalWealth, 2),
			formatDecimal(sample.TopPrizeSum, 2),
			strconv.Itoa(sample.BirthCount),
			strconv.Itoa(sample.DeathCount),
			strconv.Itoa(sample.RevivalCount),
			size,
			strconv.FormatBool(sample.Anomaly),
			deviation,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path string, samples []storage.PulseSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	wealth := make([]float64, len(samples))
	top := make([]float64, len(samples))
	games := make([]float64, len(samples))

	for i, sample := range samples {
		x[i] = sample.Timestamp
		wealth[i] = sample.TotalWealth.InexactFloat64()
		top[i] = sample.TopPrizeSum.InexactFloat64()
		games[i] = float64(sample.GameCount)
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Remaining prize value ($)",
			ValueFormatter: moneyFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Active games",
			ValueFormatter: moneyFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total wealth",
				XValues: x,
				YValues: wealth,
			},
			chart.TimeSeries{
				Name:    "Top prizes",
				XValues: x,
				YValues: top,
			},
			chart.TimeSeries{
				Name:    "Games",
				XValues: x,
				YValues: games,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
