package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratch-registry/internal/catalog"
	"scratch-registry/internal/config"
	"scratch-registry/internal/storage"
)

func testApp(t *testing.T) (*App, string) {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{}
	cfg.State.Dir = filepath.Join(root, "state")
	cfg.State.RegistryFile = "registry.json"
	cfg.State.PulseFile = "pulse_history.json"
	cfg.State.FingerprintFile = ".last_registry_hash"
	cfg.Notary.IntegrityRetention = 0.75
	cfg.Notary.AnomalyThreshold = 0.40
	cfg.Notary.RetireAfterMisses = 3
	cfg.Notary.PulseCapacity = 200
	cfg.Notary.BaselineMinSamples = 3
	cfg.Archive.Backend = "local"
	cfg.Archive.LocalDir = filepath.Join(root, "archive")
	cfg.Export.MaxDataPoints = 100
	cfg.Telemetry.Exporter = "none"

	return NewApp(cfg, zerolog.Nop()), root
}

func writeFeed(t *testing.T, dir, name string, top map[string]int) string {
	t.Helper()
	games := make([]string, 0, len(top))
	for _, id := range []string{"101", "102", "103"} {
		n, ok := top[id]
		if !ok {
			continue
		}
		games = append(games, fmt.Sprintf(`{"game_id":%q,"game_name":"Game %s","url_slug":"game-%s","prizes":[{"value":"$1,000","odds":"1 in 50,000","total":"%d"},{"value":"$10","odds":"1 in 10","total":"100"}]}`, id, id, id, n))
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(`{"games":[`+strings.Join(games, ",")+`]}`), 0o644))
	return path
}

func TestReplayDiffExport(t *testing.T) {
	a, root := testApp(t)
	ctx := context.Background()

	first := writeFeed(t, root, "day1.json", map[string]int{"101": 5, "102": 5, "103": 5})
	second := writeFeed(t, root, "day2.json", map[string]int{"101": 4, "102": 5, "103": 5})

	var out bytes.Buffer
	require.NoError(t, a.Replay(ctx, ReplayOptions{Files: []string{first}, Out: &out}))
	assert.Contains(t, out.String(), "committed")

	registryPath := filepath.Join(a.Config.State.Dir, "registry.json")
	snapshot, err := os.ReadFile(registryPath)
	require.NoError(t, err)
	oldPath := filepath.Join(root, "old.json")
	require.NoError(t, os.WriteFile(oldPath, snapshot, 0o644))

	require.NoError(t, a.Replay(ctx, ReplayOptions{Files: []string{second}}))

	var diffOut bytes.Buffer
	delta, err := a.Diff(ctx, DiffOptions{OldPath: oldPath, NewPath: registryPath, Out: &diffOut})
	require.NoError(t, err)
	require.Len(t, delta.PrizeChanges, 1)
	assert.Equal(t, "101", delta.PrizeChanges[0].GameID)
	assert.Contains(t, diffOut.String(), "TOP PRIZE")

	_, err = os.Stat(filepath.Join(a.Config.Archive.LocalDir, "changelog.json"))
	require.NoError(t, err)

	csvPath := filepath.Join(root, "out", "pulse.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{CSVPath: csvPath}))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "timestamp", rows[0][0])
	assert.Equal(t, "3", rows[1][2])
	assert.Equal(t, "18000.00", rows[1][3])
	assert.Equal(t, "17000.00", rows[2][3])

	var showOut bytes.Buffer
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 5, Out: &showOut}))
	assert.Contains(t, showOut.String(), "17000.00")

	var changelogOut bytes.Buffer
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 1, Changelog: true, Out: &changelogOut}))
	assert.Equal(t, 1, strings.Count(changelogOut.String(), "fingerprint "))
	assert.Contains(t, changelogOut.String(), "TOP PRIZE: $1,000 claimed in Game 101")
	assert.Contains(t, changelogOut.String(), "wealth -$1,000")
}

func TestReplayDryRunLeavesStateUntouched(t *testing.T) {
	a, root := testApp(t)
	ctx := context.Background()

	first := writeFeed(t, root, "day1.json", map[string]int{"101": 5, "102": 5, "103": 5})
	require.NoError(t, a.Replay(ctx, ReplayOptions{Files: []string{first}}))

	registryPath := filepath.Join(a.Config.State.Dir, "registry.json")
	before, err := os.ReadFile(registryPath)
	require.NoError(t, err)

	second := writeFeed(t, root, "day2.json", map[string]int{"101": 4, "102": 5, "103": 5})
	require.NoError(t, a.Replay(ctx, ReplayOptions{Files: []string{second}, DryRun: true}))

	after, err := os.ReadFile(registryPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	files, err := a.openFiles("")
	require.NoError(t, err)
	history, err := files.LoadPulse(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReplayReportsIntegrityAbort(t *testing.T) {
	a, root := testApp(t)
	ctx := context.Background()

	first := writeFeed(t, root, "day1.json", map[string]int{"101": 5, "102": 5, "103": 5})
	collapsed := writeFeed(t, root, "day2.json", map[string]int{"101": 0, "102": 0, "103": 0})

	require.NoError(t, a.Replay(ctx, ReplayOptions{Files: []string{first}}))
	registryPath := filepath.Join(a.Config.State.Dir, "registry.json")
	before, err := os.ReadFile(registryPath)
	require.NoError(t, err)

	var out bytes.Buffer
	err = a.Replay(ctx, ReplayOptions{Files: []string{collapsed}, Out: &out})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")
	assert.Contains(t, out.String(), "aborted")

	after, err := os.ReadFile(registryPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	files, err := a.openFiles("")
	require.NoError(t, err)
	history, err := files.LoadPulse(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReplayCommitsMissingGamesAsMisses(t *testing.T) {
	a, root := testApp(t)
	ctx := context.Background()

	first := writeFeed(t, root, "day1.json", map[string]int{"101": 5, "102": 5, "103": 5})
	shrunk := writeFeed(t, root, "day2.json", map[string]int{"101": 5})
	require.NoError(t, a.Replay(ctx, ReplayOptions{Files: []string{first, shrunk}}))

	files, err := a.openFiles("")
	require.NoError(t, err)
	reg, err := files.LoadRegistry(ctx)
	require.NoError(t, err)
	require.Len(t, reg, 3)
	assert.Equal(t, 1, reg["103"].MissCount)
	assert.Equal(t, catalog.StatusActive, reg["103"].Status)
}

func TestDownsampleSamples(t *testing.T) {
	samples := make([]storage.PulseSample, 10)
	for i := range samples {
		samples[i].RunID = fmt.Sprintf("run_%d", i)
	}
	out := downsampleSamples(samples, 4)
	require.Len(t, out, 4)
	assert.Equal(t, "run_0", out[0].RunID)
	assert.Equal(t, "run_9", out[3].RunID)

	assert.Len(t, downsampleSamples(samples, 20), 10)
}
