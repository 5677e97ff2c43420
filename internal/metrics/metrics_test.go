package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()

	r.ObserveRun(OutcomeCommitted, 1.5)
	r.ObserveRun(OutcomeCommitted, 0.5)
	r.ObserveRun(OutcomeAborted, 0.2)
	r.AddLifecycle("birth", 3)
	r.AddLifecycle("death", 0)
	r.IncAnomaly()
	r.AddSkipped(2)
	r.ObserveArchive(true)
	r.ObserveArchive(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeAborted)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.lifecycle.WithLabelValues("birth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.anomalies))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.archivedTotal.WithLabelValues("changed")))
}

func TestRecorderSnapshotGauges(t *testing.T) {
	r := NewRecorder()
	r.SetSnapshot(decimal.NewFromInt(2_500_000), decimal.NewFromInt(1_000_000), 42)

	expected := `
# HELP scratchwatch_active_games Number of active games in the registry
# TYPE scratchwatch_active_games gauge
scratchwatch_active_games 42
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "scratchwatch_active_games"))
	assert.Equal(t, 2_500_000.0, testutil.ToFloat64(r.totalWealth))
	assert.Equal(t, 1_000_000.0, testutil.ToFloat64(r.topPrizeSum))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveRun(OutcomeFailed, 1)
	r.SetSnapshot(decimal.Zero, decimal.Zero, 0)
	r.AddLifecycle("birth", 1)
	r.IncAnomaly()
	r.AddSkipped(1)
	r.ObserveArchive(true)
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(OutcomeCommitted, 1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `scratchwatch_census_runs_total{outcome="committed"} 1`)
}
