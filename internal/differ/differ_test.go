package differ

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratch-registry/internal/catalog"
)

var detected = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tier(value, remaining int64) catalog.PrizeTier {
	return catalog.PrizeTier{Value: decimal.NewFromInt(value), Odds: decimal.NewFromInt(1000), RemainingCount: remaining}
}

func entry(id, name string, status catalog.Status, tiers ...catalog.PrizeTier) catalog.Entry {
	return catalog.Entry{
		GUID:        "guid-" + id,
		ExternalID:  id,
		DisplayName: name,
		Status:      status,
		Prizes:      tiers,
		FirstSeen:   detected.Add(-24 * time.Hour),
		LastSeen:    detected,
		LastRunID:   "run_a",
	}
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestFingerprintIgnoresVolatileFields(t *testing.T) {
	a := catalog.Registry{"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 3))}
	b := a.Clone()
	e := b["1"]
	e.LastSeen = detected.Add(time.Hour)
	e.LastRunID = "run_b"
	e.GUID = "other"
	e.OverallOdds = "1 in 3.5"
	b["1"] = e

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	again, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Len(t, fa, FingerprintLength)
	assert.Equal(t, fa, again)
	assert.Equal(t, fa, fb)
}

func TestFingerprintIgnoresDecimalScale(t *testing.T) {
	a := catalog.Registry{"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 3))}
	b := a.Clone()
	e := b["1"]
	e.Prizes[0].Value = decimal.RequireFromString("100.00")
	b["1"] = e

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := catalog.Registry{
		"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 3), tier(10, 40)),
		"2": entry("2", "Beta", catalog.StatusActive, tier(50, 1)),
	}
	want, err := Fingerprint(base)
	require.NoError(t, err)

	mutations := map[string]func(catalog.Registry){
		"remaining": func(r catalog.Registry) { e := r["1"]; e.Prizes[1].RemainingCount = 39; r["1"] = e },
		"value":     func(r catalog.Registry) { e := r["2"]; e.Prizes[0].Value = decimal.NewFromInt(51); r["2"] = e },
		"status":    func(r catalog.Registry) { e := r["2"]; e.Status = catalog.StatusRetired; r["2"] = e },
		"new entry": func(r catalog.Registry) { r["3"] = entry("3", "Gamma", catalog.StatusActive, tier(1, 1)) },
		"removed":   func(r catalog.Registry) { delete(r, "2") },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			reg := base.Clone()
			mutate(reg)
			got, err := Fingerprint(reg)
			require.NoError(t, err)
			assert.NotEqual(t, want, got)
		})
	}
}

func TestComputeIdentityIsEmpty(t *testing.T) {
	reg := catalog.Registry{
		"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 3)),
		"2": entry("2", "Beta", catalog.StatusRetired, tier(50, 1)),
	}
	d := Compute(reg, reg, "run_x", detected)
	assert.Empty(t, d.GamesAdded)
	assert.Empty(t, d.GamesRetired)
	assert.Empty(t, d.PrizeChanges)
	assert.False(t, d.HasMeaningfulChanges())
	assert.True(t, d.WealthDelta.IsZero())
	assert.Equal(t, NoChangesSummary, d.Summary)
}

func TestComputeNewGame(t *testing.T) {
	d := Compute(catalog.Registry{}, catalog.Registry{"999": entry("999", "Fresh", catalog.StatusActive, tier(5, 2))}, "run_x", detected)
	require.Len(t, d.GamesAdded, 1)
	assert.Equal(t, "999", d.GamesAdded[0].GameID)
	assert.Equal(t, catalog.UnknownTicketPrice, d.GamesAdded[0].TicketPrice)
	assert.True(t, d.HasMeaningfulChanges())
	assert.Equal(t, "1 new game(s): Fresh; Total wealth increased by $10", d.Summary)
}

func TestComputeNewGameCarriesTicketPrice(t *testing.T) {
	priced := entry("1200", "Cash Blast", catalog.StatusActive, tier(20, 4))
	priced.TicketPrice = "$5"
	d := Compute(catalog.Registry{}, catalog.Registry{"1200": priced}, "run_x", detected)
	require.Len(t, d.GamesAdded, 1)
	assert.Equal(t, "$5", d.GamesAdded[0].TicketPrice)

	out, err := json.Marshal(d.GamesAdded[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"game_id":"1200","game_name":"Cash Blast","ticket_price":"$5"}`, string(out))
}

func TestComputePrizeClaim(t *testing.T) {
	prev := catalog.Registry{"996": entry("996", "Million Dollar", catalog.StatusActive, tier(1_000_000, 5))}
	curr := catalog.Registry{"996": entry("996", "Million Dollar", catalog.StatusActive, tier(1_000_000, 4))}

	d := Compute(prev, curr, "run_20260301_1200_abcd", detected)
	require.Len(t, d.PrizeChanges, 1)
	pc := d.PrizeChanges[0]
	assert.Equal(t, int64(5), pc.OldRemaining)
	assert.Equal(t, int64(4), pc.NewRemaining)
	assert.Equal(t, int64(-1), pc.Change)
	assert.Equal(t, KindClaimed, pc.Kind)
	assert.Len(t, d.TopPrizeClaims(), 1)

	out, err := json.MarshalIndent(d, "", "  ")
	require.NoError(t, err)
	newGolden(t).Assert(t, "prize_claim_delta", append(out, '\n'))
}

func TestComputeStatusChangeIsRetirement(t *testing.T) {
	prev := catalog.Registry{"1": entry("1", "Alpha", catalog.StatusRetired, tier(100, 3))}
	curr := catalog.Registry{"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 3))}

	d := Compute(prev, curr, "run_x", detected)
	require.Len(t, d.GamesRetired, 1)
	assert.Equal(t, "Status changed: RETIRED -> ACTIVE", d.GamesRetired[0].Reason)
}

func TestComputeComparesTiersPositionally(t *testing.T) {
	prev := catalog.Registry{"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 3), tier(10, 9))}
	curr := catalog.Registry{"1": entry("1", "Alpha", catalog.StatusActive, tier(100, 5))}

	d := Compute(prev, curr, "run_x", detected)
	require.Len(t, d.PrizeChanges, 1)
	assert.Equal(t, 0, d.PrizeChanges[0].PrizeTier)
	assert.Equal(t, KindAdded, d.PrizeChanges[0].Kind)
	assert.Equal(t, "2 added", d.PrizeChanges[0].Meaning)
}

func TestSummaryGolden(t *testing.T) {
	prev := catalog.Registry{
		"100": entry("100", "Alpha", catalog.StatusActive, tier(1_000_000, 5), tier(100, 50)),
		"200": entry("200", "Beta", catalog.StatusActive, tier(500, 10)),
		"300": entry("300", "Gamma", catalog.StatusActive, tier(50, 4)),
	}
	curr := catalog.Registry{
		"100": entry("100", "Alpha", catalog.StatusActive, tier(1_000_000, 4), tier(100, 48)),
		"200": entry("200", "Beta", catalog.StatusRetired, tier(500, 10)),
		"400": entry("400", "Delta", catalog.StatusActive, tier(20, 100)),
	}

	d := Compute(prev, curr, "run_x", detected)
	newGolden(t).Assert(t, "delta_summary", []byte(d.Summary))
}

func TestFormatMoney(t *testing.T) {
	cases := map[string]string{
		"0":          "$0",
		"999":        "$999",
		"1000":       "$1,000",
		"1003400":    "$1,003,400",
		"1234.5":     "$1,234.50",
		"-25000":     "-$25,000",
		"1000000.00": "$1,000,000",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatMoney(decimal.RequireFromString(in)), in)
	}
}
