package catalog

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() RawRecord {
	return RawRecord{
		GameID:   " 996 ",
		GameName: "Million Dollar Game",
		URLSlug:  "million-dollar-game",
		Prizes: []RawTier{
			{Value: "$1,000,000", Odds: "1 in 1,469,394", Total: "5"},
			{Value: "$1,000", Odds: "2,448", Total: "1,204"},
		},
	}
}

func TestValidateRecordParsesFields(t *testing.T) {
	rec, err := ValidateRecord(validRaw())
	require.NoError(t, err)

	assert.Equal(t, "996", rec.ExternalID)
	assert.Equal(t, "Million Dollar Game", rec.DisplayName)
	require.Len(t, rec.Prizes, 2)

	top := rec.Prizes[0]
	assert.True(t, top.Value.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, top.Odds.Equal(decimal.NewFromInt(1_469_394)))
	assert.Equal(t, int64(5), top.RemainingCount)
	assert.Equal(t, "$1,000,000", top.RawValue)
	assert.Equal(t, "1 in 1,469,394", top.RawOdds)

	assert.Equal(t, int64(1204), rec.Prizes[1].RemainingCount)
	assert.True(t, rec.Prizes[1].Odds.Equal(decimal.NewFromInt(2448)))
}

func TestValidateRecordKeepsTicketPrice(t *testing.T) {
	raw := validRaw()
	raw.TicketPrice = " $20 "
	rec, err := ValidateRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "$20", rec.TicketPrice)

	rec, err = ValidateRecord(validRaw())
	require.NoError(t, err)
	assert.Empty(t, rec.TicketPrice)
}

func TestValidateRecordDefaultsSlug(t *testing.T) {
	raw := validRaw()
	raw.URLSlug = "  "
	rec, err := ValidateRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "unknown", rec.URLSlug)
}

func TestValidateRecordCollectsEveryFieldError(t *testing.T) {
	raw := RawRecord{
		GameID:   "99A",
		GameName: " ",
		Prizes: []RawTier{
			{Value: "$", Odds: "1 in abc", Total: "-3"},
		},
	}

	_, err := ValidateRecord(raw)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{
		"game_id",
		"game_name",
		"prizes[0].value",
		"prizes[0].odds",
		"prizes[0].total",
	}, fields)
}

func TestValidateRecordRequiresPrizeTier(t *testing.T) {
	raw := validRaw()
	raw.Prizes = nil
	_, err := ValidateRecord(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one prize tier")
}

func TestParseCurrency(t *testing.T) {
	cases := map[string]string{
		"$1,000,000": "1000000",
		" $5 ":       "5",
		"€2.50":      "2.5",
		"10":         "10",
	}
	for in, want := range cases {
		got, err := ParseCurrency(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s -> %s", in, got)
	}

	for _, bad := range []string{"", "$", "$1,0x0", "-$5", "$-5"} {
		_, err := ParseCurrency(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseOdds(t *testing.T) {
	got, err := ParseOdds("1 in 3.45")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("3.45")))

	got, err = ParseOdds("1,469,394")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1469394)))

	for _, bad := range []string{"", "1 in ", "0", "n/a"} {
		_, err := ParseOdds(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseOddsBarePrefixIsEmpty(t *testing.T) {
	for _, in := range []string{"1 in ", "1 in", " 1 IN  ", "1 in ,"} {
		_, err := ParseOdds(in)
		assert.ErrorIs(t, err, errEmpty, "%q", in)
	}

	raw := validRaw()
	raw.Prizes[0].Odds = "1 in "
	_, err := ValidateRecord(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "prizes[0].odds", verr.Fields[0].Field)
	assert.Equal(t, "empty", verr.Fields[0].Reason)
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount("2,448")
	require.NoError(t, err)
	assert.Equal(t, int64(2448), n)

	for _, bad := range []string{"", "1.5", "-1", "many"} {
		_, err := ParseCount(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateBatchSkipsRejectedRecords(t *testing.T) {
	bad := validRaw()
	bad.GameID = "abc"

	result := ValidateBatch([]RawRecord{validRaw(), bad, validRaw()})

	assert.Len(t, result.Accepted, 2)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 1, result.Rejected[0].Index)
	assert.Equal(t, "abc", result.Rejected[0].GameID)
	require.NotNil(t, result.Rejected[0].Err)
	assert.Equal(t, "game_id", result.Rejected[0].Err.Fields[0].Field)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Million Dollar Game":  "million-dollar-game",
		"  $5,000 Cash Blast!": "5000-cash-blast",
		"Lucky__7s  Deluxe":    "lucky-7s-deluxe",
		"---":                  "",
		"Café Royale":          "caf-royale",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}
