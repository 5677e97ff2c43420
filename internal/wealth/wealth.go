// Package wealth computes aggregate prize statistics over a registry. The
// sums only consider ACTIVE entries and skip tiers that cannot contribute a
// meaningful amount, so a damaged entry never fails the whole sum.
package wealth

import (
	"github.com/shopspring/decimal"

	"scratch-registry/internal/catalog"
)

// Snapshot bundles the aggregate signals of one registry state.
type Snapshot struct {
	ActiveGames int
	TotalWealth decimal.Decimal
	TopPrizeSum decimal.Decimal
}

// Total sums value × remaining count over every tier of every active entry.
func Total(reg catalog.Registry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range reg {
		if !entry.Active() {
			continue
		}
		for _, tier := range entry.Prizes {
			total = total.Add(tierValue(tier))
		}
	}
	return total
}

// TopPrizeSum is Total restricted to tier 0 of each active entry.
func TopPrizeSum(reg catalog.Registry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range reg {
		if !entry.Active() || len(entry.Prizes) == 0 {
			continue
		}
		total = total.Add(tierValue(entry.Prizes[0]))
	}
	return total
}

// Summarize computes every signal in one pass over the registry.
func Summarize(reg catalog.Registry) Snapshot {
	return Snapshot{
		ActiveGames: reg.CountActive(),
		TotalWealth: Total(reg),
		TopPrizeSum: TopPrizeSum(reg),
	}
}

func tierValue(tier catalog.PrizeTier) decimal.Decimal {
	if tier.Value.IsNegative() || tier.RemainingCount <= 0 {
		return decimal.Zero
	}
	return tier.RemainingValue()
}
