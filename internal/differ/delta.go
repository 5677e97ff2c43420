package differ

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scratch-registry/internal/catalog"
	"scratch-registry/internal/wealth"
)

// Prize change classifications.
const (
	KindClaimed = "claimed"
	KindAdded   = "added"
)

// NoChangesSummary is the summary of a delta with nothing to report.
const NoChangesSummary = "No significant changes detected"

// GameRef identifies a game that appeared or left.
type GameRef struct {
	GameID      string `json:"game_id"`
	GameName    string `json:"game_name"`
	TicketPrice string `json:"ticket_price,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// PrizeChange is a remaining-count change on one tier.
type PrizeChange struct {
	GameID       string `json:"game_id"`
	GameName     string `json:"game_name"`
	PrizeTier    int    `json:"prize_tier"`
	PrizeValue   string `json:"prize_value"`
	OldRemaining int64  `json:"old_remaining"`
	NewRemaining int64  `json:"new_remaining"`
	Change       int64  `json:"change"`
	Kind         string `json:"kind"`
	Meaning      string `json:"meaning"`
}

// Delta describes what changed between two registry snapshots.
type Delta struct {
	Date         string          `json:"date"`
	DetectedAt   string          `json:"detected_at"`
	RunID        string          `json:"run_id"`
	GamesAdded   []GameRef       `json:"games_added"`
	GamesRetired []GameRef       `json:"games_retired"`
	PrizeChanges []PrizeChange   `json:"prize_changes"`
	WealthBefore decimal.Decimal `json:"wealth_before"`
	WealthAfter  decimal.Decimal `json:"wealth_after"`
	WealthDelta  decimal.Decimal `json:"wealth_delta"`
	Summary      string          `json:"summary"`
}

// HasMeaningfulChanges reports whether any game or prize changed. A wealth
// difference alone does not count.
func (d Delta) HasMeaningfulChanges() bool {
	return len(d.GamesAdded) > 0 || len(d.GamesRetired) > 0 || len(d.PrizeChanges) > 0
}

// TopPrizeClaims returns claims on tier 0.
func (d Delta) TopPrizeClaims() []PrizeChange {
	var out []PrizeChange
	for _, pc := range d.PrizeChanges {
		if pc.PrizeTier == 0 && pc.Change < 0 {
			out = append(out, pc)
		}
	}
	return out
}

// Compute builds the delta from prev to curr. Entries are visited in external
// id order so the report is stable.
func Compute(prev, curr catalog.Registry, runID string, now time.Time) Delta {
	d := Delta{
		Date:         now.Format("2006-01-02"),
		DetectedAt:   now.Format("15:04"),
		RunID:        runID,
		GamesAdded:   []GameRef{},
		GamesRetired: []GameRef{},
		PrizeChanges: []PrizeChange{},
	}

	for _, id := range curr.IDs() {
		if _, ok := prev[id]; !ok {
			d.GamesAdded = append(d.GamesAdded, GameRef{GameID: id, GameName: nameOf(curr[id]), TicketPrice: ticketPriceOf(curr[id])})
		}
	}
	for _, id := range prev.IDs() {
		if _, ok := curr[id]; !ok {
			d.GamesRetired = append(d.GamesRetired, GameRef{GameID: id, GameName: nameOf(prev[id]), Reason: "Removed from registry"})
		}
	}

	for _, id := range prev.IDs() {
		newEntry, ok := curr[id]
		if !ok {
			continue
		}
		oldEntry := prev[id]
		if oldEntry.Status != newEntry.Status {
			d.GamesRetired = append(d.GamesRetired, GameRef{
				GameID:   id,
				GameName: nameOf(newEntry),
				Reason:   fmt.Sprintf("Status changed: %s -> %s", oldEntry.Status, newEntry.Status),
			})
		}
	}

	for _, id := range prev.IDs() {
		newEntry, ok := curr[id]
		if !ok {
			continue
		}
		oldEntry := prev[id]
		n := min(len(oldEntry.Prizes), len(newEntry.Prizes))
		for i := 0; i < n; i++ {
			before := oldEntry.Prizes[i].RemainingCount
			after := newEntry.Prizes[i].RemainingCount
			if before == after {
				continue
			}
			change := after - before
			kind := KindAdded
			if change < 0 {
				kind = KindClaimed
			}
			d.PrizeChanges = append(d.PrizeChanges, PrizeChange{
				GameID:       id,
				GameName:     nameOf(newEntry),
				PrizeTier:    i,
				PrizeValue:   prizeLabel(oldEntry.Prizes[i]),
				OldRemaining: before,
				NewRemaining: after,
				Change:       change,
				Kind:         kind,
				Meaning:      fmt.Sprintf("%d %s", abs(change), kind),
			})
		}
	}

	d.WealthBefore = wealth.Total(prev)
	d.WealthAfter = wealth.Total(curr)
	d.WealthDelta = d.WealthAfter.Sub(d.WealthBefore)
	d.Summary = Summarize(d)
	return d
}

// Summarize renders the delta as one line of "; "-joined clauses.
func Summarize(d Delta) string {
	var parts []string

	if len(d.GamesAdded) > 0 {
		parts = append(parts, fmt.Sprintf("%d new game(s): %s", len(d.GamesAdded), joinNames(d.GamesAdded)))
	}
	if len(d.GamesRetired) > 0 {
		parts = append(parts, fmt.Sprintf("%d retired game(s): %s", len(d.GamesRetired), joinNames(d.GamesRetired)))
	}

	if len(d.PrizeChanges) > 0 {
		games := make(map[string]struct{})
		claims := 0
		for _, pc := range d.PrizeChanges {
			games[pc.GameID] = struct{}{}
			if pc.Change < 0 {
				claims++
			}
		}
		top := d.TopPrizeClaims()
		for _, pc := range top {
			parts = append(parts, fmt.Sprintf("TOP PRIZE: %s claimed in %s", pc.PrizeValue, pc.GameName))
		}
		if claims > len(top) {
			parts = append(parts, fmt.Sprintf("%d other prize(s) claimed across %d game(s)", claims-len(top), len(games)))
		}
	}

	if !d.WealthDelta.IsZero() {
		direction := "increased"
		if d.WealthDelta.IsNegative() {
			direction = "decreased"
		}
		parts = append(parts, fmt.Sprintf("Total wealth %s by %s", direction, FormatMoney(d.WealthDelta.Abs())))
	}

	if len(parts) == 0 {
		return NoChangesSummary
	}
	return strings.Join(parts, "; ")
}

// FormatMoney renders an amount as "$1,234" or "$1,234.50".
func FormatMoney(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Abs()
	}
	var whole, frac string
	if amount.Equal(amount.Truncate(0)) {
		whole = amount.Truncate(0).String()
	} else {
		fixed := amount.StringFixed(2)
		dot := strings.IndexByte(fixed, '.')
		whole, frac = fixed[:dot], fixed[dot:]
	}
	return sign + "$" + groupThousands(whole) + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func prizeLabel(p catalog.PrizeTier) string {
	if p.RawValue != "" {
		return p.RawValue
	}
	return FormatMoney(p.Value)
}

func nameOf(e catalog.Entry) string {
	if e.DisplayName == "" {
		return "Unknown"
	}
	return e.DisplayName
}

func ticketPriceOf(e catalog.Entry) string {
	if e.TicketPrice == "" {
		return catalog.UnknownTicketPrice
	}
	return e.TicketPrice
}

func joinNames(refs []GameRef) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.GameName
	}
	return strings.Join(names, ", ")
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
