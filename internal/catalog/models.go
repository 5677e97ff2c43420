package catalog

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a registry entry.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRetired Status = "RETIRED"
)

// UnknownOdds marks an entry whose overall odds have not been enriched yet.
const UnknownOdds = "Unknown"

// UnknownTicketPrice is reported for games whose sensor did not carry a price.
const UnknownTicketPrice = "Unknown"

// RawTier is one prize row exactly as the sensor extracted it.
type RawTier struct {
	Value string `json:"value"`
	Odds  string `json:"odds"`
	Total string `json:"total"`
}

// RawRecord is one game exactly as the sensor extracted it.
type RawRecord struct {
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	URLSlug     string    `json:"url_slug"`
	TicketPrice string    `json:"ticket_price,omitempty"`
	Prizes      []RawTier `json:"prizes"`
}

// PrizeTier is a validated prize row. The raw strings are kept for audit.
type PrizeTier struct {
	Value          decimal.Decimal `json:"value"`
	Odds           decimal.Decimal `json:"odds"`
	RemainingCount int64           `json:"remaining_count"`
	RawValue       string          `json:"raw_value,omitempty"`
	RawOdds        string          `json:"raw_odds,omitempty"`
	RawTotal       string          `json:"raw_total,omitempty"`
}

// RemainingValue is value × remaining count for the tier.
func (p PrizeTier) RemainingValue() decimal.Decimal {
	return p.Value.Mul(decimal.NewFromInt(p.RemainingCount))
}

// ObservedRecord is a validated game from the current observation.
type ObservedRecord struct {
	ExternalID  string
	DisplayName string
	URLSlug     string
	TicketPrice string
	Prizes      []PrizeTier
}

// Entry is the persistent record for one game.
type Entry struct {
	GUID        string      `json:"guid"`
	ExternalID  string      `json:"external_id"`
	DisplayName string      `json:"display_name"`
	ProductKey  string      `json:"product_key"`
	URLSlug     string      `json:"url_slug"`
	OverallOdds string      `json:"overall_odds"`
	TicketPrice string      `json:"ticket_price,omitempty"`
	Prizes      []PrizeTier `json:"prizes"`
	Status      Status      `json:"status"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	MissCount   int         `json:"miss_count"`
	DeathDate   *time.Time  `json:"death_date"`
	LastRunID   string      `json:"last_run_id"`
}

// Active reports whether the entry is currently ACTIVE.
func (e Entry) Active() bool {
	return e.Status == StatusActive
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	out.Prizes = ClonePrizes(e.Prizes)
	if e.DeathDate != nil {
		death := *e.DeathDate
		out.DeathDate = &death
	}
	return out
}

// ClonePrizes copies a tier slice.
func ClonePrizes(prizes []PrizeTier) []PrizeTier {
	if prizes == nil {
		return nil
	}
	out := make([]PrizeTier, len(prizes))
	copy(out, prizes)
	return out
}

// Registry maps external id to entry. It is the system of record.
type Registry map[string]Entry

// Clone returns a deep copy of the registry.
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for id, entry := range r {
		out[id] = entry.Clone()
	}
	return out
}

// CountActive returns the number of ACTIVE entries.
func (r Registry) CountActive() int {
	n := 0
	for _, entry := range r {
		if entry.Active() {
			n++
		}
	}
	return n
}

// IDs returns the registry keys in ascending order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
