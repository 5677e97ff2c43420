package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PulseSample captures the aggregate statistics of one committed census run.
type PulseSample struct {
	RunID           string           `json:"run_id"`
	Timestamp       time.Time        `json:"timestamp"`
	GameCount       int              `json:"game_count"`
	TotalWealth     decimal.Decimal  `json:"total_wealth"`
	TopPrizeSum     decimal.Decimal  `json:"top_prize_sum"`
	BirthCount      int              `json:"birth_count"`
	DeathCount      int              `json:"death_count"`
	RevivalCount    int              `json:"revival_count,omitempty"`
	PayloadSizeKB   *float64         `json:"payload_size_kb,omitempty"`
	Anomaly         bool             `json:"anomaly,omitempty"`
	WealthDeviation *decimal.Decimal `json:"wealth_deviation,omitempty"`
}

// Run statuses recorded in the audit log.
const (
	RunCommitted = "committed"
	RunAborted   = "aborted"
	RunFailed    = "failed"
)

// RunRecord is one row of the census audit log.
type RunRecord struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Status          string
	GameCount       int
	TotalWealth     decimal.Decimal
	TopPrizeSum     decimal.Decimal
	BirthCount      int
	DeathCount      int
	RevivalCount    int
	SkippedCount    int
	Anomaly         bool
	WealthDeviation *decimal.Decimal
	Fingerprint     string
	Archived        bool
	Error           *string
}
