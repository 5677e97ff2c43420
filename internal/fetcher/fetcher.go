package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"scratch-registry/internal/catalog"
)

// ErrBelowSafetyThreshold means the observation holds too few games to be a
// complete catalog.
var ErrBelowSafetyThreshold = errors.New("observation below safety threshold")

// Observation is one raw catalog capture.
type Observation struct {
	Records []catalog.RawRecord
	Payload []byte
	SizeKB  float64
	Source  string
}

// Sensor captures the current catalog.
type Sensor interface {
	Observe(ctx context.Context) (Observation, error)
}

// OddsFetcher retrieves the overall odds of a single game.
type OddsFetcher interface {
	FetchOdds(ctx context.Context, entry catalog.Entry) (string, error)
}

type feedDocument struct {
	Games []catalog.RawRecord `json:"games"`
}

// DecodeFeed parses a catalog document of the form {"games":[...]}.
func DecodeFeed(payload []byte, source string) (Observation, error) {
	var doc feedDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Observation{}, fmt.Errorf("decode catalog from %s: %w", source, err)
	}
	return Observation{
		Records: doc.Games,
		Payload: payload,
		SizeKB:  float64(len(payload)) / 1024,
		Source:  source,
	}, nil
}

// CheckSafety rejects observations with fewer than threshold records. A zero
// threshold disables the check.
func CheckSafety(obs Observation, threshold int) error {
	if threshold > 0 && len(obs.Records) < threshold {
		return fmt.Errorf("%w: only %d games found in %s (need %d)", ErrBelowSafetyThreshold, len(obs.Records), obs.Source, threshold)
	}
	return nil
}
