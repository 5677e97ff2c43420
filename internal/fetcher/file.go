package fetcher

import (
	"context"
	"fmt"
	"os"
)

// File reads a catalog document from disk.
type File struct {
	Path            string
	SafetyThreshold int
}

// Observe reads and decodes the file.
func (f File) Observe(ctx context.Context) (Observation, error) {
	payload, err := os.ReadFile(f.Path)
	if err != nil {
		return Observation{}, fmt.Errorf("read observation: %w", err)
	}
	obs, err := DecodeFeed(payload, f.Path)
	if err != nil {
		return Observation{}, err
	}
	if err := CheckSafety(obs, f.SafetyThreshold); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

var _ Sensor = File{}
