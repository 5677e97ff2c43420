// Package differ detects meaningful registry changes. Fingerprint is the
// equality oracle used for archival deduplication; Compute produces the
// structured change report between two registry snapshots.
package differ

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"scratch-registry/internal/catalog"
)

// FingerprintDomain versions the fingerprint algorithm.
const FingerprintDomain = "scratchwatch/registry/v1"

// FingerprintLength is the number of hex characters kept.
const FingerprintLength = 16

type fingerprintTier struct {
	Value          string `json:"value"`
	Odds           string `json:"odds"`
	RemainingCount int64  `json:"remaining_count"`
}

type fingerprintEntry struct {
	ExternalID string            `json:"external_id"`
	Status     catalog.Status    `json:"status"`
	Prizes     []fingerprintTier `json:"prizes"`
}

// Fingerprint hashes the identifiers, status and prize tiers of every entry.
// Timestamps, run ids, guids and display metadata do not contribute.
func Fingerprint(reg catalog.Registry) (string, error) {
	projection := make(map[string]fingerprintEntry, len(reg))
	for id, entry := range reg {
		tiers := make([]fingerprintTier, 0, len(entry.Prizes))
		for _, p := range entry.Prizes {
			tiers = append(tiers, fingerprintTier{
				Value:          p.Value.String(),
				Odds:           p.Odds.String(),
				RemainingCount: p.RemainingCount,
			})
		}
		projection[id] = fingerprintEntry{ExternalID: entry.ExternalID, Status: entry.Status, Prizes: tiers}
	}

	// encoding/json writes map keys in sorted order
	data, err := json.Marshal(projection)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint projection: %w", err)
	}
	return hashWithDomain(FingerprintDomain, data)[:FingerprintLength], nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
