package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratch-registry/internal/blob"
	"scratch-registry/internal/catalog"
	"scratch-registry/internal/storage"
)

type memoryBlobs struct {
	objects map[string][]byte
	puts    map[string]int
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: map[string][]byte{}, puts: map[string]int{}}
}

func (m *memoryBlobs) Put(ctx context.Context, key string, body []byte, contentType string) error {
	m.objects[key] = append([]byte(nil), body...)
	m.puts[key]++
	return nil
}

func (m *memoryBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	return data, nil
}

func (m *memoryBlobs) keys() []string {
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memoryCache struct{ value string }

func (c *memoryCache) LoadFingerprint(ctx context.Context) (string, error) { return c.value, nil }
func (c *memoryCache) SaveFingerprint(ctx context.Context, fp string) error {
	c.value = fp
	return nil
}

var _ storage.FingerprintStore = (*memoryCache)(nil)

func registry(remaining int64, lastSeen time.Time) catalog.Registry {
	return catalog.Registry{
		"996": {
			GUID:        "g-996",
			ExternalID:  "996",
			DisplayName: "Million Dollar",
			Status:      catalog.StatusActive,
			LastSeen:    lastSeen,
			Prizes:      []catalog.PrizeTier{{Value: decimal.NewFromInt(1_000_000), Odds: decimal.NewFromInt(1000), RemainingCount: remaining}},
		},
	}
}

func TestArchiveSkipsUnchangedRegistry(t *testing.T) {
	blobs := newMemoryBlobs()
	cache := &memoryCache{}
	dedup := New(blobs, cache, Options{}, zerolog.Nop())
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)

	d1, err := dedup.Archive(ctx, registry(5, first), "run_1", first)
	require.NoError(t, err)
	assert.True(t, d1.Changed)
	require.NotNil(t, d1.Delta)
	assert.Len(t, d1.Delta.GamesAdded, 1)
	assert.Equal(t, "registry_history/2026/03/registry_run_1.json", d1.SnapshotKey)
	assert.Equal(t, "deltas/2026/03/delta_run_1.json", d1.DeltaKey)
	assert.Equal(t, d1.Fingerprint, cache.value)

	d2, err := dedup.Archive(ctx, registry(5, second), "run_2", second)
	require.NoError(t, err)
	assert.False(t, d2.Changed)
	assert.Equal(t, d1.Fingerprint, d2.Fingerprint)
	assert.Nil(t, d2.Delta)
	assert.Empty(t, d2.SnapshotKey)

	assert.Equal(t, []string{
		ChangelogKey,
		"deltas/2026/03/delta_run_1.json",
		LiveKey,
		"registry_history/2026/03/registry_run_1.json",
	}, blobs.keys())
	assert.Equal(t, 2, blobs.puts[LiveKey])

	var live catalog.Registry
	require.NoError(t, json.Unmarshal(blobs.objects[LiveKey], &live))
	assert.True(t, live["996"].LastSeen.Equal(second), "live pointer must carry the latest registry")
}

func TestArchiveDiffsAgainstPreviousLivePointer(t *testing.T) {
	blobs := newMemoryBlobs()
	dedup := New(blobs, &memoryCache{}, Options{}, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	_, err := dedup.Archive(ctx, registry(5, at), "run_1", at)
	require.NoError(t, err)
	d, err := dedup.Archive(ctx, registry(4, at), "run_2", at.Add(time.Hour))
	require.NoError(t, err)

	require.True(t, d.Changed)
	require.Len(t, d.Delta.PrizeChanges, 1)
	assert.Equal(t, int64(-1), d.Delta.PrizeChanges[0].Change)

	entries, err := dedup.Changelog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run_2", entries[0].RunID)
	assert.Equal(t, 1, entries[0].PrizeChanges)
	assert.True(t, entries[0].WealthDelta.Equal(decimal.NewFromInt(-1_000_000)))
	assert.Equal(t, "run_1", entries[1].RunID)
}

func TestChangelogIsBounded(t *testing.T) {
	blobs := newMemoryBlobs()
	dedup := New(blobs, &memoryCache{}, Options{ChangelogLimit: 2}, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := dedup.Archive(ctx, registry(int64(10-i), at), fmt.Sprintf("run_%d", i), at)
		require.NoError(t, err)
	}

	entries, err := dedup.Changelog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run_3", entries[0].RunID)
	assert.Equal(t, "run_2", entries[1].RunID)
}

func TestArchiveEvidence(t *testing.T) {
	blobs := newMemoryBlobs()
	dedup := New(blobs, &memoryCache{}, Options{}, zerolog.Nop())
	at := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)

	key, err := dedup.ArchiveEvidence(context.Background(), "run_x", []byte(`{"games":[]}`), at)
	require.NoError(t, err)
	assert.Equal(t, "raw_payload/2026/12/run_x.json", key)
	assert.Contains(t, blobs.objects, key)

	key, err = dedup.ArchiveEvidence(context.Background(), "run_y", nil, at)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestWriteChangelogGolden(t *testing.T) {
	entries := []ChangelogEntry{
		{
			Date:         "2026-04-02T09:00:00Z",
			RunID:        "run_20260402_0900_b7c1",
			Fingerprint:  "9f86d081884c7d65",
			Summary:      "TOP PRIZE: $1,000,000 claimed in Million Dollar; Total wealth decreased by $1,000,000",
			PrizeChanges: 1,
			WealthDelta:  decimal.NewFromInt(-1_000_000),
		},
		{
			Date:        "2026-04-01T21:00:00Z",
			RunID:       "run_20260401_2100_03aa",
			Fingerprint: "2c26b46b68ffc68f",
			Summary:     "1 new game(s): Cash Blast; 1 retired game(s): Lucky 7s; Total wealth increased by $12,500.50",
			Added:       1,
			Retired:     1,
			WealthDelta: decimal.RequireFromString("12500.5"),
		},
		{
			Date:        "2026-04-01T09:00:00Z",
			RunID:       "run_20260401_0900_5e0d",
			Fingerprint: "fcde2b2edba56bf4",
			Summary:     "1 new game(s): Million Dollar; Total wealth increased by $5,000,000",
			Added:       1,
			WealthDelta: decimal.NewFromInt(5_000_000),
		},
	}

	var out bytes.Buffer
	require.NoError(t, WriteChangelog(&out, entries))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "changelog", out.Bytes())
}

func TestWriteChangelogEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, WriteChangelog(&out, nil))
	assert.Equal(t, "no changelog entries\n", out.String())
}
