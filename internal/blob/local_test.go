package blob

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratch-registry/internal/config"
)

func TestLocalPutGet(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "registry_history/2026/03/registry_run_1.json", []byte(`{"a":1}`), ContentTypeJSON))
	data, err := store.Get(ctx, "registry_history/2026/03/registry_run_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	require.NoError(t, store.Put(ctx, "registry_history/2026/03/registry_run_1.json", []byte(`{"a":2}`), ContentTypeJSON))
	data, err = store.Get(ctx, "registry_history/2026/03/registry_run_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(data))
}

func TestLocalMissingKey(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "registry.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside.json", "/etc/passwd", ""} {
		err := store.Put(context.Background(), key, []byte("x"), ContentTypeJSON)
		assert.Error(t, err, key)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.ArchiveConfig{Backend: "none"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = Open(ctx, config.ArchiveConfig{Backend: "local", LocalDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Local{}, store)

	_, err = Open(ctx, config.ArchiveConfig{Backend: "ftp"}, zerolog.Nop())
	assert.Error(t, err)
}
