package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/platinummonkey/spokehub/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSpokesFile_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistry(t, dir, "spokes:\n  - id: a\n    url: https://a.example.com\n    api_key: key-a\n")

	spokes, err := LoadSpokesFile(path)
	require.NoError(t, err)
	reg, err := NewSpokeRegistry(spokes)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchSpokesFile(ctx, path, reg, observability.NewNopLogger()) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("spokes:\n  - id: b\n    url: https://b.example.com\n    api_key: key-b\n"), 0o600))

	assert.Eventually(t, func() bool {
		_, ok := reg.ByAPIKey("key-b")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("spokes: [broken"), 0o600))
	time.Sleep(100 * time.Millisecond)
	_, ok := reg.ByAPIKey("key-b")
	assert.True(t, ok, "broken file must not clear the registry")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
