package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, concurrency int) {
	t.Helper()
	content := `
[gateways]
trusted = ["https://arweave.net"]

[verification]
concurrency = ` + strconv.Itoa(concurrency) + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderLoadAndCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfinder.toml")
	writeConfig(t, path, 3)

	l := NewLoader(path)
	defer l.Close()

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Verification.Concurrency)
	assert.Same(t, cfg, l.Current())
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfinder.toml")
	writeConfig(t, path, 3)

	l := NewLoader(path)
	defer l.Close()

	_, err := l.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	l.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, l.Watch())

	writeConfig(t, path, 7)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Verification.Concurrency)
		assert.Equal(t, 7, l.Current().Verification.Concurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestLoaderKeepsConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfinder.toml")
	writeConfig(t, path, 3)

	l := NewLoader(path)
	defer l.Close()

	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	// A broken write must not clobber the last good configuration.
	require.NoError(t, os.WriteFile(path, []byte("not toml at all ["), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 3, l.Current().Verification.Concurrency)
}
