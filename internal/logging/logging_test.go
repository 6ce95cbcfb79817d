package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseLevel(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseLevel(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseFormat(t *testing.T) {
	got, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got)

	got, err = ParseFormat("text")
	require.NoError(t, err)
	assert.Equal(t, FormatText, got)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wayfinder.log")
	cfg := &Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  path,
		MaxSize:   10,
		Component: "test",
	}

	log, err := New(cfg)
	require.NoError(t, err)

	log.Info("hello", "key", "value")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfinder.log")
	cfg := &Config{
		Level:    LevelWarn,
		Format:   FormatText,
		Output:   "file",
		FilePath: path,
	}

	log, err := New(cfg)
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfinder.log")
	cfg := &Config{
		FilePath:   path,
		MaxSize:    1, // 1 MB
		MaxBackups: 2,
	}

	r, err := NewFileRotator(cfg)
	require.NoError(t, err)
	defer r.Close()

	line := []byte(strings.Repeat("x", 1024) + "\n")
	for i := 0; i < 1100; i++ {
		_, err := r.Write(line)
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "wayfinder-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "expected at least one rotated file")
}
