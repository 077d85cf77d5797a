package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfigFile(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "genomeidx.yaml")
	viper.SetConfigFile(path)
	return path
}

func TestConfigSet_ValidatesKnownKeys(t *testing.T) {
	path := useConfigFile(t)
	var out bytes.Buffer

	require.NoError(t, runConfigSet(&out, "format.min_bin_width", "4096"))
	assert.Contains(t, out.String(), "Set format.min_bin_width = 4096")
	assert.Equal(t, 4096, viper.Get("format.min_bin_width"))

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "min_bin_width: 4096")

	tests := []struct {
		key, value string
	}{
		{"format.min_bin_width", "wide"},
		{"format.check_interval", "0"},
		{"log.level", "loud"},
		{"format.bin_width", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := runConfigSet(&out, tt.key, tt.value)
			var ue *usageError
			assert.True(t, errors.As(err, &ue), "got %v", err)
		})
	}
	assert.Equal(t, 4096, viper.Get("format.min_bin_width"), "rejected values are not stored")
}

func TestConfigGet(t *testing.T) {
	useConfigFile(t)
	viper.SetDefault("log.level", "warn")

	var out bytes.Buffer
	require.NoError(t, runConfigGet(&out, "log.level"))
	assert.Equal(t, "warn\n", out.String())

	assert.Error(t, runConfigGet(&out, "cache.path"), "unset key")
	var ue *usageError
	assert.True(t, errors.As(runConfigGet(&out, "no.such"), &ue))
}

func TestConfigShow_ListsKnownKeys(t *testing.T) {
	useConfigFile(t)
	var out bytes.Buffer
	require.NoError(t, runConfigShow(&out))
	assert.Contains(t, out.String(), "No configuration set")
	for _, k := range configKeys {
		assert.Contains(t, out.String(), k.name)
	}

	viper.Set("cache.path", "/tmp/c.duckdb")
	out.Reset()
	require.NoError(t, runConfigShow(&out))
	assert.Contains(t, out.String(), "path: /tmp/c.duckdb")
}
