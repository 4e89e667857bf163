package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "debug", Format: "json", Output: &buf}))
	defer Close()

	WithFields(Fields{"resource": "items"}).Info("page fetched")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "page fetched", entry["message"])
	assert.Equal(t, "items", entry["resource"])
	assert.Contains(t, entry, "timestamp")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "warn", Output: &buf}))
	defer Close()

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")
}

func TestFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "optistock.log")
	require.NoError(t, Configure(Options{Level: "info", File: path, Output: &buf}))
	Errorf("boom")
	Close()

	assert.FileExists(t, path)
	assert.Contains(t, buf.String(), "boom")
}
