package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/models"
)

const sampleConfig = `
api:
  timeout: 10s
extract:
  output_dir: data
  retry:
    attempts: 5
    initial_interval: 250ms
warehouse:
  project: acme
  dataset: optistock
mapping:
  - file: factura_items.csv
    table: sales
    mode: WRITE_TRUNCATE
  - file: /tmp/custom.csv
    table: other.custom
  - file: data/items_inventory.csv
    table: acme2.inv.inventory
    mode: ONLY_IF_EMPTY
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	for _, key := range []string{"GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_CLOUD_PROJECT", "OPTISTOCK_WAREHOUSE_PROJECT"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "optistock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("KEY_ALEGRA", "Basic abc")
	t.Setenv("OPTISTOCK_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Basic abc", cfg.API.Key)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "https://api.alegra.com/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.Extract.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Extract.Retry.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Extract.Retry.MaxInterval)
	assert.Equal(t, 300, cfg.Extract.BatchSize)
	assert.Equal(t, "bigquery", cfg.Warehouse.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Warehouse.AmbientCredentials())
	require.Len(t, cfg.Mapping, 3)

	entries, err := cfg.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, filepath.Join("data", "factura_items.csv"), entries[0].File)
	assert.Equal(t, "acme.optistock.sales", entries[0].Table.String())
	assert.Equal(t, warehouse.TruncateAndReplace, entries[0].Mode)

	assert.Equal(t, "/tmp/custom.csv", entries[1].File)
	assert.Equal(t, "acme.other.custom", entries[1].Table.String())
	assert.Equal(t, warehouse.Append, entries[1].Mode)

	assert.Equal(t, "data/items_inventory.csv", entries[2].File)
	assert.Equal(t, "acme2.inv.inventory", entries[2].Table.String())
	assert.Equal(t, warehouse.OnlyIfEmpty, entries[2].Mode)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultMappingUsedWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "warehouse:\n  project: acme\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMapping(), cfg.Mapping)

	entries, err := cfg.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, len(DefaultMapping()))
}

func TestEntriesRejectDuplicateTables(t *testing.T) {
	cfg := &Config{
		Warehouse: WarehouseConfig{Project: "p", Dataset: "d"},
		Mapping: []models.MappingEntry{
			{File: "a.csv", Table: "sales"},
			{File: "b.csv", Table: "p.d.sales", Mode: "APPEND"},
		},
	}
	_, err := cfg.Entries()
	assert.Error(t, err)
}

func TestEntriesRejectBadMode(t *testing.T) {
	cfg := &Config{
		Warehouse: WarehouseConfig{Project: "p", Dataset: "d"},
		Mapping:   []models.MappingEntry{{File: "a.csv", Table: "sales", Mode: "MERGE"}},
	}
	_, err := cfg.Entries()
	assert.Error(t, err)
}

func TestQualifyTableNeedsProject(t *testing.T) {
	cfg := &Config{Warehouse: WarehouseConfig{Dataset: "d"}}
	_, err := cfg.QualifyTable("sales")
	assert.Error(t, err)

	id, err := cfg.QualifyTable("p.d.sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", id.Table)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Warehouse: WarehouseConfig{Driver: "bigquery"},
			Extract:   ExtractConfig{BatchSize: 300, PageSize: 30, Checkpoints: "file", Retry: RetryConfig{Attempts: 3}},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Warehouse.Driver = "sqlserver"
	assert.Error(t, c.Validate())
	c.SQLServer.ConnectionString = "sqlserver://sa:pw@localhost?database=master"
	assert.NoError(t, c.Validate())

	c = base()
	c.Extract.Checkpoints = "mongo"
	assert.Error(t, c.Validate())

	c = base()
	c.Extract.Retry.Attempts = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Warehouse.Driver = "snowflake"
	assert.Error(t, c.Validate())

	c = base()
	c.Extract.PageSize = 31
	assert.ErrorContains(t, c.Validate(), "between 1 and 30")
	c.Extract.PageSize = 0
	assert.Error(t, c.Validate())
}
