package load

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BartekS5/optistock/internal/warehouse"
)

type memTable struct {
	schema warehouse.Schema
	rows   [][]string
}

// memWarehouse is an in-memory warehouse. Loads into tables listed in failLoad fail.
type memWarehouse struct {
	tables   map[string]*memTable
	datasets map[string]bool
	failLoad map[string]error
	loads    int
}

func newMemWarehouse() *memWarehouse {
	return &memWarehouse{tables: map[string]*memTable{}, datasets: map[string]bool{}, failLoad: map[string]error{}}
}

func (m *memWarehouse) put(id string, schema warehouse.Schema, rows ...[]string) {
	m.tables[id] = &memTable{schema: schema, rows: rows}
}

func (m *memWarehouse) Table(_ context.Context, id warehouse.TableID) (*warehouse.TableInfo, error) {
	t, ok := m.tables[id.String()]
	if !ok {
		return nil, warehouse.ErrNotFound
	}
	return &warehouse.TableInfo{ID: id, Schema: t.schema, NumRows: uint64(len(t.rows))}, nil
}

func (m *memWarehouse) EnsureDataset(_ context.Context, project, dataset string) error {
	m.datasets[project+"."+dataset] = true
	return nil
}

func (m *memWarehouse) CreateTable(_ context.Context, id warehouse.TableID, schema warehouse.Schema) error {
	if _, ok := m.tables[id.String()]; ok {
		return nil
	}
	m.tables[id.String()] = &memTable{schema: schema}
	return nil
}

func (m *memWarehouse) Load(_ context.Context, id warehouse.TableID, _ warehouse.Schema, rows [][]string, mode warehouse.WriteMode) (int64, error) {
	m.loads++
	if err := m.failLoad[id.String()]; err != nil {
		return 0, err
	}
	t, ok := m.tables[id.String()]
	if !ok {
		return 0, fmt.Errorf("table %s does not exist", id)
	}
	switch mode {
	case warehouse.TruncateAndReplace:
		t.rows = nil
	case warehouse.OnlyIfEmpty:
		if len(t.rows) > 0 {
			return 0, warehouse.ErrTableNotEmpty
		}
	}
	t.rows = append(t.rows, rows...)
	return int64(len(rows)), nil
}

func (m *memWarehouse) ListTables(_ context.Context, dataset string) ([]string, error) {
	var out []string
	for id := range m.tables {
		if strings.Contains(id, "."+dataset+".") {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memWarehouse) Close() error { return nil }

func (m *memWarehouse) count(id string) int {
	t, ok := m.tables[id]
	if !ok {
		return -1
	}
	return len(t.rows)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mustTable(t *testing.T, s string) warehouse.TableID {
	t.Helper()
	id, err := warehouse.ParseTableID(s)
	require.NoError(t, err)
	return id
}
