package load

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/internal/warehouse"
)

func TestInferTypes(t *testing.T) {
	header := []string{"id", "qty", "price", "active", "day", "at", "code", "empty", "mixed"}
	rows := [][]string{
		{"1", "10", "2.5", "true", "2024-01-01", "2024-01-01T10:00:00Z", "007", "", "2024-01-02"},
		{"2", "", "3", "false", "2024-01-02", "2024-01-02 11:00:00", "010", "", "2024-01-02T00:00:00Z"},
		{"3", "-4", "1e3", "TRUE", "", "", "12", "", ""},
	}
	schema := NewResolver(0).Infer(header, rows)

	assert.Equal(t, warehouse.Schema{
		{Name: "id", Type: warehouse.Integer},
		{Name: "qty", Type: warehouse.Integer},
		{Name: "price", Type: warehouse.Float},
		{Name: "active", Type: warehouse.Boolean},
		{Name: "day", Type: warehouse.Date},
		{Name: "at", Type: warehouse.Timestamp},
		{Name: "code", Type: warehouse.String},
		{Name: "empty", Type: warehouse.String},
		{Name: "mixed", Type: warehouse.Timestamp},
	}, schema)
}

func TestInferUsesSampleOnly(t *testing.T) {
	rows := [][]string{{"1"}, {"2"}, {"abc"}}
	schema := Resolver{SampleSize: 2}.Infer([]string{"n"}, rows)
	assert.Equal(t, warehouse.Integer, schema[0].Type)
}

func TestResolveFieldSetMismatch(t *testing.T) {
	existing := warehouse.Schema{{Name: "id", Type: warehouse.String}, {Name: "qty", Type: warehouse.Integer}}
	_, err := NewResolver(0).Resolve([]string{"id", "qty", "extra"}, [][]string{{"a", "1", "x"}}, existing)
	require.Error(t, err)
	assert.Equal(t, failure.KindSchema, failure.KindOf(err))

	_, err = NewResolver(0).Resolve([]string{"qty", "id"}, nil, existing)
	assert.True(t, failure.Is(err, failure.KindSchema))
}

func TestResolveKeepsExistingTypes(t *testing.T) {
	existing := warehouse.Schema{
		{Name: "ID", Type: warehouse.String},
		{Name: "qty", Type: warehouse.Integer},
		{Name: "price", Type: warehouse.Float},
		{Name: "at", Type: warehouse.Timestamp},
	}
	rows := [][]string{{"17", "", "3", "2024-01-01"}}
	schema, err := NewResolver(0).Resolve([]string{"id", "qty", "price", "at"}, rows, existing)
	require.NoError(t, err)
	assert.Equal(t, existing, schema)
}

func TestResolveRejectsNarrowerColumn(t *testing.T) {
	existing := warehouse.Schema{{Name: "id", Type: warehouse.String}, {Name: "qty", Type: warehouse.Integer}}
	_, err := NewResolver(0).Resolve([]string{"id", "qty"}, [][]string{{"a", "1.5"}}, existing)
	require.Error(t, err)
	assert.Equal(t, failure.KindSchema, failure.KindOf(err))
	assert.Contains(t, err.Error(), "qty")
}

func TestResolveWithoutTableInfers(t *testing.T) {
	schema, err := NewResolver(0).Resolve([]string{"id"}, [][]string{{"5"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, warehouse.Schema{{Name: "id", Type: warehouse.Integer}}, schema)
}
