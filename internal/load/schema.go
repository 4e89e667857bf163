package load

import (
	"fmt"
	"strings"

	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/logger"
	"github.com/BartekS5/optistock/pkg/utils"
)

const DefaultSampleSize = 1000

// Resolver works out the schema a dataset is loaded with.
type Resolver struct {
	// SampleSize caps the rows inspected for type inference.
	SampleSize int
}

func NewResolver(sampleSize int) Resolver {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return Resolver{SampleSize: sampleSize}
}

// widen returns the narrowest kind that holds both a and b.
func widen(a, b utils.ValueKind) utils.ValueKind {
	switch {
	case a == b:
		return a
	case a == utils.KindNull:
		return b
	case b == utils.KindNull:
		return a
	case isNumeric(a) && isNumeric(b):
		return utils.KindFloat
	case isTemporal(a) && isTemporal(b):
		return utils.KindTimestamp
	}
	return utils.KindString
}

func isNumeric(k utils.ValueKind) bool  { return k == utils.KindInteger || k == utils.KindFloat }
func isTemporal(k utils.ValueKind) bool { return k == utils.KindDate || k == utils.KindTimestamp }

// kinds classifies every column over the sample. All-null columns stay KindNull.
func (r Resolver) kinds(width int, rows [][]string) []utils.ValueKind {
	out := make([]utils.ValueKind, width)
	n := r.SampleSize
	if n <= 0 {
		n = DefaultSampleSize
	}
	if n > len(rows) {
		n = len(rows)
	}
	for _, row := range rows[:n] {
		for i := 0; i < width && i < len(row); i++ {
			if out[i] == utils.KindString {
				continue
			}
			out[i] = widen(out[i], utils.ClassifyValue(row[i]))
		}
	}
	return out
}

// Infer builds a schema from the header and a row sample. Ambiguous and all-null
// columns are STRING.
func (r Resolver) Infer(header []string, rows [][]string) warehouse.Schema {
	kinds := r.kinds(len(header), rows)
	schema := make(warehouse.Schema, len(header))
	for i, name := range header {
		schema[i] = warehouse.Field{Name: name, Type: warehouse.TypeOfKind(kinds[i])}
	}
	return schema
}

// Resolve returns the schema to load with. Without an existing table the schema is
// inferred. With one, the header must match the table's columns position by position
// (case-insensitively) and every column's data must fit the existing type; the existing
// schema then wins.
func (r Resolver) Resolve(header []string, rows [][]string, existing warehouse.Schema) (warehouse.Schema, error) {
	if existing == nil {
		return r.Infer(header, rows), nil
	}

	if !sameFieldSet(header, existing.Names()) {
		return nil, failure.Schema("resolve schema", fmt.Errorf("field set mismatch: table has %v, dataset has %v", existing.Names(), header))
	}

	kinds := r.kinds(len(header), rows)
	var conflicts []string
	for i, f := range existing {
		if fits(kinds[i], f.Type) {
			continue
		}
		conflicts = append(conflicts, fmt.Sprintf("%s: table %s, data %s", f.Name, f.Type, kinds[i]))
	}
	if len(conflicts) > 0 {
		return nil, failure.Schema("resolve schema", fmt.Errorf("incompatible column types (%s)", strings.Join(conflicts, "; ")))
	}
	return existing, nil
}

// fits reports whether values of kind k can be stored in a column of type t.
func fits(k utils.ValueKind, t warehouse.FieldType) bool {
	if !t.Known() {
		logger.Warnf("Column type %s is not checked, leaving conversion to the warehouse", t)
		return true
	}
	if k == utils.KindNull || t == warehouse.String {
		return true
	}
	if warehouse.TypeOfKind(k) == t {
		return true
	}
	switch {
	case k == utils.KindInteger && t == warehouse.Float:
		return true
	case k == utils.KindDate && t == warehouse.Timestamp:
		return true
	}
	return false
}

func sameFieldSet(header, columns []string) bool {
	if len(header) != len(columns) {
		return false
	}
	for i := range header {
		if !strings.EqualFold(strings.TrimSpace(header[i]), columns[i]) {
			return false
		}
	}
	return true
}
