package load

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/logger"
	"github.com/BartekS5/optistock/pkg/utils"
)

// LoadResult describes one finished load. Skipped loads are successes that wrote nothing.
type LoadResult struct {
	Table    warehouse.TableID
	Mode     warehouse.WriteMode
	Rows     int64
	Created  bool
	Skipped  bool
	Reason   string
	Schema   warehouse.Schema
	Duration time.Duration
}

// Loader loads one dataset file into one table.
type Loader struct {
	Warehouse warehouse.Warehouse
	Resolver  Resolver
	// DryRun reads and resolves but touches nothing in the warehouse.
	DryRun bool
}

func NewLoader(wh warehouse.Warehouse, resolver Resolver) *Loader {
	return &Loader{Warehouse: wh, Resolver: resolver}
}

func skipped(res *LoadResult, reason string) *LoadResult {
	res.Skipped = true
	res.Reason = reason
	return res
}

// Load reads path and loads it into table under mode. Failures are classified:
// DataError for the file, SchemaError for an incompatible table, LoadError for the
// warehouse.
func (l *Loader) Load(ctx context.Context, path string, table warehouse.TableID, mode warehouse.WriteMode) (*LoadResult, error) {
	started := time.Now()
	log := logger.WithFields(logger.Fields{"table": table.String(), "file": path})
	res := &LoadResult{Table: table, Mode: mode}
	defer func() { res.Duration = time.Since(started) }()

	ds, err := ReadDataset(path)
	if err != nil {
		return nil, err
	}
	if ds.Empty() {
		log.Info("Dataset has no rows, nothing to load")
		return skipped(res, "empty dataset"), nil
	}

	info, err := l.Warehouse.Table(ctx, table)
	switch {
	case errors.Is(err, warehouse.ErrNotFound):
		info = nil
	case err != nil:
		return nil, failure.Load("inspect table "+table.String(), err)
	}

	if info != nil && mode == warehouse.OnlyIfEmpty && info.NumRows > 0 {
		log.Infof("Table already has %d rows, leaving it untouched", info.NumRows)
		return skipped(res, fmt.Sprintf("table has %d rows", info.NumRows)), nil
	}

	var existing warehouse.Schema
	if info != nil {
		existing = info.Schema
	}
	schema, err := l.Resolver.Resolve(ds.Header, ds.Rows, existing)
	if err != nil {
		return nil, err
	}
	res.Schema = schema
	if err := checkRows(ds, schema); err != nil {
		return nil, err
	}

	if l.DryRun {
		log.Infof("[DRY RUN] Would load %d rows with schema %s", len(ds.Rows), schema)
		res.Rows = int64(len(ds.Rows))
		return skipped(res, "dry run"), nil
	}

	if info == nil {
		if err := l.Warehouse.EnsureDataset(ctx, table.Project, table.Dataset); err != nil {
			return nil, failure.Load("create dataset "+table.Project+"."+table.Dataset, err)
		}
		if err := l.Warehouse.CreateTable(ctx, table, schema); err != nil {
			return nil, failure.Load("create table "+table.String(), err)
		}
		res.Created = true
		log.Infof("Created table with schema %s", schema)
	}

	n, err := l.Warehouse.Load(ctx, table, schema, ds.Rows, mode)
	if errors.Is(err, warehouse.ErrTableNotEmpty) {
		log.Info("Table received rows before the load, leaving it untouched")
		return skipped(res, "table not empty"), nil
	}
	if err != nil {
		return nil, failure.Load("load "+table.String(), err)
	}
	res.Rows = n
	log.Infof("Loaded %d rows (%s)", n, mode)
	return res, nil
}

// checkRows converts every cell once so a bad value past the inference sample is
// reported against the file rather than as a warehouse rejection.
func checkRows(ds *Dataset, schema warehouse.Schema) error {
	for r, row := range ds.Rows {
		for i, f := range schema {
			if _, err := utils.ConvertCell(row[i], f.Type.ValueKind()); err != nil {
				return failure.Data("read dataset "+ds.Path, fmt.Errorf("row %d, column %s: %q is not a valid %s", r+2, f.Name, row[i], f.Type))
			}
		}
	}
	return nil
}
