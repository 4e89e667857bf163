package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BartekS5/optistock/internal/load"
	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/models"
)

// QualifyTable turns "table", "dataset.table" or "project.dataset.table" into a full
// table id, filling the gaps from the warehouse settings.
func (c *Config) QualifyTable(name string) (warehouse.TableID, error) {
	name = strings.TrimSpace(name)
	switch strings.Count(name, ".") {
	case 0:
		name = c.Warehouse.Dataset + "." + name
		fallthrough
	case 1:
		if c.Warehouse.Project == "" {
			return warehouse.TableID{}, fmt.Errorf("table %q is not fully qualified and warehouse.project is not set", name)
		}
		name = c.Warehouse.Project + "." + name
	}
	return warehouse.ParseTableID(name)
}

// DatasetPath resolves a mapping file name. Bare file names live in the extract output directory.
func (c *Config) DatasetPath(file string) string {
	if filepath.IsAbs(file) || strings.ContainsRune(file, filepath.Separator) || strings.Contains(file, "/") {
		return file
	}
	return filepath.Join(c.Extract.OutputDir, file)
}

// Entry resolves one mapping entry.
func (c *Config) Entry(m models.MappingEntry) (load.Entry, error) {
	if strings.TrimSpace(m.File) == "" {
		return load.Entry{}, fmt.Errorf("mapping entry for table %q has no file", m.Table)
	}
	id, err := c.QualifyTable(m.Table)
	if err != nil {
		return load.Entry{}, err
	}
	mode, err := warehouse.ParseWriteMode(m.Mode)
	if err != nil {
		return load.Entry{}, fmt.Errorf("mapping entry %s: %w", m.File, err)
	}
	return load.Entry{File: c.DatasetPath(m.File), Table: id, Mode: mode}, nil
}

// Entries resolves the whole mapping in declared order. Two entries may not target
// the same table.
func (c *Config) Entries() ([]load.Entry, error) {
	if len(c.Mapping) == 0 {
		return nil, fmt.Errorf("no mapping entries configured")
	}
	entries := make([]load.Entry, 0, len(c.Mapping))
	for _, m := range c.Mapping {
		e, err := c.Entry(m)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := load.CheckUnique(entries); err != nil {
		return nil, err
	}
	return entries, nil
}
