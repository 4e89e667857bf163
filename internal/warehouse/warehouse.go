// Package warehouse abstracts the analytics warehouse behind the few capabilities the
// load side needs: inspect a table, create it, and load rows under a write mode.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BartekS5/optistock/pkg/utils"
)

var (
	// ErrNotFound is returned by Table when the table (or its dataset) does not exist.
	ErrNotFound = errors.New("warehouse: table not found")
	// ErrTableNotEmpty is returned by Load in OnlyIfEmpty mode when rows appeared concurrently.
	ErrTableNotEmpty = errors.New("warehouse: table is not empty")
)

type FieldType string

const (
	String    FieldType = "STRING"
	Integer   FieldType = "INTEGER"
	Float     FieldType = "FLOAT"
	Boolean   FieldType = "BOOLEAN"
	Date      FieldType = "DATE"
	Timestamp FieldType = "TIMESTAMP"
)

// Known reports whether t is one of the types this package creates tables with.
func (t FieldType) Known() bool {
	switch t {
	case String, Integer, Float, Boolean, Date, Timestamp:
		return true
	}
	return false
}

// ValueKind maps a column type to the cell kind used when converting CSV values.
func (t FieldType) ValueKind() utils.ValueKind {
	switch t {
	case Integer:
		return utils.KindInteger
	case Float:
		return utils.KindFloat
	case Boolean:
		return utils.KindBoolean
	case Date:
		return utils.KindDate
	case Timestamp:
		return utils.KindTimestamp
	default:
		return utils.KindString
	}
}

// TypeOfKind maps an inferred cell kind to the column type that stores it.
func TypeOfKind(k utils.ValueKind) FieldType {
	switch k {
	case utils.KindInteger:
		return Integer
	case utils.KindFloat:
		return Float
	case utils.KindBoolean:
		return Boolean
	case utils.KindDate:
		return Date
	case utils.KindTimestamp:
		return Timestamp
	default:
		return String
	}
}

type Field struct {
	Name string
	Type FieldType
}

type Schema []Field

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.Name + ":" + string(f.Type)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// TableID is a fully-qualified project.dataset.table identifier.
type TableID struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableID parses "project.dataset.table".
func ParseTableID(s string) (TableID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return TableID{}, fmt.Errorf("table id must be in format 'project.dataset.table', got: %q", s)
	}
	for _, p := range parts {
		if p == "" {
			return TableID{}, fmt.Errorf("table id must be in format 'project.dataset.table', got: %q", s)
		}
	}
	return TableID{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}

func (t TableID) String() string {
	return t.Project + "." + t.Dataset + "." + t.Table
}

// WriteMode governs how loaded rows interact with existing table content.
type WriteMode int

const (
	// Append adds rows and leaves existing rows alone. Not idempotent.
	Append WriteMode = iota
	// TruncateAndReplace discards existing content and replaces it with the dataset.
	// Unsafe under concurrent external writers.
	TruncateAndReplace
	// OnlyIfEmpty loads only into a table that currently has zero rows.
	OnlyIfEmpty
)

func (m WriteMode) String() string {
	switch m {
	case TruncateAndReplace:
		return "TRUNCATE_AND_REPLACE"
	case OnlyIfEmpty:
		return "ONLY_IF_EMPTY"
	default:
		return "APPEND"
	}
}

// ParseWriteMode accepts the mode names and the warehouse-native WRITE_* aliases.
// The empty string means Append.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "APPEND", "WRITE_APPEND":
		return Append, nil
	case "TRUNCATE_AND_REPLACE", "TRUNCATE", "REPLACE", "WRITE_TRUNCATE":
		return TruncateAndReplace, nil
	case "ONLY_IF_EMPTY", "EMPTY", "WRITE_EMPTY":
		return OnlyIfEmpty, nil
	}
	return Append, fmt.Errorf("unknown write mode %q (want APPEND, TRUNCATE_AND_REPLACE or ONLY_IF_EMPTY)", s)
}

// TableInfo describes an existing table.
type TableInfo struct {
	ID       TableID
	Schema   Schema
	NumRows  uint64
	NumBytes int64
	Created  time.Time
	Modified time.Time
}

// Warehouse is the capability the Table Loader drives.
type Warehouse interface {
	// Table returns ErrNotFound when the table does not exist.
	Table(ctx context.Context, id TableID) (*TableInfo, error)
	// EnsureDataset creates the dataset container if it is missing.
	EnsureDataset(ctx context.Context, project, dataset string) error
	CreateTable(ctx context.Context, id TableID, schema Schema) error
	// Load writes rows, ordered like schema, and returns the number of rows loaded.
	Load(ctx context.Context, id TableID, schema Schema, rows [][]string, mode WriteMode) (int64, error)
	// ListTables accepts "dataset" or "project.dataset".
	ListTables(ctx context.Context, dataset string) ([]string, error)
	Close() error
}
