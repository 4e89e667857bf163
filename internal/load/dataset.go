// Package load moves dataset files into warehouse tables.
package load

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BartekS5/optistock/internal/failure"
)

// Dataset is a fully read CSV dataset file.
type Dataset struct {
	Path   string
	Header []string
	Rows   [][]string
}

// Empty reports whether the dataset has no data rows.
func (d *Dataset) Empty() bool { return len(d.Rows) == 0 }

// Sample returns at most n leading rows. n <= 0 returns every row.
func (d *Dataset) Sample(n int) [][]string {
	if n <= 0 || n >= len(d.Rows) {
		return d.Rows
	}
	return d.Rows[:n]
}

// ReadDataset reads and checks a dataset file. Every problem with the file itself is a
// DataError: missing, unreadable, ragged rows, blank or duplicate column names.
func ReadDataset(path string) (*Dataset, error) {
	op := "read dataset " + path
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.Data(op, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = 0
	r.ReuseRecord = false

	ds := &Dataset{Path: path}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return ds, nil
	}
	if err != nil {
		return nil, failure.Data(op, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	seen := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, failure.Data(op, fmt.Errorf("column %d has an empty name", i+1))
		}
		key := strings.ToLower(name)
		if j, dup := seen[key]; dup {
			return nil, failure.Data(op, fmt.Errorf("column %q appears twice (positions %d and %d)", name, j+1, i+1))
		}
		seen[key] = i
		header[i] = name
	}
	ds.Header = header

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failure.Data(op, err)
		}
		ds.Rows = append(ds.Rows, rec)
	}
	return ds, nil
}
