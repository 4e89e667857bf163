package etl

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BartekS5/optistock/pkg/utils"
)

const DefaultWriteBatchSize = 300

type WriterOptions struct {
	// BatchSize is the number of buffered rows that triggers a flush.
	BatchSize int
	// Append keeps existing content instead of truncating. Used when resuming
	// from a checkpoint; the existing header must match the fields.
	Append bool
}

// CSVWriter appends rows to a CSV file in batches. Every flush is fsynced, so a crash
// loses at most the rows still buffered.
type CSVWriter struct {
	path          string
	fields        []string
	batchSize     int
	file          *os.File
	csv           *csv.Writer
	buf           []Row
	headerWritten bool
	rows          int
	batches       int
	closed        bool
}

var _ RowWriter = (*CSVWriter)(nil)

// OpenCSVWriter creates (or truncates) path. Truncation happens here only, never mid-run.
func OpenCSVWriter(path string, fields []string, opts WriterOptions) (*CSVWriter, error) {
	if len(fields) == 0 {
		return nil, errors.New("csv writer needs at least one field")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultWriteBatchSize
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	w := &CSVWriter{path: path, fields: fields, batchSize: opts.BatchSize}

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.Append {
		header, err := readHeader(path)
		if err != nil {
			return nil, err
		}
		if header != nil {
			if !equalFields(header, fields) {
				return nil, fmt.Errorf("cannot append to %s: header %v does not match fields %v", path, header, fields)
			}
			w.headerWritten = true
		}
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w.file = f
	w.csv = csv.NewWriter(f)
	return w, nil
}

// WriteBatch buffers rows and flushes once the buffer reaches the batch size.
func (w *CSVWriter) WriteBatch(rows []Row) error {
	if w.closed {
		return errors.New("write to closed csv writer")
	}
	for _, row := range rows {
		if len(row) != len(w.fields) {
			return fmt.Errorf("row has %d values, expected %d", len(row), len(w.fields))
		}
		w.buf = append(w.buf, row)
	}
	if len(w.buf) >= w.batchSize {
		return w.Flush()
	}
	return nil
}

// Flush writes the buffered rows (and the header, the first time) and syncs the file.
func (w *CSVWriter) Flush() error {
	if w.closed {
		return errors.New("flush of closed csv writer")
	}
	if len(w.buf) == 0 && w.headerWritten {
		return nil
	}
	if !w.headerWritten {
		if err := w.csv.Write(w.fields); err != nil {
			return fmt.Errorf("write header to %s: %w", w.path, err)
		}
	}
	record := make([]string, len(w.fields))
	for _, row := range w.buf {
		for i, v := range row {
			record[i] = utils.CellString(v)
		}
		if err := w.csv.Write(record); err != nil {
			return fmt.Errorf("write row to %s: %w", w.path, err)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", w.path, err)
	}
	w.headerWritten = true
	w.rows += len(w.buf)
	w.batches++
	w.buf = w.buf[:0]
	return nil
}

// Close flushes the remainder. A writer that never saw a row still leaves a
// header-only file behind.
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}
	flushErr := w.Flush()
	w.closed = true
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Rows is the number of rows durably written by this writer.
func (w *CSVWriter) Rows() int { return w.rows }

// Batches is the number of flushes that wrote data.
func (w *CSVWriter) Batches() int { return w.batches }

func (w *CSVWriter) Buffered() int { return len(w.buf) }

func (w *CSVWriter) Path() string { return w.path }

// readHeader returns nil when the file is missing or empty.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header, err := csv.NewReader(bufio.NewReader(f)).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return header, nil
}

// CountDataRows returns the number of rows below the header of a dataset file.
// A missing file has none.
func CountDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != b[i] {
			return false
		}
	}
	return true
}
