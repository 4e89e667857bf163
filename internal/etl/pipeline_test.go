package etl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/pkg/models"
)

var things = models.Resource{
	Name:       "things",
	Endpoint:   "/things",
	PageSize:   2,
	OutputFile: "things.csv",
	Fields: []models.FieldSpec{
		{Name: "id", Path: "id"},
		{Name: "name", Path: "name"},
	},
}

// sliceFetcher serves records from memory and can fail scripted calls.
type sliceFetcher struct {
	records []Record
	fail    map[int]error
	calls   int
	starts  []int
}

func newThings(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{"id": fmt.Sprint(i + 1), "name": fmt.Sprintf("thing-%d", i+1)}
	}
	return out
}

func (f *sliceFetcher) FetchPage(_ context.Context, req PageRequest) (*RawPage, error) {
	f.calls++
	f.starts = append(f.starts, req.Start)
	if err, ok := f.fail[f.calls]; ok {
		return nil, err
	}
	if req.Start >= len(f.records) {
		return &RawPage{Total: len(f.records)}, nil
	}
	end := req.Start + req.Limit
	if end > len(f.records) {
		end = len(f.records)
	}
	return &RawPage{Records: f.records[req.Start:end], Total: len(f.records)}, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestJobWritesEveryPage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "things.csv")
	fetcher := &sliceFetcher{records: newThings(5)}
	job := NewJob(things, fetcher, JobConfig{OutputPath: out, Retry: fastRetry()})

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, job.State())
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 5, res.Cursor)
	assert.Equal(t, []int{0, 2, 4}, fetcher.starts)

	records := readCSV(t, out)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"id", "name"}, records[0])
	assert.Equal(t, []string{"5", "thing-5"}, records[5])
}

func TestJobStopsOnEmptyPage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "things.csv")
	fetcher := &sliceFetcher{records: newThings(4)}
	res, err := NewJob(things, fetcher, JobConfig{OutputPath: out, Retry: fastRetry()}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, fetcher.starts)
	assert.Equal(t, 4, res.Rows)
	assert.Len(t, readCSV(t, out), 5)
}

func TestJobRowCountIncludesLineItems(t *testing.T) {
	invoices, err := LookupResource("invoices")
	require.NoError(t, err)
	invoices.PageSize = 2

	fetcher := &sliceFetcher{records: []Record{
		{"id": "1", "items": []interface{}{map[string]interface{}{"id": "a"}, map[string]interface{}{"id": "b"}}},
		{"id": "2", "items": []interface{}{map[string]interface{}{"id": "c"}}},
		{"id": "3", "items": []interface{}{map[string]interface{}{"id": "d"}, map[string]interface{}{"id": "e"}, map[string]interface{}{"id": "f"}}},
	}}
	out := filepath.Join(t.TempDir(), "factura_items.csv")
	res, err := NewJob(invoices, fetcher, JobConfig{OutputPath: out, Retry: fastRetry()}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 6, res.Rows)

	records := readCSV(t, out)
	require.Len(t, records, 7)
	assert.Equal(t, invoices.FieldNames(), records[0])
}

func TestJobRetriesTransportErrorsOnSameCursor(t *testing.T) {
	out := filepath.Join(t.TempDir(), "things.csv")
	fetcher := &sliceFetcher{
		records: newThings(3),
		fail:    map[int]error{1: failure.Transport("GET /things", errors.New("connection reset"))},
	}
	res, err := NewJob(things, fetcher, JobConfig{OutputPath: out, Retry: fastRetry()}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 2}, fetcher.starts)
	assert.Equal(t, 3, res.Rows)
}

func TestJobFailsAfterRetryBudget(t *testing.T) {
	transient := failure.Transport("GET /things", errors.New("503"))
	fetcher := &sliceFetcher{
		records: newThings(3),
		fail:    map[int]error{1: transient, 2: transient, 3: transient},
	}
	job := NewJob(things, fetcher, JobConfig{OutputPath: filepath.Join(t.TempDir(), "things.csv"), Retry: fastRetry()})
	_, err := job.Run(context.Background())
	require.Error(t, err)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, 0, jobErr.Cursor)
	assert.Equal(t, StateFetching, jobErr.State)
	assert.Equal(t, StateFailed, job.State())
	assert.True(t, failure.Is(err, failure.KindTransport))
	assert.Equal(t, 3, fetcher.calls)
	assert.Equal(t, []int{0, 0, 0}, fetcher.starts)
}

func TestJobDoesNotRetryAuthErrors(t *testing.T) {
	fetcher := &sliceFetcher{
		records: newThings(6),
		fail:    map[int]error{3: failure.Auth("GET /things", errors.New("HTTP 401"))},
	}
	_, err := NewJob(things, fetcher, JobConfig{OutputPath: filepath.Join(t.TempDir(), "things.csv"), Retry: fastRetry()}).
		Run(context.Background())

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, 4, jobErr.Cursor)
	assert.Equal(t, failure.KindAuth, failure.KindOf(err))
	assert.Equal(t, 3, fetcher.calls)
}

func TestJobResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "things.csv")
	store := NewFileCheckpointStore(filepath.Join(dir, "checkpoints"))
	ctx := context.Background()

	auth := failure.Auth("GET /things", errors.New("HTTP 401"))
	first := &sliceFetcher{records: newThings(5), fail: map[int]error{2: auth}}
	job := NewJob(things, first, JobConfig{OutputPath: out, Retry: fastRetry(), Resume: true})
	job.Checkpoints = store
	_, err := job.Run(ctx)
	require.Error(t, err)

	cp, err := store.Load(ctx, "things")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Cursor)
	assert.Equal(t, 2, cp.Rows)

	second := &sliceFetcher{records: newThings(5)}
	job = NewJob(things, second, JobConfig{OutputPath: out, Retry: fastRetry(), Resume: true})
	job.Checkpoints = store
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 2, second.starts[0])
	assert.Equal(t, 5, res.Rows)

	records := readCSV(t, out)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"id", "name"}, records[0])
	assert.Equal(t, []string{"3", "thing-3"}, records[3])

	cp, err = store.Load(ctx, "things")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

// flakyStore fails every Save after the first `ok` ones.
type flakyStore struct {
	*FileCheckpointStore
	ok    int
	saves int
}

func (s *flakyStore) Save(ctx context.Context, cp Checkpoint) error {
	s.saves++
	if s.saves > s.ok {
		return errors.New("checkpoint store unavailable")
	}
	return s.FileCheckpointStore.Save(ctx, cp)
}

func TestJobFailsWhenCheckpointCannotBeSaved(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "things.csv")
	files := NewFileCheckpointStore(filepath.Join(dir, "checkpoints"))
	ctx := context.Background()

	fetcher := &sliceFetcher{records: newThings(5)}
	job := NewJob(things, fetcher, JobConfig{OutputPath: out, Retry: fastRetry(), Resume: true})
	job.Checkpoints = &flakyStore{FileCheckpointStore: files, ok: 1}
	_, err := job.Run(ctx)
	require.Error(t, err)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, StateFlushing, jobErr.State)
	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, []int{0, 2}, fetcher.starts)

	// The file is a page ahead of the last saved checkpoint.
	cp, err := files.Load(ctx, "things")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Rows)
	rows, err := CountDataRows(out)
	require.NoError(t, err)
	assert.Equal(t, 4, rows)

	// Resuming from the stale checkpoint starts over instead of duplicating page two.
	second := &sliceFetcher{records: newThings(5)}
	job = NewJob(things, second, JobConfig{OutputPath: out, Retry: fastRetry(), Resume: true})
	job.Checkpoints = files
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, 0, second.starts[0])
	assert.Equal(t, 5, res.Rows)

	records := readCSV(t, out)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"3", "thing-3"}, records[3])
	assert.Equal(t, []string{"5", "thing-5"}, records[5])
}

func TestCountDataRows(t *testing.T) {
	dir := t.TempDir()
	n, err := CountDataRows(filepath.Join(dir, "missing.csv"))
	require.NoError(t, err)
	assert.Zero(t, n)

	w, err := OpenCSVWriter(filepath.Join(dir, "x.csv"), []string{"id", "note"}, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch([]Row{{"1", "two\nlines"}, {"2", nil}}))
	require.NoError(t, w.Close())

	n, err = CountDataRows(filepath.Join(dir, "x.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobDryRunWritesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "things.csv")
	res, err := NewJob(things, &sliceFetcher{records: newThings(3)}, JobConfig{OutputPath: out, DryRun: true, Retry: fastRetry()}).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.NoFileExists(t, out)
}

func TestJobRejectsInvalidResource(t *testing.T) {
	bad := things
	bad.PageSize = 0
	_, err := NewJob(bad, &sliceFetcher{}, JobConfig{OutputPath: filepath.Join(t.TempDir(), "x.csv")}).Run(context.Background())
	assert.Error(t, err)
}
