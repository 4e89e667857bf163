package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/logger"
)

// Entry routes one dataset file to one table.
type Entry struct {
	File  string
	Table warehouse.TableID
	Mode  warehouse.WriteMode
}

func (e Entry) String() string {
	return fmt.Sprintf("%s -> %s (%s)", e.File, e.Table, e.Mode)
}

// Outcome is the result of one entry. Err is nil on success.
type Outcome struct {
	Index    int
	Entry    Entry
	Result   *LoadResult
	Err      error
	Duration time.Duration
}

func (o Outcome) OK() bool { return o.Err == nil }

// Kind is the failure kind, or KindUnknown for successes and unclassified errors.
func (o Outcome) Kind() failure.Kind { return failure.KindOf(o.Err) }

type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	DryRun   bool
	Outcomes []Outcome
}

// Succeeded reports whether every entry succeeded.
func (r *Report) Succeeded() bool {
	return len(r.Failed()) == 0
}

func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Rows is the total number of rows loaded by successful entries.
func (r *Report) Rows() int64 {
	var n int64
	for _, o := range r.Outcomes {
		if o.OK() && o.Result != nil && !o.Result.Skipped {
			n += o.Result.Rows
		}
	}
	return n
}

// Err is nil when the run fully succeeded and names the failing entries otherwise.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, len(failed))
	for i, o := range failed {
		names[i] = fmt.Sprintf("#%d %s (%s)", o.Index+1, o.Entry.Table, o.Kind())
	}
	return fmt.Errorf("batch %s partially failed: %d of %d entries failed: %s",
		r.RunID, len(failed), len(r.Outcomes), strings.Join(names, ", "))
}

// RunRecorder persists finished reports.
type RunRecorder interface {
	Record(ctx context.Context, report *Report) error
}

// Batch runs the Table Loader over a mapping, one entry at a time in declared order.
// A failing entry never stops the entries after it.
type Batch struct {
	Loader   *Loader
	Recorder RunRecorder
}

func NewBatch(loader *Loader) *Batch {
	return &Batch{Loader: loader}
}

// CheckUnique rejects mappings that target the same table twice.
func CheckUnique(entries []Entry) error {
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		key := strings.ToLower(e.Table.String())
		if j, ok := seen[key]; ok {
			return fmt.Errorf("mapping entries %d and %d both target table %s", j+1, i+1, e.Table)
		}
		seen[key] = i
	}
	return nil
}

func (b *Batch) Run(ctx context.Context, entries []Entry) *Report {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		DryRun:  b.Loader.DryRun,
	}
	log := logger.WithFields(logger.Fields{"run_id": report.RunID})
	log.Infof("Starting batch load of %d entries", len(entries))

	for i, e := range entries {
		entryLog := log.WithField("entry", i+1)
		out := Outcome{Index: i, Entry: e}
		started := time.Now()

		if err := ctx.Err(); err != nil {
			out.Err = err
		} else {
			out.Result, out.Err = b.Loader.Load(ctx, e.File, e.Table, e.Mode)
		}
		out.Duration = time.Since(started)

		switch {
		case out.Err != nil:
			entryLog.Errorf("%s failed: %v", e, out.Err)
		case out.Result.Skipped:
			entryLog.Infof("%s skipped: %s", e, out.Result.Reason)
		default:
			entryLog.Infof("%s loaded %d rows", e, out.Result.Rows)
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	report.Finished = time.Now().UTC()

	if report.Succeeded() {
		log.Infof("Batch fully succeeded: %d entries, %d rows", len(entries), report.Rows())
	} else {
		log.Warnf("Batch partially failed: %d of %d entries failed", len(report.Failed()), len(entries))
	}

	if b.Recorder != nil {
		if err := b.Recorder.Record(ctx, report); err != nil {
			log.Warnf("Could not record run: %v", err)
		}
	}
	return report
}
