package etl

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/pkg/logger"
	"github.com/BartekS5/optistock/pkg/models"
)

type State string

const (
	StateStart       State = "START"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateFlushing    State = "FLUSHING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// RetryPolicy bounds how often a transport failure on one cursor is retried.
// Attempts counts the first try.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: time.Second, MaxInterval: 30 * time.Second}
}

func (r RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		exp.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		exp.MaxInterval = r.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

type JobConfig struct {
	OutputPath string
	BatchSize  int
	Retry      RetryPolicy
	// Resume continues from a saved checkpoint when one exists.
	Resume bool
	// DryRun fetches and normalizes but writes neither rows nor checkpoints.
	DryRun bool
}

// Job extracts one resource into one dataset file.
type Job struct {
	Resource    models.Resource
	Fetcher     PageFetcher
	Config      JobConfig
	Checkpoints CheckpointStore

	state State
}

type JobResult struct {
	Resource   string
	OutputPath string
	Pages      int
	Records    int
	Rows       int
	Nulled     int
	Cursor     int
	Resumed    bool
	Duration   time.Duration
}

// JobError reports where a failed extraction stopped. Cursor is the offset of the
// page that could not be fetched; everything before it is on disk.
type JobError struct {
	Resource string
	Cursor   int
	State    State
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("extract %s failed in %s at cursor %d: %v", e.Resource, e.State, e.Cursor, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func NewJob(resource models.Resource, fetcher PageFetcher, cfg JobConfig) *Job {
	if cfg.OutputPath == "" {
		cfg.OutputPath = resource.OutputFile
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Job{Resource: resource, Fetcher: fetcher, Config: cfg, state: StateStart}
}

// State is the last state the job entered.
func (j *Job) State() State { return j.state }

func (j *Job) enter(s State, cursor int) {
	j.state = s
	logger.WithFields(logger.Fields{"resource": j.Resource.Name, "cursor": cursor}).Debugf("state %s", s)
}

func (j *Job) fail(cursor int, state State, err error) error {
	j.enter(StateFailed, cursor)
	return &JobError{Resource: j.Resource.Name, Cursor: cursor, State: state, Err: err}
}

// Run walks the resource page by page. Each page is normalized and flushed before the
// next one is requested, so the dataset file always ends on a page boundary.
func (j *Job) Run(ctx context.Context) (*JobResult, error) {
	if err := ValidateResource(j.Resource); err != nil {
		return nil, err
	}
	j.enter(StateStart, 0)
	started := time.Now()
	log := logger.WithFields(logger.Fields{"resource": j.Resource.Name})

	res := &JobResult{Resource: j.Resource.Name, OutputPath: j.Config.OutputPath}
	cursor := 0

	if j.Config.Resume && j.Checkpoints != nil && !j.Config.DryRun {
		cp, err := j.Checkpoints.Load(ctx, j.Resource.Name)
		if err != nil {
			return nil, j.fail(cursor, StateStart, err)
		}
		if cp != nil {
			cp, err = j.checkResume(cp)
			if err != nil {
				return nil, j.fail(cursor, StateStart, err)
			}
		}
		if cp != nil {
			cursor = cp.Cursor
			res.Pages = cp.Pages
			res.Rows = cp.Rows
			res.Resumed = true
			log.Infof("Resuming from checkpoint: cursor %d, %d rows already written", cp.Cursor, cp.Rows)
		}
	}

	var writer *CSVWriter
	if !j.Config.DryRun {
		var err error
		writer, err = OpenCSVWriter(j.Config.OutputPath, j.Resource.FieldNames(), WriterOptions{
			BatchSize: j.Config.BatchSize,
			Append:    res.Resumed,
		})
		if err != nil {
			return nil, j.fail(cursor, StateStart, err)
		}
		defer writer.Close()
	}
	priorRows := res.Rows

	paginator := NewPaginator(j.Fetcher, j.Resource)
	normalizer := NewNormalizer(j.Resource)

	for {
		j.enter(StateFetching, cursor)
		page, err := j.fetch(ctx, paginator, cursor)
		if err != nil {
			log.WithField("cursor", cursor).Errorf("Fetch failed: %v", err)
			return res, j.fail(cursor, StateFetching, err)
		}
		if page.Total >= 0 && res.Pages == 0 {
			log.Debugf("Upstream reports %d records", page.Total)
		}

		j.enter(StateNormalizing, cursor)
		var rows []Row
		for _, rec := range page.Records {
			rows = append(rows, normalizer.Normalize(rec)...)
		}
		res.Records += len(page.Records)
		res.Pages++

		j.enter(StateFlushing, cursor)
		nulled := normalizer.TakeNulled()
		res.Nulled += nulled
		if writer != nil {
			if err := writer.WriteBatch(rows); err != nil {
				return res, j.fail(cursor, StateFlushing, err)
			}
			if err := writer.Flush(); err != nil {
				return res, j.fail(cursor, StateFlushing, err)
			}
			res.Rows = priorRows + writer.Rows()
		} else {
			res.Rows += len(rows)
		}
		log.WithField("cursor", cursor).Debugf("Flushed %d rows (%d null fields)", len(rows), nulled)

		cursor = page.Next
		res.Cursor = cursor
		if writer != nil && j.Checkpoints != nil {
			cp := Checkpoint{Resource: j.Resource.Name, Cursor: cursor, Pages: res.Pages, Rows: res.Rows}
			if err := j.Checkpoints.Save(ctx, cp); err != nil {
				log.WithField("cursor", cursor).Errorf("Could not save checkpoint: %v", err)
				return res, j.fail(cursor, StateFlushing, fmt.Errorf("save checkpoint: %w", err))
			}
		}

		if page.Done {
			break
		}
		log.WithField("cursor", cursor).Infof("Page done. Total rows: %d", res.Rows)
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			return res, j.fail(cursor, StateFlushing, err)
		}
	}
	if j.Checkpoints != nil && !j.Config.DryRun {
		if err := j.Checkpoints.Clear(ctx, j.Resource.Name); err != nil {
			log.Warnf("Could not clear checkpoint: %v", err)
		}
	}
	j.enter(StateDone, cursor)
	res.Duration = time.Since(started)

	if j.Config.DryRun {
		log.Infof("[DRY RUN] Would write %d rows to %s", res.Rows, filepath.Base(res.OutputPath))
	} else {
		log.Infof("Extraction finished: %d pages, %d rows in %s (%s)", res.Pages, res.Rows, res.OutputPath, res.Duration.Round(time.Millisecond))
	}
	return res, nil
}

// checkResume drops a checkpoint that does not match the dataset file, so a resumed
// run never appends pages the file already holds. The job then starts over.
func (j *Job) checkResume(cp *Checkpoint) (*Checkpoint, error) {
	rows, err := CountDataRows(j.Config.OutputPath)
	if err != nil {
		return nil, err
	}
	if rows == cp.Rows {
		return cp, nil
	}
	logger.WithFields(logger.Fields{"resource": j.Resource.Name, "cursor": cp.Cursor}).
		Warnf("Checkpoint records %d rows but %s holds %d, starting over", cp.Rows, j.Config.OutputPath, rows)
	return nil, nil
}

// fetch retries retryable transport failures on the same cursor.
func (j *Job) fetch(ctx context.Context, p *Paginator, cursor int) (*Page, error) {
	var page *Page
	attempt := 0
	op := func() error {
		attempt++
		var err error
		page, err = p.Next(ctx, cursor)
		if err != nil && !failure.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WithFields(logger.Fields{"resource": j.Resource.Name, "cursor": cursor}).
			Warnf("Attempt %d/%d failed, retrying in %s: %v", attempt, j.Config.Retry.Attempts, wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(op, j.Config.Retry.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return page, nil
}
