package warehouse

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/BartekS5/optistock/pkg/logger"
)

// BigQuery implements Warehouse with CSV load jobs.
type BigQuery struct {
	client   *bigquery.Client
	location string
}

// NewBigQuery connects to project. An empty credentialsPath uses application default credentials.
func NewBigQuery(ctx context.Context, project, credentialsPath, location string) (*BigQuery, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing BigQuery client: %w", err)
	}
	if location != "" {
		client.Location = location
	}
	logger.Infof("Connected to BigQuery project: %s", client.Project())
	return &BigQuery{client: client, location: location}, nil
}

func (b *BigQuery) table(id TableID) *bigquery.Table {
	return b.client.DatasetInProject(id.Project, id.Dataset).Table(id.Table)
}

func (b *BigQuery) Table(ctx context.Context, id TableID) (*TableInfo, error) {
	md, err := b.table(id).Metadata(ctx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	info := &TableInfo{
		ID:       id,
		NumRows:  md.NumRows,
		NumBytes: md.NumBytes,
		Created:  md.CreationTime,
		Modified: md.LastModifiedTime,
	}
	for _, f := range md.Schema {
		info.Schema = append(info.Schema, Field{Name: f.Name, Type: fromBigQueryType(f.Type)})
	}
	return info, nil
}

func (b *BigQuery) EnsureDataset(ctx context.Context, project, dataset string) error {
	ds := b.client.DatasetInProject(project, dataset)
	if _, err := ds.Metadata(ctx); err == nil {
		return nil
	} else if !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("get dataset %s.%s: %w", project, dataset, err)
	}
	err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: b.location})
	switch {
	case err == nil:
		logger.Infof("Created dataset %s.%s", project, dataset)
	case isStatus(err, http.StatusConflict):
		logger.Debugf("Dataset %s.%s already created by another writer", project, dataset)
	default:
		return fmt.Errorf("create dataset %s.%s: %w", project, dataset, err)
	}
	return nil
}

func (b *BigQuery) CreateTable(ctx context.Context, id TableID, schema Schema) error {
	bqSchema := make(bigquery.Schema, 0, len(schema))
	for _, f := range schema {
		bqSchema = append(bqSchema, &bigquery.FieldSchema{Name: f.Name, Type: bigquery.FieldType(f.Type)})
	}
	err := b.table(id).Create(ctx, &bigquery.TableMetadata{Schema: bqSchema})
	if err != nil && !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("create table %s: %w", id, err)
	}
	return nil
}

// Load runs one load job. WRITE_TRUNCATE replaces the table content atomically; readers
// never observe the emptied table.
func (b *BigQuery) Load(ctx context.Context, id TableID, schema Schema, rows [][]string, mode WriteMode) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return 0, fmt.Errorf("encode rows for %s: %w", id, err)
	}

	src := bigquery.NewReaderSource(&buf)
	src.SourceFormat = bigquery.CSV
	src.FieldDelimiter = ","
	src.Encoding = bigquery.UTF_8
	src.AllowQuotedNewlines = true

	loader := b.table(id).LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateNever
	loader.WriteDisposition = disposition(mode)

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("start load job for %s: %w", id, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		if mode == OnlyIfEmpty && isDuplicate(err) {
			return 0, ErrTableNotEmpty
		}
		for _, e := range status.Errors {
			logger.Errorf("  - %s", e)
		}
		return 0, fmt.Errorf("load job %s: %w", job.ID(), err)
	}
	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		return stats.OutputRows, nil
	}
	return int64(len(rows)), nil
}

func (b *BigQuery) ListTables(ctx context.Context, dataset string) ([]string, error) {
	project := b.client.Project()
	if i := strings.LastIndex(dataset, "."); i >= 0 {
		project, dataset = dataset[:i], dataset[i+1:]
	}
	it := b.client.DatasetInProject(project, dataset).Tables(ctx)
	var names []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list tables in %s.%s: %w", project, dataset, err)
		}
		names = append(names, t.TableID)
	}
	return names, nil
}

func (b *BigQuery) Close() error {
	return b.client.Close()
}

func disposition(mode WriteMode) bigquery.TableWriteDisposition {
	switch mode {
	case TruncateAndReplace:
		return bigquery.WriteTruncate
	case OnlyIfEmpty:
		return bigquery.WriteEmpty
	default:
		return bigquery.WriteAppend
	}
}

func fromBigQueryType(t bigquery.FieldType) FieldType {
	switch t {
	case bigquery.StringFieldType:
		return String
	case bigquery.IntegerFieldType:
		return Integer
	case bigquery.FloatFieldType, bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		return Float
	case bigquery.BooleanFieldType:
		return Boolean
	case bigquery.DateFieldType:
		return Date
	case bigquery.TimestampFieldType, bigquery.DateTimeFieldType:
		return Timestamp
	}
	return FieldType(t)
}

func isStatus(err error, code int) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == code
}

func isDuplicate(err error) bool {
	var bqErr *bigquery.Error
	return errors.As(err, &bqErr) && bqErr.Reason == "duplicate"
}
