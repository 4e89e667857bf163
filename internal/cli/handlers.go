package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/bigquery"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/BartekS5/optistock/internal/alegra"
	"github.com/BartekS5/optistock/internal/etl"
	"github.com/BartekS5/optistock/internal/failure"
	"github.com/BartekS5/optistock/internal/load"
	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/database"
	"github.com/BartekS5/optistock/pkg/logger"
	"github.com/BartekS5/optistock/pkg/models"
)

func (a *app) openWarehouse(ctx context.Context) (warehouse.Warehouse, error) {
	if a.connect != nil {
		return a.connect(ctx)
	}
	wc := a.cfg.Warehouse
	switch wc.Driver {
	case "sqlserver":
		db, err := database.ConnectSQL(ctx, a.cfg.SQLServer.ConnectionString)
		if err != nil {
			return nil, failure.Load("connect warehouse", err)
		}
		return warehouse.NewSQLServer(db), nil
	default:
		project := wc.Project
		if project == "" {
			project = bigquery.DetectProjectID
		}
		creds := wc.CredentialsPath
		if wc.AmbientCredentials() {
			creds = ""
		}
		wh, err := warehouse.NewBigQuery(ctx, project, creds, wc.Location)
		if err != nil {
			return nil, failure.Load("connect warehouse", err)
		}
		return wh, nil
	}
}

func (a *app) openMongo(ctx context.Context) (*mongo.Client, error) {
	return database.ConnectMongo(ctx, a.cfg.Mongo.URI)
}

// checkpointStore returns the configured store and a release func. A nil store disables checkpoints.
func (a *app) checkpointStore(ctx context.Context) (etl.CheckpointStore, func(), error) {
	switch a.cfg.Extract.Checkpoints {
	case "mongo":
		client, err := a.openMongo(ctx)
		if err != nil {
			return nil, func() {}, err
		}
		store := etl.NewMongoCheckpointStore(client, a.cfg.Mongo.Database)
		return store, func() { database.DisconnectMongo(client) }, nil
	case "file":
		return etl.NewFileCheckpointStore(a.cfg.Extract.CheckpointDir), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func selectResources(names []string, all bool) ([]models.Resource, error) {
	if all || len(names) == 0 {
		return etl.Resources(), nil
	}
	out := make([]models.Resource, 0, len(names))
	for _, name := range names {
		r, err := etl.LookupResource(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ExtractFailure lists the resources whose extraction failed. Their dataset files hold
// at most a prefix of the upstream data.
type ExtractFailure struct {
	Resources []string
	Files     []string
	Total     int
}

func (e *ExtractFailure) Error() string {
	return fmt.Sprintf("extraction failed for %d of %d resources: %s", len(e.Resources), e.Total, strings.Join(e.Resources, ", "))
}

func (a *app) runExtract(ctx context.Context, out io.Writer, names []string, opts *ExtractOptions) error {
	resources, err := selectResources(names, opts.All)
	if err != nil {
		return err
	}

	// A missing credential stops the run before any request is made.
	client, err := alegra.NewClient(alegra.Config{
		BaseURL:       a.cfg.API.BaseURL,
		Authorization: a.cfg.API.Key,
		Timeout:       a.cfg.API.Timeout,
	})
	if err != nil {
		return err
	}

	store, release, err := a.checkpointStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = a.cfg.Extract.OutputDir
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = a.cfg.Extract.BatchSize
	}
	retry := etl.RetryPolicy{
		Attempts:        a.cfg.Extract.Retry.Attempts,
		InitialInterval: a.cfg.Extract.Retry.InitialInterval,
		MaxInterval:     a.cfg.Extract.Retry.MaxInterval,
	}
	warehouseID := opts.WarehouseID
	if warehouseID == "" {
		warehouseID = a.cfg.Extract.WarehouseID
	}

	failed := &ExtractFailure{Total: len(resources)}
	for _, r := range resources {
		if a.cfg.Extract.PageSize > 0 {
			r.PageSize = a.cfg.Extract.PageSize
		}
		if r.Name == "warehouse-items" && warehouseID != "" {
			r.Params = map[string]string{"warehouse_id": warehouseID}
		}

		outputPath := filepath.Join(outputDir, r.OutputFile)
		job := etl.NewJob(r, client, etl.JobConfig{
			OutputPath: outputPath,
			BatchSize:  batchSize,
			Retry:      retry,
			Resume:     opts.Resume,
			DryRun:     opts.DryRun,
		})
		job.Checkpoints = store

		res, err := job.Run(ctx)
		if err != nil {
			if failure.Is(err, failure.KindAuth) || ctx.Err() != nil {
				return err
			}
			logger.WithError(err).WithField("resource", r.Name).Error("Extraction failed")
			failed.Resources = append(failed.Resources, r.Name)
			failed.Files = append(failed.Files, outputPath)
			continue
		}
		fmt.Fprintf(out, "%-20s %8d rows  %4d pages  %s\n", r.Name, res.Rows, res.Pages, res.OutputPath)
	}

	if len(failed.Resources) > 0 {
		return failed
	}
	return nil
}

func (a *app) newLoader(wh warehouse.Warehouse, dryRun bool) *load.Loader {
	loader := load.NewLoader(wh, load.NewResolver(a.cfg.Warehouse.SampleSize))
	loader.DryRun = dryRun
	return loader
}

func (a *app) runUpload(ctx context.Context, out io.Writer, opts *UploadOptions) error {
	table, err := a.cfg.QualifyTable(opts.Table)
	if err != nil {
		return err
	}
	mode, err := warehouse.ParseWriteMode(opts.Mode)
	if err != nil {
		return err
	}

	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer wh.Close()

	res, err := a.newLoader(wh, opts.DryRun).Load(ctx, opts.File, table, mode)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintf(out, "%s: skipped (%s)\n", table, res.Reason)
		return nil
	}
	fmt.Fprintf(out, "%s: loaded %d rows (%s)\n", table, res.Rows, mode)
	return nil
}

func (a *app) runListTables(ctx context.Context, out io.Writer, dataset string) error {
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer wh.Close()

	tables, err := wh.ListTables(ctx, dataset)
	if err != nil {
		return fmt.Errorf("list tables in %s: %w", dataset, err)
	}
	if len(tables) == 0 {
		fmt.Fprintf(out, "No tables in dataset %s\n", dataset)
		return nil
	}
	for _, t := range tables {
		fmt.Fprintln(out, t)
	}
	return nil
}

func (a *app) runTableInfo(ctx context.Context, out io.Writer, name string) error {
	id, err := a.cfg.QualifyTable(name)
	if err != nil {
		return err
	}
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer wh.Close()

	info, err := wh.Table(ctx, id)
	if err != nil {
		return fmt.Errorf("table %s: %w", id, err)
	}
	printTableInfo(out, info)
	return nil
}

// runBatch loads the configured mapping. Entries reading one of the skip files are left out.
func (a *app) runBatch(ctx context.Context, out io.Writer, dryRun bool, skip []string) error {
	entries, err := a.cfg.Entries()
	if err != nil {
		return err
	}
	entries = withoutFiles(entries, skip)
	if len(entries) == 0 {
		fmt.Fprintln(out, "Nothing to load")
		return nil
	}
	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer wh.Close()

	batch := load.NewBatch(a.newLoader(wh, dryRun))
	if a.cfg.Mongo.RecordRuns {
		client, err := a.openMongo(ctx)
		if err != nil {
			logger.Warnf("Run history disabled: %v", err)
		} else {
			defer database.DisconnectMongo(client)
			batch.Recorder = load.NewMongoRunRecorder(client, a.cfg.Mongo.Database)
		}
	}

	report := batch.Run(ctx, entries)
	printReport(out, report)
	return report.Err()
}

func withoutFiles(entries []load.Entry, files []string) []load.Entry {
	if len(files) == 0 {
		return entries
	}
	skip := make(map[string]bool, len(files))
	for _, f := range files {
		skip[filepath.Clean(f)] = true
	}
	kept := entries[:0:0]
	for _, e := range entries {
		if skip[filepath.Clean(e.File)] {
			logger.WithFields(logger.Fields{"entry": e.String()}).Warn("Skipping load of an incomplete dataset")
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func printTableInfo(out io.Writer, info *warehouse.TableInfo) {
	fmt.Fprintf(out, "Table:    %s\n", info.ID)
	fmt.Fprintf(out, "Rows:     %d\n", info.NumRows)
	fmt.Fprintf(out, "Size:     %.2f MB\n", float64(info.NumBytes)/(1024*1024))
	if !info.Created.IsZero() {
		fmt.Fprintf(out, "Created:  %s\n", info.Created.Format(time.RFC3339))
	}
	if !info.Modified.IsZero() {
		fmt.Fprintf(out, "Modified: %s\n", info.Modified.Format(time.RFC3339))
	}
	fmt.Fprintln(out, "Schema:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range info.Schema {
		fmt.Fprintf(tw, "  %s\t%s\n", f.Name, f.Type)
	}
	tw.Flush()
}

func printReport(out io.Writer, r *load.Report) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tFILE\tTABLE\tMODE\tRESULT\n")
	for _, o := range r.Outcomes {
		var result string
		switch {
		case o.Err != nil:
			result = fmt.Sprintf("FAILED %s: %v", o.Kind(), o.Err)
		case o.Result.Skipped:
			result = "skipped (" + o.Result.Reason + ")"
		default:
			result = fmt.Sprintf("%d rows", o.Result.Rows)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.Index+1, filepath.Base(o.Entry.File), o.Entry.Table, o.Entry.Mode, result)
	}
	tw.Flush()

	if r.Succeeded() {
		fmt.Fprintf(out, "Run %s fully succeeded (%d rows)\n", r.RunID, r.Rows())
	} else {
		fmt.Fprintf(out, "Run %s partially failed: %d of %d entries failed\n", r.RunID, len(r.Failed()), len(r.Outcomes))
	}
}

func printResources(out io.Writer, resources []models.Resource) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tENDPOINT\tOUTPUT\tFIELDS\n")
	for _, r := range resources {
		endpoint := r.Endpoint
		if len(r.Params) > 0 {
			var params []string
			for k, v := range r.Params {
				params = append(params, k+"="+v)
			}
			sort.Strings(params)
			endpoint += "?" + strings.Join(params, "&")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, endpoint, r.OutputFile, strings.Join(r.FieldNames(), ","))
	}
	tw.Flush()
}
