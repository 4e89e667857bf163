// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BartekS5/optistock/internal/etl"
)

type ExtractOptions struct {
	All         bool
	Resume      bool
	DryRun      bool
	OutputDir   string
	BatchSize   int
	WarehouseID string
}

func newExtractCmd(a *app) *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract [resource...]",
		Short: "Extract resources from the Alegra API into CSV datasets",
		Long: fmt.Sprintf(`Extract one or more resources page by page into their dataset files.
Without arguments (or with --all) every resource is extracted.

Resources: %s`, strings.Join(resourceNames(), ", ")),
		RunE: func(c *cobra.Command, args []string) error {
			return a.runExtract(c.Context(), c.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "Extract every resource")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "Continue from the last checkpoint instead of starting over")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Fetch and normalize without writing files")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "Directory for dataset files (default extract.output_dir)")
	cmd.Flags().IntVarP(&opts.BatchSize, "batch-size", "b", 0, "Rows buffered before a flush (default extract.batch_size)")
	cmd.Flags().StringVar(&opts.WarehouseID, "warehouse-id", "", "Restrict warehouse-items to one warehouse")
	return cmd
}

type UploadOptions struct {
	File   string
	Table  string
	Mode   string
	DryRun bool
}

func newUploadCmd(a *app) *cobra.Command {
	opts := &UploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Load one dataset file into a warehouse table",
		RunE: func(c *cobra.Command, args []string) error {
			return a.runUpload(c.Context(), c.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Path to the CSV dataset")
	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "Target table (project.dataset.table, or a name in the configured dataset)")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "APPEND", "Write mode: APPEND, TRUNCATE_AND_REPLACE or ONLY_IF_EMPTY")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Resolve the schema without loading")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("table")
	return cmd
}

func newListTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tables [dataset]",
		Short: "List the tables of a dataset (default warehouse.dataset)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dataset := a.cfg.Warehouse.Dataset
			if len(args) == 1 {
				dataset = args[0]
			}
			return a.runListTables(c.Context(), c.OutOrStdout(), dataset)
		},
	}
}

func newTableInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "table-info <table>",
		Short: "Show schema and size of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.runTableInfo(c.Context(), c.OutOrStdout(), args[0])
		},
	}
}

func newBatchCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Load every dataset of the configured mapping into its table",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.runBatch(c.Context(), c.OutOrStdout(), dryRun, nil)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve schemas without loading")
	return cmd
}

func newResourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Print the resource catalogue",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			printResources(c.OutOrStdout(), etl.Resources())
			return nil
		},
	}
}

func resourceNames() []string {
	var names []string
	for _, r := range etl.Resources() {
		names = append(names, r.Name)
	}
	return names
}
