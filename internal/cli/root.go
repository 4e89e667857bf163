package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/BartekS5/optistock/internal/config"
	"github.com/BartekS5/optistock/internal/warehouse"
	"github.com/BartekS5/optistock/pkg/logger"
)

// app carries what every command needs once the root command has loaded configuration.
type app struct {
	configPath string
	cfg        *config.Config
	// connect overrides the configured warehouse driver.
	connect func(ctx context.Context) (warehouse.Warehouse, error)
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "optistock",
		Short: "OptiStock - Alegra to warehouse extraction and load",
		Long: `OptiStock extracts inventory, sales, purchase and warehouse-movement records from the
Alegra accounting API into CSV datasets and loads them into warehouse tables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			return logger.Configure(logger.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
				Output: cmd.ErrOrStderr(),
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the configuration file (default configs/optistock.yaml)")

	rootCmd.AddCommand(
		newExtractCmd(a),
		newUploadCmd(a),
		newListTablesCmd(a),
		newTableInfoCmd(a),
		newBatchCmd(a),
		newResourcesCmd(a),
		newScheduleCmd(a),
	)
	return rootCmd
}
