package main

import (
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/config"
)

// app carries the state shared by all commands.
type app struct {
	configPath string
	dataDir    string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "A durable job queue for shell commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.dataDir != "" {
				cfg.DataDir = a.dataDir
			}
			a.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (overrides config)")

	rootCmd.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		statusCmd(a),
		workerCmd(a),
		dlqCmd(a),
		configCmd(a),
	)
	return rootCmd
}
