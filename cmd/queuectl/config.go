package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/config"
)

func configCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			values := a.cfg.Values()
			fmt.Fprintf(out, "# %s\n", a.configPath)
			for _, key := range config.Keys() {
				fmt.Fprintf(out, "%s = %s\n", key, values[key])
			}
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change a setting in the config file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Environment overrides must not end up in the file.
			cfg, err := config.LoadFile(a.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	configCmd.AddCommand(showCmd, setCmd)
	return configCmd
}
