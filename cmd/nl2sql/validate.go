package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(_ *globalFlags, deps appDeps) *cobra.Command {
	f := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := f.load(cmd, deps)
			if err != nil {
				return err
			}
			if err := checkConfig(cmd, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (split=%s src_folder=%s data_path=%s)\n", p.Name, p.SrcFolder, p.DataPath)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
