package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nl2sql/internal/config"
	"nl2sql/internal/corpus"
	"nl2sql/internal/decompose"
	"nl2sql/internal/registry"
)

func newDecomposeCmd(g *globalFlags, deps appDeps) *cobra.Command {
	var tablesPath, dbID string
	cmd := &cobra.Command{
		Use:   "decompose [flags] SQL",
		Short: "Print the decomposed query tree of one SQL string",
		Long: `Decomposes SQL against the schema of --db in --tables and prints the
query tree as JSON. Useful to see why a vendor record is dropped.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(tablesPath) == "" || strings.TrimSpace(dbID) == "" {
				return usageErr(fmt.Errorf("--tables and --db are required"))
			}
			log, err := g.logger(deps, config.Logging{Level: "warn"})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			defs, err := registry.LoadViews(tablesPath, registry.Options{Logger: log})
			if err != nil {
				return err
			}
			def, ok := defs[dbID]
			if !ok {
				return fmt.Errorf("db_id %q not found in %s (%d schemas)", dbID, tablesPath, len(defs))
			}
			m, err := def.Mapper()
			if err != nil {
				return err
			}
			q, err := decompose.Spider{}.Decompose(def.View, m, args[0])
			if err != nil {
				return err
			}
			return corpus.WriteJSON(cmd.OutOrStdout(), q)
		},
	}
	cmd.Flags().StringVar(&tablesPath, "tables", "", "registry file (tables.json)")
	cmd.Flags().StringVar(&dbID, "db", "", "db_id to decompose against")
	return cmd
}
