package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nl2sql/internal/pipeline"
)

func newConvertCmd(g *globalFlags, deps appDeps) *cobra.Command {
	f := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a corpus drop into tables.json, <split>.json and <split>_gold.sql",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := f.load(cmd, deps)
			if err != nil {
				return err
			}
			if err := checkConfig(cmd, p); err != nil {
				return err
			}

			log, err := g.logger(deps, p.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			closeMetrics, err := deps.initMetrics(cmd.Context(), p, log)
			if err != nil {
				log.Warn("metrics disabled", zap.Error(err))
				closeMetrics = func() {}
			}
			defer closeMetrics()

			start := time.Now()
			log.Info("pipeline starting",
				zap.String("split", p.Name),
				zap.String("src_folder", p.SrcFolder),
				zap.String("data_path", p.DataPath),
				zap.String("export", p.Export.Kind),
			)
			sum, err := deps.newRunner(log).Run(cmd.Context(), p)
			if err != nil {
				return err
			}
			printSummary(cmd, sum)
			log.Info("completed", zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func printSummary(cmd *cobra.Command, sum pipeline.Summary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "# of tables collected: %d\n", sum.Schemas)
	fmt.Fprintf(w, "# converted: %d\n", sum.Converted)
	kinds := make([]string, 0, len(sum.Failures))
	for k := range sum.Failures {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "#   %s: %d\n", k, sum.Failures[k])
	}
	fmt.Fprintf(w, "# Completed! (Failed items: %d)\n", sum.Failed)
}
