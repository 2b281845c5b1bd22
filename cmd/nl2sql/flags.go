package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nl2sql/internal/config"
)

// pipelineFlags override config file values. Only flags set on the command
// line are applied.
type pipelineFlags struct {
	configPath   string
	name         string
	srcFolder    string
	dataPath     string
	databasePath string
	workers      int
	exportKind   string
	exportDSN    string
	metrics      string
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "pipeline config (.json, .yaml or .yml)")
	fs.StringVar(&f.name, "name", "", "split name: "+strings.Join(config.Splits, "|"))
	fs.StringVar(&f.srcFolder, "src-folder", "", "root of the vendor corpus drop")
	fs.StringVar(&f.dataPath, "data-path", "", "output directory")
	fs.StringVar(&f.databasePath, "database-path", "", "artifact directory, relative to --data-path unless absolute")
	fs.IntVar(&f.workers, "workers", 0, "record conversion workers")
	fs.StringVar(&f.exportKind, "export-kind", "", "export sink: none|sqlite|postgres|mssql")
	fs.StringVar(&f.exportDSN, "export-dsn", "", "export sink DSN")
	fs.StringVar(&f.metrics, "metrics-backend", "", "metrics backend: none|datadog")
}

// load reads the config file (when given), applies the changed flags and
// normalizes the result.
func (f *pipelineFlags) load(cmd *cobra.Command, deps appDeps) (config.Pipeline, error) {
	var p config.Pipeline
	if path := strings.TrimSpace(f.configPath); path != "" {
		var err error
		if p, err = deps.loadConfig(path); err != nil {
			return config.Pipeline{}, usageErr(err)
		}
	} else if cmd.Flags().Changed("config") {
		return config.Pipeline{}, usageErr(fmt.Errorf("--config is empty"))
	}

	set := cmd.Flags().Changed
	if set("name") {
		p.Name = f.name
	}
	if set("src-folder") {
		p.SrcFolder = f.srcFolder
	}
	if set("data-path") {
		p.DataPath = f.dataPath
	}
	if set("database-path") {
		p.DatabasePath = f.databasePath
	}
	if set("workers") {
		p.Runtime.ConvertWorkers = f.workers
	}
	if set("export-kind") {
		p.Export.Kind = f.exportKind
	}
	if set("export-dsn") {
		p.Export.DSN = f.exportDSN
	}
	if set("metrics-backend") {
		p.Metrics.Backend = f.metrics
	}
	return config.Normalize(p), nil
}

// checkConfig prints every issue to stderr and fails on error severity.
func checkConfig(cmd *cobra.Command, p config.Pipeline) error {
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(cmd.ErrOrStderr(), iss.String())
	}
	if config.HasErrors(issues) {
		return usageErr(fmt.Errorf("configuration is invalid"))
	}
	return nil
}
