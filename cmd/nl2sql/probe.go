package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nl2sql/internal/config"
	"nl2sql/internal/probe"
)

type probeFlags struct {
	srcFolder  string
	name       string
	maxFiles   int
	report     bool
	format     string
	exportKind string
	exportDSN  string
}

func newProbeCmd(g *globalFlags, deps appDeps) *cobra.Command {
	f := &probeFlags{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample a corpus drop and print a starter config",
		Long: `Samples the source and label trees of --src-folder and prints a config
for the drop. With --report, prints a summary of the sample instead.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(f.srcFolder) == "" {
				return usageErr(fmt.Errorf("--src-folder is required"))
			}
			format := strings.ToLower(strings.TrimSpace(f.format))
			if format != "yaml" && format != "json" {
				return usageErr(fmt.Errorf("--format must be yaml or json, got %q", f.format))
			}

			log, err := g.logger(deps, config.Logging{Level: "warn"})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			res, err := probe.Probe(cmd.Context(), probe.Options{
				SrcFolder: f.srcFolder,
				MaxFiles:  f.maxFiles,
				Logger:    log,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.report {
				fmt.Fprintln(out, res.Report())
				return nil
			}

			p := res.Pipeline
			if f.name != "" {
				p.Name = f.name
			}
			if f.exportKind != "" {
				p.Export.Kind = f.exportKind
			}
			if f.exportDSN != "" {
				p.Export.DSN = f.exportDSN
			}
			p = config.Normalize(p)

			if format == "json" {
				b, err := json.MarshalIndent(p, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(p); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.srcFolder, "src-folder", "", "corpus drop to sample")
	fl.StringVar(&f.name, "name", "", "split name written into the config")
	fl.IntVar(&f.maxFiles, "max-files", probe.DefaultMaxFiles, "JSON files sampled per tree")
	fl.BoolVar(&f.report, "report", false, "print the sample report (suppresses config output)")
	fl.StringVar(&f.format, "format", "yaml", "config format: yaml|json")
	fl.StringVar(&f.exportKind, "export-kind", "", "export sink kind written into the config")
	fl.StringVar(&f.exportDSN, "export-dsn", "", "export DSN written into the config")
	return cmd
}
