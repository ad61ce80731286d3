package main

import (
	"github.com/spf13/cobra"

	"smartetl/internal/config"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	cfgPath string
	verbose bool
	p       *config.Pipeline
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "smartetl",
		Short: "Map upload columns onto the record schema and load aggregated records",
		Long: `smartetl reads a CSV or XLSX upload, proposes a mapping from its headers to
the record fields, sums the numeric fields per (pincode, date) and writes the
records to a file or a database in batches.

Configuration is layered: built-in defaults, --config file, SMARTETL_*
environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			p, err := config.Load(a.cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.p = p
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "pipeline config file (YAML or JSON)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logs")

	pf.String("job", "", "job name for metrics and logs")
	pf.String("data-type", "", "enrollment, biometric or demographic")
	pf.String("source", "", "upload path or http(s) URL")
	pf.String("parser", "", "auto, csv or xlsx")
	pf.String("mapping", "", "explicit mapping file (YAML or JSON); skips inference")
	pf.String("profile-dir", "", "directory of saved mapping profiles")
	pf.String("date-column", "", "header tried first when looking for a row's date")
	pf.Bool("oracle", false, "ask the LLM oracle for a mapping before the heuristic")
	pf.String("oracle-model", "", "oracle model name")
	pf.String("storage", "", "sink kind: file, postgres, sqlite, mssql or mysql")
	pf.String("dsn", "", "database DSN for SQL sinks")
	pf.String("table", "", "target table; defaults to the data type's table")
	pf.String("out-dir", "", "output directory of the file sink")
	pf.Bool("auto-create", true, "create the target table when missing")
	pf.Int("batch-size", 0, "records per sink batch")
	pf.Int("progress-every", 0, "rows between progress events")
	pf.String("metrics-backend", "", "metrics backend: none, pushgateway or datadog")
	pf.String("pushgateway-url", "", "Pushgateway base URL")
	pf.String("datadog-addr", "", "DogStatsD address")
	pf.String("addr", "", "listen address of serve")

	root.AddCommand(
		newInferCmd(a),
		newRunCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
	)
	return root
}
