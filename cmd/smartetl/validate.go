package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"smartetl/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	var noSource bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the layered configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues := config.ValidatePipeline(*a.p, !noSource)
			renderIssues(cmd.OutOrStdout(), issues)
			if config.HasErrors(issues) {
				return errors.New("configuration is invalid")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (job=%s storage=%s)\n", a.p.Job, a.p.Storage.Kind)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSource, "no-source", false, "do not require source.location (for serve)")
	return cmd
}
