package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"smartetl/internal/mapping"
	"smartetl/internal/schema"
)

type inferOptions struct {
	output      string
	saveProfile bool
	jsonOutput  bool
}

func newInferCmd(a *app) *cobra.Command {
	opts := &inferOptions{}
	cmd := &cobra.Command{
		Use:   "infer <file>",
		Short: "Propose a column mapping for an upload",
		Long: `Read the header row of an upload and propose which columns feed each
record field. The proposal is validated: the command fails when the pincode
is not mapped.`,
		Example: `  smartetl infer uploads/jan.csv
  smartetl infer uploads/jan.xlsx --output jan.mapping.yaml
  smartetl infer uploads/jan.csv --profile-dir profiles --save-profile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfer(cmd, a, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the proposed mapping to this YAML file")
	cmd.Flags().BoolVar(&opts.saveProfile, "save-profile", false, "save a valid proposal as a profile for this header set")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the proposal as JSON")
	return cmd
}

func runInfer(cmd *cobra.Command, a *app, opts *inferOptions, location string) error {
	ctx := cmd.Context()
	p := a.p
	cat := schema.Default()
	w := cmd.OutOrStdout()

	headers, err := readHeaders(ctx, openSourceFn(location, p.Source), p)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	prop := buildInferencer(p, cat).Infer(ctx, headers, p.DataType)
	res := mapping.Validate(prop.Config, cat)

	if opts.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"headers":     headers,
			"fingerprint": mapping.Fingerprint(headers),
			"mapping":     prop.Config,
			"method":      prop.Method,
			"fallback":    prop.Fallback,
			"validation":  res,
		}); err != nil {
			return err
		}
	} else {
		renderMapping(w, cat, prop.Config, prop.Method)
		if prop.Fallback != "" {
			fmt.Fprintf(w, "oracle fallback: %s\n", prop.Fallback)
		}
	}

	if opts.output != "" {
		b, err := yaml.Marshal(prop.Config)
		if err != nil {
			return fmt.Errorf("encode mapping: %w", err)
		}
		if err := os.WriteFile(opts.output, b, 0o644); err != nil {
			return fmt.Errorf("write mapping: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "mapping written to %s\n", opts.output)
	}

	if !res.Valid {
		return &mapping.ValidationError{MissingRequired: res.MissingRequired}
	}

	if opts.saveProfile {
		if p.Mapping.ProfileDir == "" {
			return errors.New("--save-profile needs --profile-dir")
		}
		path, err := mapping.ProfileStore{Dir: p.Mapping.ProfileDir}.Save(headers, p.DataType, prop.Config)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "profile saved to %s\n", path)
	}
	return nil
}
