package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"smartetl/internal/config"
	"smartetl/internal/schema"
	"smartetl/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the mapping and import HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.p
			issues := config.ValidatePipeline(*p, false)
			renderIssues(os.Stderr, issues)
			if config.HasErrors(issues) {
				return errors.New("configuration is invalid")
			}

			flush := setupMetrics(p.Metrics, p.Job, a.verbose)
			defer flush()

			cat := schema.Default()
			rt := p.Runtime.Resolved()
			srv := server.NewServer(server.Config{
				Addr:          p.Server.Addr,
				UploadDir:     p.Server.UploadDir,
				MaxUploadMB:   p.Server.MaxUploadMB,
				Catalog:       cat,
				Inferrer:      buildInferencer(p, cat),
				Storage:       storageConfig(p, cat, ""),
				Job:           p.Job,
				DateColumn:    p.Mapping.DateColumn,
				BatchSize:     rt.BatchSize,
				ProgressEvery: rt.ProgressEvery,
				EventBuffer:   rt.ChannelBuffer,
			})
			return srv.Serve(cmd.Context())
		},
	}
}
