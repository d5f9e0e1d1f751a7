package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"serf-ci/src/config"
	"serf-ci/src/logger"
	"serf-ci/src/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose recorded builds to MCP clients over stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout with the tools
list_builds and get_build. Builds are read from Postgres, so POSTGRES_DSN
must point at the database serf build records into. Without it the server
starts with an empty in-memory store and a warning on stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			a.log = logger.NewSilentLogger()
			warnMemoryStore(cmd.ErrOrStderr(), a.cfg)

			builds, err := newStore(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer builds.Close()

			return mcp.NewServer(builds, version).Run()
		},
	}
}

// warnMemoryStore tells the operator that no recorded builds will be visible.
func warnMemoryStore(w io.Writer, cfg *config.Config) {
	if cfg.PostgresDSN != "" {
		return
	}
	fmt.Fprintln(w, "serf mcp: POSTGRES_DSN is not set; serving an empty in-memory build store")
}
