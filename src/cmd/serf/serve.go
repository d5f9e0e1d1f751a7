package main

import (
	"github.com/spf13/cobra"

	"serf-ci/src/github"
	"serf-ci/src/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve repository ref snapshots for serf watch",
		Long: `Serves GET /info/OWNER/REPO with the repository's branches and open pull
requests as a JSON array of {"name", "object": {"sha"}}. Snapshots are cached
for 15 seconds, in Redis when REDIS_ADDR is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			cache, closeCache := newRefCache(a.cfg)
			defer closeCache()

			srv := server.New(github.NewClient(a.cfg.GitHubToken), cache, a.log)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "listen", "", "Address to listen on (default SERF_LISTEN_ADDR or :8080)")
	return cmd
}
