package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"serf-ci/src/execx"
	"serf-ci/src/github"
	"serf-ci/src/refs"
	"serf-ci/src/watch"
)

type watchOptions struct {
	server     string
	repository string
	jobs       int
}

func newWatchCmd(a *app) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch -s SERVER -r OWNER/REPO [-j N] -- COMMAND [ARGS...]",
		Short: "Run a command for every new commit of a repository",
		Long: `Polls SERVER/info/OWNER/REPO every 30 seconds. Commits present at startup are
ignored; for each reference whose head commit has never been seen, COMMAND
runs with the commit SHA appended, at most --jobs at a time.

A failing command is logged and does not stop the loop. Failing to fetch the
reference list exits non-zero. SIGINT or SIGTERM stops the loop.

Example:
  serf watch -s http://localhost:8080 -r octo/widget -j 4 -- serf build --repo octo/widget --name serf --sha`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(cmd, args); err != nil {
				return err
			}
			return runWatch(cmd, a, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "Base URL of the ref server (required)")
	cmd.Flags().StringVarP(&opts.repository, "repository", "r", "", "Repository as owner/repo (required)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", watch.DefaultJobs, fmt.Sprintf("Commands to run in parallel (%d-%d)", watch.MinJobs, watch.MaxJobs))
	return cmd
}

func (o *watchOptions) validate(cmd *cobra.Command, args []string) error {
	if o.server == "" {
		return usageError(cmd, "--server is required", "")
	}
	if o.repository == "" {
		return usageError(cmd, "--repository is required", "")
	}
	if _, err := github.ParseNwo(o.repository); err != nil {
		return usageError(cmd, err.Error(), "Use owner/repo")
	}
	if err := watch.ValidateJobs(o.jobs); err != nil {
		return usageError(cmd, err.Error(), "")
	}
	if len(args) == 0 {
		return usageError(cmd, watch.ErrNoCommand.Error(), "Put the command after --, e.g. serf watch -s URL -r owner/repo -- ./ci.sh")
	}
	return nil
}

func runWatch(cmd *cobra.Command, a *app, opts *watchOptions, command []string) error {
	ctx := cmd.Context()

	msgBroker, err := newBroker(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer msgBroker.Close()

	nwo, _ := github.ParseNwo(opts.repository)
	source := refs.NewHTTPSource(opts.server, nwo)

	driver, err := watch.NewDriver(watch.Config{
		Source:     source,
		Executor:   execx.NewShellExecutor(),
		Repository: nwo,
		Command:    command,
		Jobs:       opts.jobs,
		Broker:     msgBroker,
		Logger:     a.log,
	})
	if err != nil {
		return usageError(cmd, err.Error(), "")
	}

	a.log.Info("[Watch] Watching %s with %d job(s)", source.URL(), opts.jobs)
	return driver.Run(ctx)
}
