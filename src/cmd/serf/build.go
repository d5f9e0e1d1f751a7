package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"serf-ci/src/buildrun"
	"serf-ci/src/config"
	"serf-ci/src/execx"
	"serf-ci/src/github"
	"serf-ci/src/gitops"
)

type buildOptions struct {
	repo string
	sha  string
	name string
}

func newBuildCmd(a *app) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Clone, build and report a single commit",
		Long: `Clones the repository into a shared bare cache, checks the commit out into a
fresh working directory, detects and runs the project's build command.

With --name, a 'pending' commit status is posted first and the final state
links to the build output. A failing build exits 0; only serf's own errors
exit non-zero.

Example:
  serf build --repo https://github.com/octo/widget --sha 3f2a9c1 --name serf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyEnv(a.cfg)
			if err := opts.validate(cmd); err != nil {
				return err
			}
			return runBuild(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.repo, "repo", "", "Repository URL or owner/repo (required)")
	cmd.Flags().StringVarP(&opts.sha, "sha", "s", "", "Commit to build (or set SERF_SHA1)")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Status context name; enables status reporting")
	return cmd
}

// applyEnv fills values not given as flags from the environment.
func (o *buildOptions) applyEnv(cfg *config.Config) {
	if o.sha == "" {
		o.sha = cfg.DefaultSHA
	}
}

func (o *buildOptions) validate(cmd *cobra.Command) error {
	if o.repo == "" {
		return usageError(cmd, "--repo is required", "")
	}
	if o.sha == "" {
		return usageError(cmd, "--sha is required", "Pass --sha or set SERF_SHA1")
	}
	if _, err := github.ParseNwo(o.repo); err != nil {
		return usageError(cmd, err.Error(), "Use https://github.com/owner/repo, git@github.com:owner/repo.git or owner/repo")
	}
	return nil
}

func runBuild(cmd *cobra.Command, a *app, opts *buildOptions) error {
	ctx := cmd.Context()

	msgBroker, err := newBroker(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer msgBroker.Close()

	builds, err := newStore(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer builds.Close()

	gh := github.NewClient(a.cfg.GitHubToken)
	artifacts, err := newArtifacts(ctx, a.cfg, gh)
	if err != nil {
		return err
	}

	orch := buildrun.NewOrchestrator(buildrun.Options{
		Repos:     gitops.NewRepos(a.cfg.GitHubToken),
		Executor:  execx.NewShellExecutor(),
		Status:    gh,
		Artifacts: artifacts,
		Store:     builds,
		Broker:    msgBroker,
		Logger:    a.log,
		Output:    cmd.OutOrStdout(),
		CacheRoot: a.cfg.RepoCacheDir(),
	})

	result, err := orch.Run(ctx, buildrun.Request{
		RepoURL: cloneURL(opts.repo),
		SHA:     opts.sha,
		Name:    opts.name,
	})
	if err != nil {
		return err
	}

	a.log.Info("[Build] %s", buildrun.Summary(result))
	return nil
}

// cloneURL turns a bare owner/repo into a GitHub https URL.
func cloneURL(repo string) string {
	if strings.Contains(repo, "://") || strings.Contains(repo, "@") {
		return repo
	}
	nwo, err := github.ParseNwo(repo)
	if err != nil {
		return repo
	}
	return fmt.Sprintf("https://github.com/%s.git", nwo)
}
