// Package main provides the serf command line: a minimal CI dispatcher that
// builds single commits and watches repositories for new ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"serf-ci/src/config"
	"serf-ci/src/logger"
)

// version is overridden at link time.
var version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg   *config.Config
	log   logger.Logger
	debug bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "serf",
		Short: "Serf - a minimal CI dispatcher",
		Long: `Serf builds commits and reports the result as GitHub commit statuses.

  serf build   clone, build and report one commit
  serf watch   run a command for every new commit of a repository
  serf serve   serve repository ref snapshots for watch
  serf mcp     expose recorded builds to MCP clients over stdio
  serf events  tail watch and build events from Redpanda`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			a.cfg = cfg
			if a.log == nil {
				a.log = logger.NewConsoleLogger(a.debug || cfg.Debug)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging (or set SERF_DEBUG)")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Message: err.Error(), cmd: cmd}
	})

	root.AddCommand(
		newBuildCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newEventsCmd(a),
	)
	return root
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	code := execute(ctx, &app{}, os.Args[1:], os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code.
func execute(ctx context.Context, a *app, args []string, stderr io.Writer) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "Error: %v\n\n", usageErr)
		if usageErr.cmd != nil {
			fmt.Fprint(stderr, usageErr.cmd.UsageString())
		}
		return 1
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
