// Package watch polls a repository's references and runs a command for every
// commit that has not been seen before.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serf-ci/src/broker"
	"serf-ci/src/contracts"
	"serf-ci/src/dispatch"
	"serf-ci/src/execx"
	"serf-ci/src/logger"
	"serf-ci/src/refs"
)

const (
	// DefaultJobs is the parallelism used when none is given.
	DefaultJobs = 2
	// MinJobs and MaxJobs bound the accepted parallelism.
	MinJobs = 1
	MaxJobs = 64

	// DefaultInterval is the delay between polls.
	DefaultInterval = 30 * time.Second
)

var (
	// ErrNoCommand is returned by NewDriver when Config.Command names no program.
	ErrNoCommand = errors.New("a command to run is required")
	// ErrInvalidJobs wraps every parallelism outside [MinJobs, MaxJobs].
	ErrInvalidJobs = fmt.Errorf("jobs must be between %d and %d", MinJobs, MaxJobs)
)

// ValidateJobs checks a requested parallelism.
func ValidateJobs(jobs int) error {
	if jobs < MinJobs || jobs > MaxJobs {
		return fmt.Errorf("%w: got %d", ErrInvalidJobs, jobs)
	}
	return nil
}

// Config wires a Driver. Source, Executor and Command are required.
type Config struct {
	Source     refs.Source
	Executor   execx.Executor
	Repository string
	// Command is the template; each job runs Command[0] with Command[1:]
	// followed by the commit SHA.
	Command  []string
	Jobs     int
	Interval time.Duration
	Broker   broker.Broker
	// PublishTimeout bounds each outcome publish; defaults to
	// broker.DefaultPublishTimeout.
	PublishTimeout time.Duration
	Logger         logger.Logger
}

// Driver owns the seen set and runs the poll loop. It is not safe for
// concurrent use; Run drives it from a single goroutine.
type Driver struct {
	source     refs.Source
	exec       execx.Executor
	repository string
	command    []string
	jobs       int
	interval   time.Duration
	broker     broker.Broker
	publishTTL time.Duration
	log        logger.Logger
	seen       *refs.Seen
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDriver validates cfg and creates a Driver.
func NewDriver(cfg Config) (*Driver, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrNoCommand
	}
	if cfg.Jobs == 0 {
		cfg.Jobs = DefaultJobs
	}
	if err := ValidateJobs(cfg.Jobs); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Broker == nil {
		cfg.Broker = broker.NewInMemoryBroker()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewSilentLogger()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = broker.DefaultPublishTimeout
	}

	return &Driver{
		source:     cfg.Source,
		exec:       cfg.Executor,
		repository: cfg.Repository,
		command:    append([]string(nil), cfg.Command...),
		jobs:       cfg.Jobs,
		interval:   cfg.Interval,
		broker:     cfg.Broker,
		publishTTL: cfg.PublishTimeout,
		log:        cfg.Logger,
		sleep:      sleepContext,
	}, nil
}

// Init fetches the current references and marks them all as seen. Nothing
// is dispatched for commits that existed at startup.
func (d *Driver) Init(ctx context.Context) error {
	snapshot, err := d.source.Fetch(ctx)
	if err != nil {
		return err
	}
	d.seen = refs.NewSeen(snapshot)
	d.log.Debug("[Watch] Seeded %d known commits", d.seen.Len())
	return nil
}

// Cycle performs one poll: fetch, diff against the seen set, record the new
// commits, then run the command for each with bounded parallelism. It
// returns after every job has settled. Job failures are logged, not returned.
func (d *Driver) Cycle(ctx context.Context) ([]dispatch.Outcome[refs.Reference], error) {
	if d.seen == nil {
		return nil, errors.New("watch driver not initialized")
	}

	snapshot, err := d.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	fresh := refs.Diff(d.seen, snapshot)
	d.seen.Add(fresh...)
	if len(fresh) == 0 {
		d.log.Debug("[Watch] No new commits")
		return nil, nil
	}

	d.log.Info("[Watch] %d new commit(s), running with %d job(s)", len(fresh), d.jobs)
	return dispatch.Run(ctx, fresh, d.jobs, d.runJob, func(o dispatch.Outcome[refs.Reference]) {
		d.report(ctx, o)
	})
}

// Run initializes the seen set and then polls every interval until ctx is
// cancelled, which returns nil. A fetch failure stops the loop and is
// returned.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		if err := d.sleep(ctx, d.interval); err != nil {
			return nil
		}
		if _, err := d.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// CommandFor builds the command for one reference without touching the
// template.
func (d *Driver) CommandFor(ref refs.Reference) execx.Command {
	args := make([]string, 0, len(d.command))
	args = append(args, d.command[1:]...)
	args = append(args, ref.SHA())
	return execx.Command{Name: d.command[0], Args: args}
}

func (d *Driver) runJob(ctx context.Context, ref refs.Reference) (string, error) {
	cmd := d.CommandFor(ref)
	d.log.Debug("[Watch] Running %s for %s", cmd, ref.Name)
	return d.exec.Run(ctx, cmd)
}

func (d *Driver) report(ctx context.Context, o dispatch.Outcome[refs.Reference]) {
	event := contracts.DispatchOutcome{
		Repository: d.repository,
		RefName:    o.Item.Name,
		SHA:        o.Item.SHA(),
		Command:    d.CommandFor(o.Item).String(),
		Succeeded:  !o.Failed(),
		Output:     o.Output,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	if o.Failed() {
		event.Error = o.Err.Error()
		d.log.Error("[Watch] %s (%s) failed: %v", o.Item.Name, o.Item.SHA(), o.Err)
	} else {
		d.log.Info("[Watch] %s (%s):\n%s", o.Item.Name, o.Item.SHA(), o.Output)
	}

	// Publishing is best effort.
	if err := broker.PublishJSONWithin(ctx, d.publishTTL, d.broker, contracts.TopicDispatchOutcomes, event.Repository, event); err != nil {
		d.log.Debug("[Watch] Failed to publish outcome: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
