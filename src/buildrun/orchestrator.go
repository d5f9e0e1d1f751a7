// Package buildrun builds one repository at one commit and reports the result
// as a commit status.
package buildrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"serf-ci/src/artifact"
	"serf-ci/src/broker"
	"serf-ci/src/contracts"
	"serf-ci/src/execx"
	"serf-ci/src/github"
	"serf-ci/src/logger"
	"serf-ci/src/sanitize"
	"serf-ci/src/store"
)

// State is the lifecycle state of a build, mirroring commit status states.
type State string

const (
	StatePending State = github.StatePending
	StateSuccess State = github.StateSuccess
	StateFailure State = github.StateFailure
	StateError   State = github.StateError
)

// OutputFile is the artifact file name holding the build output.
const OutputFile = "build-output.txt"

// ErrBuildFailed marks a build whose own command failed.
var ErrBuildFailed = errors.New("build failed")

// OrchestrationError reports a failure of serf itself (clone, checkout,
// detection, reporting) as opposed to the project's build failing.
type OrchestrationError struct {
	Step string
	Err  error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// Request identifies what to build. Name enables status reporting and is
// used as the commit status context.
type Request struct {
	RepoURL string
	SHA     string
	Name    string
}

// Result is the outcome of one Run.
type Result struct {
	BuildID   string
	State     State
	Output    string
	TargetURL string
	WorkDir   string
	// BuildErr wraps ErrBuildFailed when State is StateFailure.
	BuildErr error
}

// Repos is the git collaborator.
type Repos interface {
	CloneOrFetch(ctx context.Context, url, bareDir string) (string, error)
	Clone(ctx context.Context, source, workDir string) error
	Checkout(ctx context.Context, workDir, sha string) error
}

// StatusReporter posts commit statuses.
type StatusReporter interface {
	PostCommitStatus(ctx context.Context, nwo, sha string, status github.Status) error
}

// Options wires an Orchestrator. Repos, Executor, Status and Artifacts are
// required; everything else has a default.
type Options struct {
	Repos     Repos
	Executor  execx.Executor
	Status    StatusReporter
	Artifacts artifact.Creator
	Store     store.Store
	Broker    broker.Broker
	Logger    logger.Logger
	Detect    Detector
	// Output receives the raw build output; defaults to os.Stdout.
	Output io.Writer
	// CacheRoot holds the shared bare repositories.
	CacheRoot string
	// TempDir holds working directories; defaults to $TMPDIR, $TEMP, then /tmp.
	TempDir string
	// PublishTimeout bounds each build event publish; defaults to
	// broker.DefaultPublishTimeout.
	PublishTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Orchestrator runs the single-build flow.
type Orchestrator struct {
	repos      Repos
	exec       execx.Executor
	status     StatusReporter
	artifacts  artifact.Creator
	store      store.Store
	broker     broker.Broker
	log        logger.Logger
	detect     Detector
	out        io.Writer
	cacheRoot  string
	tempDir    string
	publishTTL time.Duration
	now        func() time.Time
	newID      func() string
}

// NewOrchestrator creates an Orchestrator from opts.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		repos:      opts.Repos,
		exec:       opts.Executor,
		status:     opts.Status,
		artifacts:  opts.Artifacts,
		store:      opts.Store,
		broker:     opts.Broker,
		log:        opts.Logger,
		detect:     opts.Detect,
		out:        opts.Output,
		cacheRoot:  opts.CacheRoot,
		tempDir:    opts.TempDir,
		publishTTL: opts.PublishTimeout,
		now:        opts.Now,
		newID:      opts.NewID,
	}

	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	if o.broker == nil {
		o.broker = broker.NewInMemoryBroker()
	}
	if o.log == nil {
		o.log = logger.NewSilentLogger()
	}
	if o.detect == nil {
		o.detect = DetectCommand
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	if o.tempDir == "" {
		o.tempDir = defaultTempDir()
	}
	if o.publishTTL <= 0 {
		o.publishTTL = broker.DefaultPublishTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

func defaultTempDir() string {
	for _, key := range []string{"TMPDIR", "TEMP"} {
		if dir := os.Getenv(key); dir != "" {
			return dir
		}
	}
	return "/tmp"
}

// Run builds req. A failing build is reported through Result.State and is not
// an error; the returned error is always an *OrchestrationError, in which
// case the result has StateError and status reporting was attempted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	nwo, err := github.ParseNwo(req.RepoURL)
	if err != nil {
		return &Result{State: StateError, Output: err.Error()}, &OrchestrationError{Step: "parse repository", Err: err}
	}

	rec := &store.BuildRecord{
		ID:         o.newID(),
		Repository: nwo,
		SHA:        req.SHA,
		Name:       req.Name,
		State:      string(StatePending),
		StartedAt:  o.now().UTC(),
	}
	o.record(ctx, rec)

	if req.Name != "" {
		o.log.Debug("[Build] Posting 'pending' to GitHub status")
		if err := o.postStatus(ctx, nwo, req, rec.ID, StatePending, ""); err != nil {
			o.log.Error("[Build] Failed to post pending status: %v", err)
		}
	}

	result, err := o.execute(ctx, req, nwo, rec.ID)
	if err != nil {
		return o.fail(ctx, req, nwo, rec, err)
	}

	rec.State = string(result.State)
	rec.TargetURL = result.TargetURL
	rec.Output = result.Output
	rec.FinishedAt = o.now().UTC()
	o.record(ctx, rec)

	return result, nil
}

// execute runs clone through final status. Any error it returns is fatal to
// the build and becomes an error status.
func (o *Orchestrator) execute(ctx context.Context, req Request, nwo, buildID string) (*Result, error) {
	if err := os.MkdirAll(o.cacheRoot, 0o755); err != nil {
		return nil, &OrchestrationError{Step: "prepare cache", Err: err}
	}
	bareDir := filepath.Join(o.cacheRoot, strings.ReplaceAll(nwo, "/", "-")+".git")

	o.log.Debug("[Build] Running initial cloneOrFetch: %s => %s", req.RepoURL, bareDir)
	bareDir, err := o.repos.CloneOrFetch(ctx, req.RepoURL, bareDir)
	if err != nil {
		return nil, &OrchestrationError{Step: "clone or fetch", Err: err}
	}

	workDir := o.workDir(nwo, req.SHA)
	o.log.Debug("[Build] Cloning to work directory: %s", workDir)
	if err := o.repos.Clone(ctx, bareDir, workDir); err != nil {
		return nil, &OrchestrationError{Step: "clone", Err: err}
	}

	o.log.Debug("[Build] Checking out to given SHA1: %s", req.SHA)
	if err := o.repos.Checkout(ctx, workDir, req.SHA); err != nil {
		return nil, &OrchestrationError{Step: "checkout", Err: err}
	}

	o.log.Debug("[Build] Determining command to build")
	cmd, err := o.detect(workDir)
	if err != nil {
		return nil, &OrchestrationError{Step: "detect build command", Err: err}
	}
	cmd.Dir = workDir
	cmd.Env = append(cmd.Env, "SERF_SHA1="+req.SHA)

	o.log.Info("[Build] Running %s...", cmd)
	result := &Result{BuildID: buildID, WorkDir: workDir}

	output, err := o.exec.Run(ctx, cmd)
	if err != nil {
		result.State = StateFailure
		result.Output = err.Error()
		result.BuildErr = fmt.Errorf("%w: %w", ErrBuildFailed, err)
		o.log.Info("[Build] Error during build: %v", err)
	} else {
		result.State = StateSuccess
		result.Output = output
		fmt.Fprintln(o.out, output)
	}

	if req.Name == "" {
		return result, nil
	}

	o.log.Debug("[Build] Posting '%s' to GitHub status", result.State)
	url, err := o.artifacts.Create(ctx, o.artifactDescription(nwo, req.SHA), map[string]string{
		OutputFile: result.Output,
	})
	if err != nil {
		return nil, &OrchestrationError{Step: "create artifact", Err: err}
	}
	result.TargetURL = url

	if err := o.postStatus(ctx, nwo, req, buildID, result.State, url); err != nil {
		return nil, &OrchestrationError{Step: "report status", Err: err}
	}

	return result, nil
}

// fail reports a fatal error. Failures while reporting are logged and
// otherwise ignored.
func (o *Orchestrator) fail(ctx context.Context, req Request, nwo string, rec *store.BuildRecord, err error) (*Result, error) {
	var orchErr *OrchestrationError
	if !errors.As(err, &orchErr) {
		orchErr = &OrchestrationError{Step: "build", Err: err}
	}

	o.log.Error("[Build] Fatal Error: %v", orchErr)
	result := &Result{BuildID: rec.ID, State: StateError, Output: orchErr.Err.Error()}

	if req.Name != "" {
		url, aerr := o.artifacts.Create(ctx, o.artifactDescription(nwo, req.SHA), map[string]string{
			OutputFile: result.Output,
		})
		if aerr != nil {
			o.log.Error("[Build] Failed to create error artifact: %v", aerr)
		} else {
			result.TargetURL = url
		}

		if serr := o.postStatus(ctx, nwo, req, rec.ID, StateError, result.TargetURL); serr != nil {
			o.log.Error("[Build] Failed to post error status: %v", serr)
		}
	}

	rec.State = string(StateError)
	rec.TargetURL = result.TargetURL
	rec.Output = result.Output
	rec.FinishedAt = o.now().UTC()
	o.record(ctx, rec)

	return result, orchErr
}

func (o *Orchestrator) postStatus(ctx context.Context, nwo string, req Request, buildID string, state State, targetURL string) error {
	err := o.status.PostCommitStatus(ctx, nwo, req.SHA, github.Status{
		State:       string(state),
		TargetURL:   targetURL,
		Description: github.StatusDescription,
		Context:     req.Name,
	})
	if err != nil {
		return err
	}

	event := contracts.BuildEvent{
		BuildID:    buildID,
		Repository: nwo,
		SHA:        req.SHA,
		Name:       req.Name,
		State:      string(state),
		TargetURL:  targetURL,
		Timestamp:  o.now().UTC().Format(time.RFC3339),
	}
	if perr := broker.PublishJSONWithin(ctx, o.publishTTL, o.broker, contracts.TopicBuilds, buildID, event); perr != nil {
		o.log.Error("[Build] Failed to publish build event: %v", perr)
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, rec *store.BuildRecord) {
	if err := o.store.SaveBuild(ctx, rec); err != nil {
		o.log.Error("[Build] Failed to record build %s: %v", rec.ID, err)
	}
}

// workDir returns a fresh directory name unique per repository, commit and time.
func (o *Orchestrator) workDir(nwo, sha string) string {
	stamp := strings.ReplaceAll(o.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"), ":", ".")
	name := fmt.Sprintf("serf-workdir-%s-%s-%s", strings.ReplaceAll(nwo, "/", "-"), sha, stamp)
	return filepath.Join(o.tempDir, name)
}

func (o *Orchestrator) artifactDescription(nwo, sha string) string {
	return fmt.Sprintf("Build completed: %s#%s, %s", nwo, sha, o.now().UTC().Format(time.RFC1123))
}

// Summary returns a one-line, escape-free description of a result for logs.
func Summary(r *Result) string {
	first := strings.TrimSpace(sanitize.BuildOutput(r.Output))
	if idx := strings.IndexByte(first, '\n'); idx >= 0 {
		first = first[:idx]
	}
	if r.TargetURL != "" {
		return fmt.Sprintf("%s (%s): %s", r.State, r.TargetURL, first)
	}
	return fmt.Sprintf("%s: %s", r.State, first)
}
