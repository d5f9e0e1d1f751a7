package watch

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"serf-ci/src/broker"
	"serf-ci/src/contracts"
	"serf-ci/src/execx"
	"serf-ci/src/refs"
)

// scriptedSource returns its snapshots in order, repeating the last one.
type scriptedSource struct {
	mu        sync.Mutex
	snapshots []refs.Snapshot
	errAt     int
	calls     int
}

func (s *scriptedSource) Fetch(ctx context.Context) (refs.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.errAt > 0 && s.calls == s.errAt {
		return nil, &refs.FetchError{URL: "http://serf.test/info/octo/widget", Err: errors.New("connection refused")}
	}
	idx := s.calls - 1
	if idx >= len(s.snapshots) {
		idx = len(s.snapshots) - 1
	}
	return s.snapshots[idx], nil
}

type recordingExecutor struct {
	mu   sync.Mutex
	cmds []execx.Command
	fail map[string]bool
}

func (r *recordingExecutor) Run(ctx context.Context, cmd execx.Command) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cmds = append(r.cmds, cmd)
	sha := cmd.Args[len(cmd.Args)-1]
	if r.fail[sha] {
		return "", errors.New("exit status 1")
	}
	return "built " + sha, nil
}

func ref(name, sha string) refs.Reference {
	return refs.Reference{Name: name, Object: refs.Object{SHA: sha}}
}

func TestNewDriverValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"no command", Config{}, ErrNoCommand},
		{"empty program", Config{Command: []string{""}}, ErrNoCommand},
		{"too many jobs", Config{Command: []string{"echo"}, Jobs: 65}, ErrInvalidJobs},
		{"negative jobs", Config{Command: []string{"echo"}, Jobs: -1}, ErrInvalidJobs},
		{"defaults", Config{Command: []string{"echo"}}, nil},
		{"max jobs", Config{Command: []string{"echo"}, Jobs: 64}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDriver(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if err == nil && tt.cfg.Jobs == 0 && d.jobs != DefaultJobs {
				t.Errorf("expected default jobs %d, got %d", DefaultJobs, d.jobs)
			}
		})
	}
}

func TestValidateJobsBounds(t *testing.T) {
	tests := []struct {
		jobs    int
		wantErr bool
	}{
		{MinJobs - 1, true},
		{MinJobs, false},
		{MaxJobs, false},
		{MaxJobs + 1, true},
	}

	for _, tt := range tests {
		err := ValidateJobs(tt.jobs)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateJobs(%d) = %v, wantErr %v", tt.jobs, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidJobs) {
			t.Errorf("ValidateJobs(%d) = %v, want ErrInvalidJobs", tt.jobs, err)
		}
	}
}

func TestStartupDispatchesNothing(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{{
		ref("main", "a1"), ref("dev", "b2"), ref("pull/1", "c3"),
	}}}
	exec := &recordingExecutor{}
	d, err := NewDriver(Config{Source: src, Executor: exec, Command: []string{"./ci.sh"}})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	outcomes, err := d.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(outcomes) != 0 || len(exec.cmds) != 0 {
		t.Errorf("expected no dispatches, got %d outcomes and %d commands", len(outcomes), len(exec.cmds))
	}
}

func TestCycleDispatchesChangedRefOnly(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{
		{ref("main", "a1"), ref("dev", "b2")},
		{ref("main", "a9"), ref("dev", "b2")},
	}}
	exec := &recordingExecutor{}
	d, err := NewDriver(Config{Source: src, Executor: exec, Command: []string{"./ci.sh", "--fast"}})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	outcomes, err := d.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	want := execx.Command{Name: "./ci.sh", Args: []string{"--fast", "a9"}}
	if !reflect.DeepEqual(exec.cmds[0], want) {
		t.Errorf("expected %+v, got %+v", want, exec.cmds[0])
	}

	// The same snapshot again has nothing new.
	outcomes, err = d.Cycle(context.Background())
	if err != nil {
		t.Fatalf("second Cycle failed: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("expected no outcomes on repeat, got %d", len(outcomes))
	}
}

func TestTemplateIsNotMutated(t *testing.T) {
	template := []string{"./ci.sh", "--flag"}
	src := &scriptedSource{snapshots: []refs.Snapshot{
		{},
		{ref("a", "s1"), ref("b", "s2"), ref("c", "s3")},
	}}
	exec := &recordingExecutor{}
	d, err := NewDriver(Config{Source: src, Executor: exec, Command: template, Jobs: 3})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if !reflect.DeepEqual(template, []string{"./ci.sh", "--flag"}) {
		t.Errorf("template mutated: %v", template)
	}
	seen := map[string]bool{}
	for _, cmd := range exec.cmds {
		if len(cmd.Args) != 2 || cmd.Args[0] != "--flag" {
			t.Errorf("unexpected args %v", cmd.Args)
		}
		seen[cmd.Args[1]] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected one job per sha, got %v", seen)
	}
}

func TestJobFailureDoesNotStopOthers(t *testing.T) {
	b := broker.NewInMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := b.Subscribe(ctx, contracts.TopicDispatchOutcomes, "test")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	src := &scriptedSource{snapshots: []refs.Snapshot{
		{},
		{ref("a", "s1"), ref("b", "s2"), ref("c", "s3")},
	}}
	exec := &recordingExecutor{fail: map[string]bool{"s2": true}}
	d, err := NewDriver(Config{
		Source: src, Executor: exec, Command: []string{"./ci.sh"},
		Repository: "octo/widget", Broker: b,
	})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	outcomes, err := d.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
			if o.Item.SHA() != "s2" {
				t.Errorf("unexpected failure for %s", o.Item.SHA())
			}
		}
	}
	if failed != 1 || len(outcomes) != 3 {
		t.Errorf("expected 3 outcomes with 1 failure, got %d with %d", len(outcomes), failed)
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-msgs:
			if msg.Key != "octo/widget" {
				t.Errorf("expected repository key, got %q", msg.Key)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for outcome %d", i)
		}
	}
}

func TestRunStopsOnFetchFailure(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{{ref("main", "a1")}}, errAt: 3}
	d, err := NewDriver(Config{Source: src, Executor: &recordingExecutor{}, Command: []string{"echo"}})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	err = d.Run(context.Background())
	var fetchErr *refs.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if src.calls != 3 {
		t.Errorf("expected 3 fetches, got %d", src.calls)
	}
}

func TestRunInitFailure(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{{}}, errAt: 1}
	d, err := NewDriver(Config{Source: src, Executor: &recordingExecutor{}, Command: []string{"echo"}})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected an error when the initial fetch fails")
	}
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{{ref("main", "a1")}}}
	d, err := NewDriver(Config{Source: src, Executor: &recordingExecutor{}, Command: []string{"echo"}, Interval: time.Hour})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCycleBeforeInit(t *testing.T) {
	d, err := NewDriver(Config{Source: &scriptedSource{}, Executor: &recordingExecutor{}, Command: []string{"echo"}})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	if _, err := d.Cycle(context.Background()); err == nil {
		t.Error("expected error when cycling before Init")
	}
}

// stalledBroker never delivers; Publish returns only when its context ends.
type stalledBroker struct {
	*broker.InMemoryBroker
}

func (s stalledBroker) Publish(ctx context.Context, topic, key string, value []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCycleDrainsWhenBrokerStalls(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{
		{},
		{ref("a", "s1"), ref("b", "s2")},
	}}
	d, err := NewDriver(Config{
		Source:         src,
		Executor:       &recordingExecutor{},
		Command:        []string{"./ci.sh"},
		Broker:         stalledBroker{broker.NewInMemoryBroker()},
		PublishTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		outcomes, _ := d.Cycle(context.Background())
		done <- len(outcomes)
	}()

	select {
	case n := <-done:
		if n != 2 {
			t.Errorf("expected 2 outcomes, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Cycle did not return while the broker was stalled")
	}
}

func TestCycleStopsPublishingOnCancel(t *testing.T) {
	src := &scriptedSource{snapshots: []refs.Snapshot{
		{},
		{ref("a", "s1")},
	}}
	d, err := NewDriver(Config{
		Source:         src,
		Executor:       &recordingExecutor{},
		Command:        []string{"./ci.sh"},
		Broker:         stalledBroker{broker.NewInMemoryBroker()},
		PublishTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Cycle(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Cycle did not return after cancel while publishing")
	}
}
