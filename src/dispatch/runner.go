// Package dispatch runs one action per item with bounded parallelism.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidParallelism is returned when the parallelism cap is below one.
var ErrInvalidParallelism = errors.New("parallelism must be at least 1")

// Action performs the work for a single item and returns its captured output.
type Action[T any] func(ctx context.Context, item T) (string, error)

// Outcome is the settled result of one item's action.
type Outcome[T any] struct {
	Index  int
	Item   T
	Output string
	Err    error
}

// Failed reports whether the action returned an error or panicked.
func (o Outcome[T]) Failed() bool {
	return o.Err != nil
}

// JobError wraps the failure of a single item's action.
type JobError struct {
	Index int
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %d failed: %v", e.Index, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Run executes action once per item with at most parallelism actions in
// flight. Items start in input order; a new one starts as soon as a slot
// frees. A failing or panicking action only affects its own outcome.
//
// onOutcome, if non-nil, is called once per item as soon as the item settles.
// Calls are serialized, so it may log without extra locking. Run returns after
// every item has settled, with outcomes indexed like items.
//
// There is no per-job timeout; a job that never returns holds its slot.
func Run[T any](ctx context.Context, items []T, parallelism int, action Action[T], onOutcome func(Outcome[T])) ([]Outcome[T], error) {
	if parallelism < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidParallelism, parallelism)
	}

	outcomes := make([]Outcome[T], len(items))
	slots := make(chan struct{}, parallelism)

	var (
		wg       sync.WaitGroup
		reportMu sync.Mutex
	)

	for i, item := range items {
		slots <- struct{}{}
		wg.Add(1)

		started := make(chan struct{})
		go func(i int, item T) {
			defer wg.Done()

			outcome := runOne(ctx, i, item, action, started)
			outcomes[i] = outcome
			<-slots

			if onOutcome != nil {
				reportMu.Lock()
				onOutcome(outcome)
				reportMu.Unlock()
			}
		}(i, item)

		// The next item may not start before this one has.
		<-started
	}

	wg.Wait()
	return outcomes, nil
}

// runOne closes started immediately before entering action.
func runOne[T any](ctx context.Context, index int, item T, action Action[T], started chan<- struct{}) (outcome Outcome[T]) {
	outcome = Outcome[T]{Index: index, Item: item}

	defer func() {
		if r := recover(); r != nil {
			outcome.Err = &JobError{Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	close(started)
	output, err := action(ctx, item)
	outcome.Output = output
	if err != nil {
		outcome.Err = &JobError{Index: index, Err: err}
	}
	return outcome
}
