package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_MixedOutcomes(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	errBoom := errors.New("boom")

	outcomes, err := Run(context.Background(), items, 2, func(ctx context.Context, item int) (string, error) {
		if item == 3 {
			return "", errBoom
		}
		return fmt.Sprintf("ok-%d", item), nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(outcomes) != 5 {
		t.Fatalf("len(outcomes) = %d, want 5", len(outcomes))
	}

	for i, o := range outcomes {
		if o.Index != i || o.Item != items[i] {
			t.Errorf("outcomes[%d] = %+v, misaligned with input", i, o)
		}
		if o.Item == 3 {
			if !o.Failed() {
				t.Errorf("item 3 should have failed")
			}
			var jobErr *JobError
			if !errors.As(o.Err, &jobErr) || !errors.Is(o.Err, errBoom) {
				t.Errorf("item 3 error = %v, want JobError wrapping boom", o.Err)
			}
			continue
		}
		if o.Failed() {
			t.Errorf("item %d failed unexpectedly: %v", o.Item, o.Err)
		}
		if want := fmt.Sprintf("ok-%d", o.Item); o.Output != want {
			t.Errorf("item %d output = %q, want %q", o.Item, o.Output, want)
		}
	}
}

func TestRun_NeverExceedsParallelism(t *testing.T) {
	tests := []struct {
		items       int
		parallelism int
	}{
		{items: 1, parallelism: 1},
		{items: 10, parallelism: 1},
		{items: 10, parallelism: 3},
		{items: 20, parallelism: 20},
		{items: 64, parallelism: 8},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("M=%d,K=%d", tt.items, tt.parallelism), func(t *testing.T) {
			var inFlight, peak int64
			items := make([]int, tt.items)
			for i := range items {
				items[i] = i
			}

			outcomes, err := Run(context.Background(), items, tt.parallelism, func(ctx context.Context, item int) (string, error) {
				n := atomic.AddInt64(&inFlight, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				if item%4 == 0 {
					return "", errors.New("fail")
				}
				return "", nil
			}, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if len(outcomes) != tt.items {
				t.Errorf("len(outcomes) = %d, want %d", len(outcomes), tt.items)
			}
			if peak > int64(tt.parallelism) {
				t.Errorf("peak in flight = %d, want <= %d", peak, tt.parallelism)
			}
		})
	}
}

func TestRun_StartsInInputOrder(t *testing.T) {
	tests := []struct {
		name        string
		items       int
		parallelism int
	}{
		{"serial", 8, 1},
		{"partial", 16, 4},
		{"all slots free", 16, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.items)
			for i := range items {
				items[i] = i
			}

			for trial := 0; trial < 200; trial++ {
				var mu sync.Mutex
				var started []int

				_, err := Run(context.Background(), items, tt.parallelism, func(ctx context.Context, item int) (string, error) {
					mu.Lock()
					started = append(started, item)
					mu.Unlock()
					return "", nil
				}, nil)
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}

				for i, item := range started {
					if item != i {
						t.Fatalf("trial %d: start order = %v, want input order", trial, started)
					}
				}
			}
		})
	}
}

func TestRun_PanicIsIsolated(t *testing.T) {
	outcomes, err := Run(context.Background(), []string{"a", "b", "c"}, 2, func(ctx context.Context, item string) (string, error) {
		if item == "b" {
			panic("exploded")
		}
		return item, nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !outcomes[1].Failed() {
		t.Error("panicking item should be marked failed")
	}
	if outcomes[0].Failed() || outcomes[2].Failed() {
		t.Errorf("siblings affected by panic: %+v", outcomes)
	}
}

func TestRun_OnOutcomeCalledOncePerItem(t *testing.T) {
	var calls int
	seen := make(map[int]bool)

	items := []int{10, 20, 30, 40}
	_, err := Run(context.Background(), items, 3, func(ctx context.Context, item int) (string, error) {
		if item == 20 {
			return "", errors.New("nope")
		}
		return "", nil
	}, func(o Outcome[int]) {
		// Serialized by Run; no lock needed here.
		calls++
		seen[o.Item] = true
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls != len(items) {
		t.Errorf("onOutcome called %d times, want %d", calls, len(items))
	}
	for _, item := range items {
		if !seen[item] {
			t.Errorf("no outcome reported for %d", item)
		}
	}
}

func TestRun_Empty(t *testing.T) {
	outcomes, err := Run(context.Background(), nil, 2, func(ctx context.Context, item int) (string, error) {
		t.Fatal("action called for empty input")
		return "", nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("len(outcomes) = %d, want 0", len(outcomes))
	}
}

func TestRun_InvalidParallelism(t *testing.T) {
	for _, k := range []int{0, -1} {
		_, err := Run(context.Background(), []int{1}, k, func(ctx context.Context, item int) (string, error) {
			return "", nil
		}, nil)
		if !errors.Is(err, ErrInvalidParallelism) {
			t.Errorf("Run(k=%d) error = %v, want ErrInvalidParallelism", k, err)
		}
	}
}
