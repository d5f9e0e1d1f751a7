package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Runs against a real database when SERF_TEST_POSTGRES_DSN is set.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SERF_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SERF_TEST_POSTGRES_DSN not set")
	}

	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	repo := "octo/" + uuid.NewString()
	started := time.Now().UTC().Truncate(time.Millisecond)
	rec := &BuildRecord{
		ID:         uuid.NewString(),
		Repository: repo,
		SHA:        "abc123",
		Name:       "serf",
		State:      "pending",
		StartedAt:  started,
	}
	if err := s.SaveBuild(ctx, rec); err != nil {
		t.Fatalf("SaveBuild failed: %v", err)
	}

	rec.State = "failure"
	rec.Output = "exit status 2"
	rec.FinishedAt = started.Add(time.Minute)
	if err := s.SaveBuild(ctx, rec); err != nil {
		t.Fatalf("SaveBuild (update) failed: %v", err)
	}

	got, err := s.GetBuild(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetBuild failed: %v", err)
	}
	if got.State != "failure" || got.Output != "exit status 2" || got.FinishedAt.IsZero() {
		t.Errorf("GetBuild = %+v, want updated record", got)
	}

	list, err := s.ListBuilds(ctx, repo, 10)
	if err != nil {
		t.Fatalf("ListBuilds failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Errorf("ListBuilds = %+v, want the one record", list)
	}

	if _, err := s.GetBuild(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
