// Package store persists the outcome of single-build runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no build record exists for an ID.
var ErrNotFound = errors.New("build not found")

// BuildRecord is the persisted result of one single-build invocation.
type BuildRecord struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository"` // owner/repo
	SHA        string    `json:"sha"`
	Name       string    `json:"name,omitempty"`
	State      string    `json:"state"` // pending, success, failure, error
	TargetURL  string    `json:"target_url,omitempty"`
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Store defines the interface for persisting build records.
type Store interface {
	// SaveBuild inserts or replaces the record with the same ID.
	SaveBuild(ctx context.Context, rec *BuildRecord) error

	// GetBuild returns the record for id or ErrNotFound.
	GetBuild(ctx context.Context, id string) (*BuildRecord, error)

	// ListBuilds returns the most recent records first. An empty repository
	// matches every repository; limit <= 0 means no limit.
	ListBuilds(ctx context.Context, repository string, limit int) ([]BuildRecord, error)

	// Close closes the store connection
	Close() error
}
