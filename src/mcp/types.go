// Package mcp exposes recorded builds to MCP clients.
package mcp

import "serf-ci/src/store"

// BuildSummary is one row of list_builds.
type BuildSummary struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	SHA        string `json:"sha"`
	Name       string `json:"name,omitempty"`
	State      string `json:"state"`
	TargetURL  string `json:"target_url,omitempty"`
	StartedAt  string `json:"started_at"`
	Duration   string `json:"duration,omitempty"`
}

// BuildDetail is the get_build response. Output holds at most the last
// OutputTailLines lines of compacted build output.
type BuildDetail struct {
	BuildSummary
	Output          []string `json:"output"`
	OutputTruncated bool     `json:"output_truncated"`
}

func summarize(rec store.BuildRecord) BuildSummary {
	s := BuildSummary{
		ID:         rec.ID,
		Repository: rec.Repository,
		SHA:        rec.SHA,
		Name:       rec.Name,
		State:      rec.State,
		TargetURL:  rec.TargetURL,
		StartedAt:  rec.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if !rec.FinishedAt.IsZero() {
		s.Duration = rec.FinishedAt.Sub(rec.StartedAt).String()
	}
	return s
}
