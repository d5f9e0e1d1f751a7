package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"serf-ci/src/store"
)

func newRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content type %T", result.Content[0])
	return ""
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	records := []store.BuildRecord{
		{ID: "b1", Repository: "octo/widget", SHA: "a1", Name: "serf", State: "success", StartedAt: base, FinishedAt: base.Add(time.Minute)},
		{ID: "b2", Repository: "octo/widget", SHA: "a2", Name: "serf", State: "failure", StartedAt: base.Add(time.Hour), Output: "2026-02-01T13:00:00Z step one\n\n\x1b[31mFAIL\x1b[0m   /home/ci/work/src/pkg/widget_test.go:42"},
		{ID: "b3", Repository: "octo/other", SHA: "c1", State: "error", StartedAt: base.Add(2 * time.Hour)},
	}
	for i := range records {
		if err := s.SaveBuild(context.Background(), &records[i]); err != nil {
			t.Fatalf("SaveBuild failed: %v", err)
		}
	}
	return s
}

func TestListBuilds(t *testing.T) {
	srv := NewServer(seededStore(t), "test")

	tests := []struct {
		name    string
		args    map[string]any
		wantIDs []string
	}{
		{"all", map[string]any{}, []string{"b3", "b2", "b1"}},
		{"by repository", map[string]any{"repository": "octo/widget"}, []string{"b2", "b1"}},
		{"limited", map[string]any{"limit": float64(1)}, []string{"b3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleListBuilds(context.Background(), newRequest(tt.args))
			if err != nil {
				t.Fatalf("handleListBuilds failed: %v", err)
			}
			if result.IsError {
				t.Fatalf("unexpected tool error: %s", resultText(t, result))
			}

			var got []BuildSummary
			if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d builds, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestGetBuild(t *testing.T) {
	srv := NewServer(seededStore(t), "test")

	result, err := srv.handleGetBuild(context.Background(), newRequest(map[string]any{"id": "b2"}))
	if err != nil {
		t.Fatalf("handleGetBuild failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var got BuildDetail
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.State != "failure" || got.SHA != "a2" {
		t.Errorf("unexpected build %+v", got.BuildSummary)
	}
	want := []string{"step one", "FAIL .../widget_test.go:42"}
	if strings.Join(got.Output, "|") != strings.Join(want, "|") {
		t.Errorf("expected output %q, got %q", want, got.Output)
	}
}

func TestGetBuildErrors(t *testing.T) {
	srv := NewServer(seededStore(t), "test")

	for _, args := range []map[string]any{{}, {"id": "missing"}} {
		result, err := srv.handleGetBuild(context.Background(), newRequest(args))
		if err != nil {
			t.Fatalf("handleGetBuild returned protocol error: %v", err)
		}
		if !result.IsError {
			t.Errorf("expected tool error for args %v", args)
		}
	}
}

func TestCompactOutput(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("line   \t x\n")
	}

	lines, truncated := CompactOutput(b.String(), 3)
	if !truncated || len(lines) != 3 {
		t.Fatalf("expected 3 truncated lines, got %d (%v)", len(lines), truncated)
	}
	if lines[0] != "line x" {
		t.Errorf("expected collapsed whitespace, got %q", lines[0])
	}

	lines, truncated = CompactOutput("", 3)
	if truncated || lines == nil || len(lines) != 0 {
		t.Errorf("expected empty non-nil output, got %v %v", lines, truncated)
	}
}
