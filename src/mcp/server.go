package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"serf-ci/src/store"
)

// DefaultListLimit caps list_builds when no limit is given.
const DefaultListLimit = 20

// Server is the MCP server for serf build history.
type Server struct {
	mcpServer *server.MCPServer
	store     store.Store
}

// NewServer creates an MCP server backed by builds.
func NewServer(builds store.Store, version string) *Server {
	s := server.NewMCPServer(
		"serf",
		version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		store:     builds,
	}
	srv.registerTools()

	return srv
}

func (s *Server) registerTools() {
	listTool := mcp.NewTool("list_builds",
		mcp.WithDescription("List recent serf builds, newest first. Each entry has the repository, commit SHA, status context name, final state and the link to the build output."),
		mcp.WithString("repository",
			mcp.Description("Only builds of this owner/repo"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Max builds to return (default: %d)", DefaultListLimit)),
		),
	)

	getTool := mcp.NewTool("get_build",
		mcp.WithDescription("Get one build by ID including the tail of its compacted output. Use after list_builds."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Build ID from list_builds"),
		),
	)

	s.mcpServer.AddTool(listTool, s.handleListBuilds)
	s.mcpServer.AddTool(getTool, s.handleGetBuild)
}

// Run serves MCP on stdio until the client disconnects.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleListBuilds(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repository := request.GetString("repository", "")
	limit := request.GetInt("limit", DefaultListLimit)

	records, err := s.store.ListBuilds(ctx, repository, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list builds: %v", err)), nil
	}

	summaries := make([]BuildSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}
	return jsonResult(summaries)
}

func (s *Server) handleGetBuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	rec, err := s.store.GetBuild(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("build not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get build: %v", err)), nil
	}

	lines, truncated := CompactOutput(rec.Output, OutputTailLines)
	return jsonResult(BuildDetail{
		BuildSummary:    summarize(*rec),
		Output:          lines,
		OutputTruncated: truncated,
	})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
