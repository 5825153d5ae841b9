// Package mcptools exposes the snapshot engine operations as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"panopticon/internal/engine"
	"panopticon/internal/repoerr"
	"panopticon/internal/telemetry"
)

// All tools are read-only views of remote repositories.
var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(true),
}

// Register adds the repository inspection tools to the server.
func Register(s *mcpserver.MCPServer, eng *engine.Engine, metrics *telemetry.Metrics) {
	s.AddTool(directoryStructureTool(), makeStructureHandler(eng, metrics))
	s.AddTool(readImportantFilesTool(), makeReadFilesHandler(eng, metrics))
	s.AddTool(listBranchesTool(), makeListBranchesHandler(eng, metrics))
	s.AddTool(compareChangesTool(), makeCompareHandler(eng, metrics))
	s.AddTool(commitHistoryTool(), makeHistoryHandler(eng, metrics))
}

func withRepository() mcp.ToolOption {
	return mcp.WithString("repository",
		mcp.Required(),
		mcp.Description("Repository URL (https://host/namespace/project or git@host:namespace/project)"),
	)
}

func withToken() mcp.ToolOption {
	return mcp.WithString("token",
		mcp.Description("Optional access token for this call, overriding the configured one"),
	)
}

func directoryStructureTool() mcp.Tool {
	return mcp.NewTool("git_directory_structure",
		mcp.WithDescription("Return the directory tree of a remote repository, both as a nested structure and rendered as an ASCII tree."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		withRepository(),
		mcp.WithString("revision",
			mcp.Description("Branch, tag, or commit to inspect (default branch if omitted)"),
		),
		mcp.WithString("path_prefix",
			mcp.Description("Restrict the tree to the subtree rooted at this directory"),
		),
		withToken(),
	)
}

func readImportantFilesTool() mcp.Tool {
	return mcp.NewTool("git_read_important_files",
		mcp.WithDescription("Read the important files of a remote repository (manifests, README, lockfiles, CI and security config, Dockerfiles, licenses). Pass explicit paths to read those instead."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		withRepository(),
		mcp.WithString("revision",
			mcp.Description("Branch, tag, or commit to inspect (default branch if omitted)"),
		),
		mcp.WithArray("paths",
			mcp.Description("Explicit repository-relative file paths to read, bypassing the importance rules"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		withToken(),
	)
}

func listBranchesTool() mcp.Tool {
	return mcp.NewTool("list_branches",
		mcp.WithDescription("List the branches of a remote repository with their head commits, default branch first."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		withRepository(),
		withToken(),
	)
}

func compareChangesTool() mcp.Tool {
	return mcp.NewTool("git_compare_changes",
		mcp.WithDescription("Show the unified diff between two revisions of a remote repository."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		withRepository(),
		mcp.WithString("source",
			mcp.Description("Revision whose changes are shown (default branch head if omitted)"),
		),
		mcp.WithString("target",
			mcp.Description("Revision to compare against (the source's parent if omitted)"),
		),
		mcp.WithString("path",
			mcp.Description("Restrict the diff to this file or directory"),
		),
		withToken(),
	)
}

func commitHistoryTool() mcp.Tool {
	return mcp.NewTool("git_commit_history",
		mcp.WithDescription("Show the commit log of a remote repository, newest first."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		withRepository(),
		mcp.WithString("revision",
			mcp.Description("Branch, tag, or commit to start from (default branch if omitted)"),
		),
		mcp.WithNumber("max_count",
			mcp.Description("Maximum number of commits to return (default 10)"),
		),
		withToken(),
	)
}

func makeStructureHandler(eng *engine.Engine, metrics *telemetry.Metrics) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := eng.Structure(ctx, engine.StructureRequest{
			Repository: req.GetString("repository", ""),
			Revision:   req.GetString("revision", ""),
			PathPrefix: req.GetString("path_prefix", ""),
			Token:      req.GetString("token", ""),
		})
		return finish(ctx, metrics, "git_directory_structure", result, err)
	}
}

func makeReadFilesHandler(eng *engine.Engine, metrics *telemetry.Metrics) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := eng.ReadImportantFiles(ctx, engine.ReadFilesRequest{
			Repository: req.GetString("repository", ""),
			Revision:   req.GetString("revision", ""),
			Paths:      req.GetStringSlice("paths", nil),
			Token:      req.GetString("token", ""),
		})
		return finish(ctx, metrics, "git_read_important_files", result, err)
	}
}

func makeListBranchesHandler(eng *engine.Engine, metrics *telemetry.Metrics) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := eng.ListBranches(ctx, engine.BranchesRequest{
			Repository: req.GetString("repository", ""),
			Token:      req.GetString("token", ""),
		})
		return finish(ctx, metrics, "list_branches", result, err)
	}
}

func makeCompareHandler(eng *engine.Engine, metrics *telemetry.Metrics) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := eng.CompareChanges(ctx, engine.CompareRequest{
			Repository: req.GetString("repository", ""),
			Source:     req.GetString("source", ""),
			Target:     req.GetString("target", ""),
			Path:       req.GetString("path", ""),
			Token:      req.GetString("token", ""),
		})
		return finish(ctx, metrics, "git_compare_changes", result, err)
	}
}

func makeHistoryHandler(eng *engine.Engine, metrics *telemetry.Metrics) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := eng.CommitHistory(ctx, engine.HistoryRequest{
			Repository: req.GetString("repository", ""),
			Revision:   req.GetString("revision", ""),
			MaxCount:   req.GetInt("max_count", 0),
			Token:      req.GetString("token", ""),
		})
		return finish(ctx, metrics, "git_commit_history", result, err)
	}
}

// finish records the outcome and renders the result or the structured
// error. Operation failures travel inside the tool result, not as
// protocol errors.
func finish(ctx context.Context, metrics *telemetry.Metrics, tool string, result any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		kind := repoerr.KindOf(err)
		metrics.RecordToolCall(ctx, tool, kind.String())
		slog.Warn("Tool call failed",
			"tool", tool,
			"kind", kind.String(),
			"error", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err)), nil
	}

	metrics.RecordToolCall(ctx, tool, "ok")
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
