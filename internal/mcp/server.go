// Package mcp provides a Model Context Protocol server for railwatch.
//
// It exposes the pipeline and its stores as MCP tools: run the pipeline,
// read per-theme stats, and list filter-matched records. Stdio transport
// only — the server is meant to sit behind a local assistant.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/railwatch/railwatch/internal/pipeline"
	"github.com/railwatch/railwatch/internal/store"
)

// ServerConfig holds the dependencies for NewServer.
type ServerConfig struct {
	Store        *store.Store
	Orchestrator *pipeline.Orchestrator
	Version      string
}

// dbMu serializes tool calls that touch the database. mcp-go dispatches
// handlers concurrently, and the store assumes a single writer.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all railwatch tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"railwatch",
		ver,
		server.WithToolCapabilities(false),
	)

	registerStatsTool(s, cfg.Store)
	registerMatchesTool(s, cfg.Store)
	registerRunTool(s, cfg.Orchestrator)
	return s
}

func registerStatsTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("railwatch_stats",
		mcp.WithDescription("Per-theme counters for every pipeline stage: filter results, finalized records, pending AI qualifications."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.ReadStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding stats: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerMatchesTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("railwatch_matches",
		mcp.WithDescription("List filter-matched records for a theme, newest last, with found terms and qualification verdicts."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("theme",
			mcp.Required(),
			mcp.Description("Theme name (e.g. 'railway')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default: 20)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		theme, err := req.RequireString("theme")
		if err != nil {
			return mcp.NewToolResultError("theme is required"), nil
		}
		limit := 20
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			limit = int(l)
		}

		frs, err := st.FilterResults(ctx, theme)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing matches: %v", err)), nil
		}
		quals, err := st.Qualifications(ctx, theme)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing qualifications: %v", err)), nil
		}
		verdicts := make(map[string]string, len(quals))
		for _, q := range quals {
			verdicts[q.ID] = q.Verdict
		}

		type matchRow struct {
			ID         string `json:"id"`
			Date       string `json:"date"`
			Text       string `json:"text"`
			FoundTerms string `json:"found_terms"`
			Finalized  bool   `json:"finalized"`
			Verdict    string `json:"verdict,omitempty"`
		}
		var rows []matchRow
		for _, fr := range frs {
			if !fr.Filtered {
				continue
			}
			rows = append(rows, matchRow{
				ID:         fr.ID,
				Date:       fr.Date.Format("2006-01-02 15:04"),
				Text:       fr.TextTranslate,
				FoundTerms: fr.FoundTerms,
				Finalized:  fr.Finalized,
				Verdict:    verdicts[fr.ID],
			})
		}
		if len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding matches: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRunTool(s *server.MCPServer, orch *pipeline.Orchestrator) {
	tool := mcp.NewTool("railwatch_run",
		mcp.WithDescription("Run the classification pipeline (filter → enrich → qualify). Optionally restrict to one theme or do a dry run."),
		mcp.WithString("theme",
			mcp.Description("Restrict the run to one theme (empty = all)"),
		),
		mcp.WithNumber("call_cap",
			mcp.Description("Per-theme ceiling on classifier calls for this run"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Compute and count without writing or calling the classifier"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		opts := pipeline.Options{}
		if theme, err := req.RequireString("theme"); err == nil && theme != "" {
			opts.Themes = []string{theme}
		}
		if cap, err := req.RequireFloat("call_cap"); err == nil && cap > 0 {
			opts.CallCap = int(cap)
		}
		if dry, err := req.RequireBool("dry_run"); err == nil {
			opts.DryRun = dry
		}

		summary, runErr := orch.Run(ctx, opts)
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding summary: %v", err)), nil
		}
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run aborted: %v\n%s", runErr, data)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}
