package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/railwatch/railwatch/internal/enrich"
	"github.com/railwatch/railwatch/internal/match"
	"github.com/railwatch/railwatch/internal/pipeline"
	"github.com/railwatch/railwatch/internal/rules"
	"github.com/railwatch/railwatch/internal/store"
)

type yesClassifier struct{}

func (yesClassifier) Classify(ctx context.Context, text string) (string, error) {
	return `{"verdict": "yes"}`, nil
}

func (yesClassifier) Name() string { return "yes" }

// helper: store with a small message population plus filter results
func setupTestServer(t *testing.T) (*server.MCPServer, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	_, err = s.UpsertMessages(ctx, []store.Message{
		{ID: "m1", Date: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), TextTranslate: "train derailed near the depot"},
		{ID: "m2", Date: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC), TextTranslate: "city council meeting"},
	})
	if err != nil {
		t.Fatalf("seeding messages: %v", err)
	}

	rs, err := rules.New("railway", []rules.Rule{
		{Strategy: match.StrategyAnyTerm, Terms: []string{"train", "derailed"}},
	})
	if err != nil {
		t.Fatalf("building rules: %v", err)
	}
	ref, err := enrich.NewReference(nil, nil)
	if err != nil {
		t.Fatalf("building reference: %v", err)
	}

	orch := pipeline.New(s, []*rules.RuleSet{rs}, ref, yesClassifier{}, nil)
	srv := NewServer(ServerConfig{Store: s, Orchestrator: orch, Version: "test"})
	return srv, s
}

// callTool invokes an MCP tool through the server's JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	raw := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	result := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			result.Content = append(result.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return result
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestNewServer(t *testing.T) {
	srv, _ := setupTestServer(t)
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestRunTool(t *testing.T) {
	srv, _ := setupTestServer(t)

	result := callTool(t, srv, "railwatch_run", map[string]interface{}{
		"theme": "railway",
	})
	if result.IsError {
		t.Fatalf("run tool returned error: %s", getTextContent(t, result))
	}

	var summary pipeline.RunSummary
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &summary); err != nil {
		t.Fatalf("parsing run summary: %v", err)
	}
	if len(summary.Themes) != 1 || summary.Themes[0].FilteredIn != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestStatsTool(t *testing.T) {
	srv, _ := setupTestServer(t)
	callTool(t, srv, "railwatch_run", map[string]interface{}{})

	result := callTool(t, srv, "railwatch_stats", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("stats tool returned error: %s", getTextContent(t, result))
	}

	var stats store.Stats
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats.Messages != 2 || stats.FilteredIn["railway"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMatchesTool(t *testing.T) {
	srv, _ := setupTestServer(t)
	callTool(t, srv, "railwatch_run", map[string]interface{}{})

	result := callTool(t, srv, "railwatch_matches", map[string]interface{}{
		"theme": "railway",
	})
	if result.IsError {
		t.Fatalf("matches tool returned error: %s", getTextContent(t, result))
	}

	text := getTextContent(t, result)
	if !strings.Contains(text, "m1") || !strings.Contains(text, "derailed") {
		t.Errorf("matches output missing the matched record: %s", text)
	}
	if strings.Contains(text, "m2") {
		t.Errorf("unmatched record listed: %s", text)
	}
}

func TestMatchesTool_RequiresTheme(t *testing.T) {
	srv, _ := setupTestServer(t)

	result := callTool(t, srv, "railwatch_matches", map[string]interface{}{})
	if !result.IsError {
		t.Error("expected error result without a theme argument")
	}
}
