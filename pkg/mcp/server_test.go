package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/scenario"
)

// fakeTracker implements tracker.Tracker for testing.
type fakeTracker struct {
	summaries []models.UsageSummary
	model     string
}

func (f *fakeTracker) Record(_ context.Context, _ models.UsageRecord) error { return nil }
func (f *fakeTracker) QueryByModel(_ context.Context, _ string, _ time.Time) ([]models.UsageRecord, error) {
	return nil, nil
}
func (f *fakeTracker) TotalByModel(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeTracker) Summary(_ context.Context, model string) ([]models.UsageSummary, error) {
	f.model = model
	return f.summaries, nil
}
func (f *fakeTracker) Close() error { return nil }

// fakeCache implements CacheStatter for testing.
type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats(context.Context) (models.CacheStats, error) { return f.stats, nil }

type fakeBudget struct {
	statuses []models.BudgetStatus
}

func (f *fakeBudget) Status(context.Context) ([]models.BudgetStatus, error) { return f.statuses, nil }

type fakeGenerator struct {
	set  models.ScenarioSet
	err  error
	snap scenario.FinancialSnapshot
	biz  models.BusinessContext
}

func (f *fakeGenerator) Generate(_ context.Context, snap scenario.FinancialSnapshot, biz models.BusinessContext) (models.ScenarioSet, error) {
	f.snap = snap
	f.biz = biz
	return f.set, f.err
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func (r toolResult) text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func send(t *testing.T, srv *Server, method string, params any) rpcResponse {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}
	out := srv.MCPServer().HandleMessage(context.Background(), msg)
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, data)
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) toolResult {
	t.Helper()
	resp := send(t, srv, "tools/call", map[string]any{"name": name, "arguments": args})
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	var result toolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(Services{}, "test", nil)
	resp := send(t, srv, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "test", "version": "1"},
		"capabilities":    map[string]any{},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.ServerInfo.Name != "ledgerlens" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(Services{}, "test", nil)
	resp := send(t, srv, "tools/list", map[string]any{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Tools) != 4 {
		t.Errorf("got %d tools, want 4", len(result.Tools))
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"ledgerlens_parse_scenarios", "ledgerlens_generate_scenarios", "ledgerlens_cache_stats", "ledgerlens_usage"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
}

func TestToolCallParseScenarios(t *testing.T) {
	srv := New(Services{}, "test", nil)
	raw := `{"base": {"description": "Estable", "projections": {"ingresos": 100}, "assumptions": ["a"]},
		"optimistic": {"description": "Mejor", "projections": {"ingresos": 120}, "assumptions": []},
		"pessimistic": {"description": "Peor", "projections": {"ingresos": 80}, "assumptions": []}}`

	result := callTool(t, srv, "ledgerlens_parse_scenarios", map[string]any{"response": raw})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.text())
	}
	var set models.ScenarioSet
	if err := json.Unmarshal([]byte(result.text()), &set); err != nil {
		t.Fatal(err)
	}
	if set.Optimistic.Projections["ingresos"] != 120 {
		t.Errorf("unexpected set %+v", set)
	}
}

func TestToolCallParseScenariosValidationError(t *testing.T) {
	srv := New(Services{}, "test", nil)
	raw := `{"base": {"description": "x", "projections": {}, "assumptions": []},
		"optimistic": {"description": "y", "projections": {}, "assumptions": []}}`

	result := callTool(t, srv, "ledgerlens_parse_scenarios", map[string]any{"response": raw})
	if !result.IsError {
		t.Fatal("expected isError=true for missing scenario")
	}
	if !strings.Contains(result.text(), "pessimistic") {
		t.Errorf("expected missing scenario named, got: %s", result.text())
	}
}

func TestToolCallParseScenariosMissingArgument(t *testing.T) {
	srv := New(Services{}, "test", nil)
	result := callTool(t, srv, "ledgerlens_parse_scenarios", map[string]any{})
	if !result.IsError {
		t.Error("expected isError=true for missing response")
	}
}

func TestToolCallGenerateScenarios(t *testing.T) {
	gen := &fakeGenerator{set: models.NewScenarioSet()}
	gen.set.Base.Description = "Base"
	srv := New(Services{Generator: gen}, "test", nil)

	result := callTool(t, srv, "ledgerlens_generate_scenarios", map[string]any{
		"revenue":  "1000.50",
		"expenses": "400",
		"sector":   "Hostelería",
	})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.text())
	}
	if !gen.snap.Revenue.Equal(decimal.RequireFromString("1000.50")) || !gen.snap.Expenses.Equal(decimal.NewFromInt(400)) {
		t.Errorf("unexpected snapshot %+v", gen.snap)
	}
	if gen.biz.Sector != "Hostelería" || gen.biz.Region != "" {
		t.Errorf("unexpected business context %+v", gen.biz)
	}
	if !strings.Contains(result.text(), `"Base"`) {
		t.Errorf("expected scenario JSON, got: %s", result.text())
	}
}

func TestToolCallGenerateScenariosErrors(t *testing.T) {
	srv := New(Services{}, "test", nil)
	result := callTool(t, srv, "ledgerlens_generate_scenarios", map[string]any{"revenue": "1", "expenses": "1"})
	if !result.IsError || !strings.Contains(result.text(), "not configured") {
		t.Errorf("expected not configured error, got: %+v", result)
	}

	gen := &fakeGenerator{err: errors.New("provider down")}
	srv = New(Services{Generator: gen}, "test", nil)
	result = callTool(t, srv, "ledgerlens_generate_scenarios", map[string]any{"revenue": "abc", "expenses": "1"})
	if !result.IsError || !strings.Contains(result.text(), "revenue must be a number") {
		t.Errorf("expected invalid revenue error, got: %+v", result)
	}

	result = callTool(t, srv, "ledgerlens_generate_scenarios", map[string]any{"revenue": "1", "expenses": "1"})
	if !result.IsError || !strings.Contains(result.text(), "provider down") {
		t.Errorf("expected provider error, got: %+v", result)
	}
}

func TestToolCallCacheNotEnabled(t *testing.T) {
	srv := New(Services{}, "test", nil)
	result := callTool(t, srv, "ledgerlens_cache_stats", nil)
	if !strings.Contains(result.text(), "not enabled") {
		t.Errorf("expected 'not enabled', got: %s", result.text())
	}
}

func TestToolCallCacheStats(t *testing.T) {
	cache := &fakeCache{stats: models.CacheStats{Entries: 42, Expired: 3, Hits: 10, Misses: 5}}
	srv := New(Services{Cache: cache}, "test", nil)

	text := callTool(t, srv, "ledgerlens_cache_stats", nil).text()
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") || !strings.Contains(text, "Expired:  3") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestToolCallUsage(t *testing.T) {
	tr := &fakeTracker{
		summaries: []models.UsageSummary{
			{Model: "gpt-4", RequestCount: 10, CachedCount: 4, TotalPrompt: 500, TotalCompletion: 200, TotalTokens: 700},
		},
	}
	budget := &fakeBudget{statuses: []models.BudgetStatus{
		{Policy: models.BudgetPolicy{Model: "*", MaxTokens: 1000, Period: models.BudgetDaily}, Used: 700, Remaining: 300},
	}}
	srv := New(Services{Tracker: tr, Budget: budget}, "test", nil)

	text := callTool(t, srv, "ledgerlens_usage", map[string]any{"model": "gpt-4"}).text()
	if tr.model != "gpt-4" {
		t.Errorf("summary filtered by %q", tr.model)
	}
	if !strings.Contains(text, "gpt-4") || !strings.Contains(text, "700") {
		t.Errorf("expected usage row, got: %s", text)
	}
	if !strings.Contains(text, "70.0%") {
		t.Errorf("expected budget usage, got: %s", text)
	}
}

func TestToolCallUsageNotConfigured(t *testing.T) {
	srv := New(Services{}, "test", nil)
	result := callTool(t, srv, "ledgerlens_usage", nil)
	if !result.IsError {
		t.Error("expected isError=true without a tracker")
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(Services{}, "test", nil)
	resp := send(t, srv, "unknown/method", map[string]any{})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", resp.Error.Code)
	}
}
