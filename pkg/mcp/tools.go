package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/scenario"
	"github.com/ledgerlens/ledgerlens/pkg/tracker"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("ledgerlens_parse_scenarios",
		mcp.WithDescription("Parse a model response into base, optimistic and pessimistic scenarios. Accepts JSON or free text."),
		mcp.WithString("response",
			mcp.Required(),
			mcp.Description("The raw model response to parse"),
		),
	), s.handleParseScenarios)

	s.mcp.AddTool(mcp.NewTool("ledgerlens_generate_scenarios",
		mcp.WithDescription("Ask the model for three projected scenarios from current revenue and expenses."),
		mcp.WithString("revenue",
			mcp.Required(),
			mcp.Description("Current revenue in euros, e.g. 125000.50"),
		),
		mcp.WithString("expenses",
			mcp.Required(),
			mcp.Description("Current expenses in euros"),
		),
		mcp.WithString("sector", mcp.Description("Business sector (optional)")),
		mcp.WithString("region", mcp.Description("Business region (optional)")),
	), s.handleGenerateScenarios)

	s.mcp.AddTool(mcp.NewTool("ledgerlens_cache_stats",
		mcp.WithDescription("Show response cache statistics (entries, expired, hits, misses, hit rate)."),
	), s.handleCacheStats)

	s.mcp.AddTool(mcp.NewTool("ledgerlens_usage",
		mcp.WithDescription("Show token usage per model and budget status for all configured policies."),
		mcp.WithString("model", mcp.Description("Filter by model (optional, omit for all models)")),
	), s.handleUsage)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleParseScenarios(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("response")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	set, err := s.svc.Parser.Parse(raw)
	if err != nil {
		var verr *scenario.ValidationError
		if errors.As(err, &verr) {
			return mcp.NewToolResultError(verr.Error()), nil
		}
		return mcp.NewToolResultErrorFromErr("Error parsing scenarios", err), nil
	}
	return jsonResult(set)
}

func (s *Server) handleGenerateScenarios(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.svc.Generator == nil {
		return mcp.NewToolResultError("Scenario generation is not configured (missing API key)."), nil
	}
	revenue, err := decimalArg(req, "revenue")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expenses, err := decimalArg(req, "expenses")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	biz := models.BusinessContext{
		Sector: req.GetString("sector", ""),
		Region: req.GetString("region", ""),
	}

	set, err := s.svc.Generator.Generate(ctx, scenario.FinancialSnapshot{Revenue: revenue, Expenses: expenses}, biz)
	if err != nil {
		s.logger.WithError(err).Warn("scenario generation failed")
		return mcp.NewToolResultErrorFromErr("Error generating scenarios", err), nil
	}
	return jsonResult(set)
}

func decimalArg(req mcp.CallToolRequest, name string) (decimal.Decimal, error) {
	raw, err := req.RequireString(name)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s must be a number, got %q", name, raw)
	}
	return d, nil
}

func (s *Server) handleCacheStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.svc.Cache == nil {
		return mcp.NewToolResultText("Response cache is not enabled."), nil
	}
	stats, err := s.svc.Cache.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("Error fetching cache stats", err), nil
	}
	return mcp.NewToolResultText(formatCacheStats(stats)), nil
}

func (s *Server) handleUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.svc.Tracker == nil {
		return mcp.NewToolResultError("Usage tracking is not configured."), nil
	}
	model := req.GetString("model", tracker.AllModels)
	rows, err := s.svc.Tracker.Summary(ctx, model)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("Error fetching usage", err), nil
	}

	var b strings.Builder
	b.WriteString(formatSummary(rows))
	if s.svc.Budget != nil {
		statuses, err := s.svc.Budget.Status(ctx)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("Error fetching budget status", err), nil
		}
		b.WriteString("\n")
		b.WriteString(formatBudgetStatus(statuses))
	}
	return mcp.NewToolResultText(b.String()), nil
}
