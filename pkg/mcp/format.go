package mcp

import (
	"fmt"
	"strings"

	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %8s %10s %10s %10s\n",
		"Model", "Requests", "Cached", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 76) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-25s %8d %8d %10d %10d %10d\n",
			r.Model, r.RequestCount, r.CachedCount, r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-8s %12s %12s %12s %6s\n",
		"Model", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, s := range statuses {
		model := s.Policy.Model
		if model == "" {
			model = "*"
		}
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-25s %-8s %12d %12d %12d %5.1f%%\n",
			model, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Expired:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Expired, stats.Hits, stats.Misses, hitRate)
}
