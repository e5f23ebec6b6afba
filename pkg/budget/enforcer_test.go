package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/tracker"
)

func setup(t *testing.T) (tracker.Tracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	tr, err := tracker.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

func TestCheckUnderBudget(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Model:        "gpt-4",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.BudgetPolicy{
		{Model: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	if err := e.Check(ctx, "gpt-4"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Model:        "gpt-4",
		PromptTokens: 500, CompletionTokens: 600, TotalTokens: 1100,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.BudgetPolicy{
		{Model: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	err := e.Check(ctx, "gpt-4")
	if err == nil {
		t.Fatal("expected budget exceeded error")
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestModelPolicyOnlyAppliesToItsModel(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Model:        "gpt-4",
		PromptTokens: 400, CompletionTokens: 200, TotalTokens: 600,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.BudgetPolicy{
		{Model: "gpt-4", MaxTokens: 500, Period: models.BudgetDaily},
	}, tr)

	if err := e.Check(ctx, "gpt-4"); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected gpt-4 to be over budget, got %v", err)
	}
	if err := e.Check(ctx, "gpt-3.5-turbo"); err != nil {
		t.Errorf("expected fallback model to be unaffected, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Model:        "gpt-4",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.BudgetPolicy{
		{Model: "*", MaxTokens: 1000, Period: models.BudgetDaily},
		{Model: "gpt-4", MaxTokens: 100, Period: models.BudgetMonthly},
	}, tr)

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Used != 150 {
		t.Errorf("expected 150 used, got %d", statuses[0].Used)
	}
	if statuses[0].Remaining != 850 {
		t.Errorf("expected 850 remaining, got %d", statuses[0].Remaining)
	}
	if statuses[1].Remaining != 0 {
		t.Errorf("expected remaining clamped to 0, got %d", statuses[1].Remaining)
	}
}

func TestPeriodResetsWithClock(t *testing.T) {
	tr, ctx := setup(t)

	yesterday := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	_ = tr.Record(ctx, models.UsageRecord{
		Model: "gpt-4", TotalTokens: 5000, CreatedAt: yesterday,
	})

	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	policies := []models.BudgetPolicy{{Model: "*", MaxTokens: 1000, Period: models.BudgetDaily}}

	if err := New(policies, tr, WithClock(func() time.Time { return now })).Check(ctx, "gpt-4"); err != nil {
		t.Errorf("daily budget should reset at midnight, got %v", err)
	}

	monthly := []models.BudgetPolicy{{Model: "*", MaxTokens: 1000, Period: models.BudgetMonthly}}
	if err := New(monthly, tr, WithClock(func() time.Time { return now })).Check(ctx, "gpt-4"); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("monthly budget should still count yesterday, got %v", err)
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 7, 19, 15, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	if got := periodStart(models.BudgetDaily, now); !got.Equal(time.Date(2026, 7, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily start = %s", got)
	}
	if got := periodStart(models.BudgetMonthly, now); !got.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly start = %s", got)
	}
}
