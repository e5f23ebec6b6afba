package advisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/search"
)

type fakeLLM struct {
	reply string
	err   error

	messages    []models.ChatMessage
	temperature float64
}

func (f *fakeLLM) Complete(_ context.Context, messages []models.ChatMessage, temperature float64) (string, error) {
	f.messages = messages
	f.temperature = temperature
	return f.reply, f.err
}

type fakeSearch struct {
	results []search.Result
	err     error
	query   string
}

func (f *fakeSearch) Search(_ context.Context, query string) ([]search.Result, error) {
	f.query = query
	return f.results, f.err
}

func TestGenerateCompanyContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx", "company_context.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("contexto antiguo"), 0o644); err != nil {
		t.Fatal(err)
	}

	llm := &fakeLLM{reply: "Contexto nuevo del sector"}
	srch := &fakeSearch{results: []search.Result{{Title: "Informe turismo", Snippet: "Crecimiento", Link: "https://example.com"}}}
	adv := New(llm, srch, path, nil)

	got, err := adv.GenerateCompanyContext(context.Background(), "Hostelería", "Valencia")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Contexto nuevo del sector" {
		t.Errorf("unexpected context %q", got)
	}
	if adv.SavedContext() != "Contexto nuevo del sector" {
		t.Errorf("expected file to be replaced, got %q", adv.SavedContext())
	}
	if !strings.Contains(srch.query, "Hostelería en Valencia") {
		t.Errorf("unexpected query %q", srch.query)
	}
	if !strings.Contains(llm.messages[1].Content, "Informe turismo") {
		t.Error("expected search results in the prompt")
	}
	if llm.temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", llm.temperature)
	}
}

func TestGenerateCompanyContextSearchFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_context.txt")
	llm := &fakeLLM{reply: "contexto"}
	adv := New(llm, &fakeSearch{err: errors.New("quota")}, path, nil)

	if _, err := adv.GenerateCompanyContext(context.Background(), "Retail", "Madrid"); err != nil {
		t.Fatalf("search failure should not be fatal, got %v", err)
	}
	if strings.Contains(llm.messages[1].Content, "quota") {
		t.Error("search error leaked into the prompt")
	}
}

func TestGenerateCompanyContextLLMFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_context.txt")
	if err := os.WriteFile(path, []byte("viejo"), 0o644); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("down")
	adv := New(&fakeLLM{err: boom}, nil, path, nil)

	if _, err := adv.GenerateCompanyContext(context.Background(), "Retail", "Madrid"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if adv.SavedContext() != "" {
		t.Error("expected the previous context to be removed")
	}
}

func TestSavedContextMissing(t *testing.T) {
	adv := New(&fakeLLM{}, nil, filepath.Join(t.TempDir(), "none.txt"), nil)
	if got := adv.SavedContext(); got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}

func TestFinancialOpinion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_context.txt")
	if err := os.WriteFile(path, []byte("Sector en expansión"), 0o644); err != nil {
		t.Fatal(err)
	}
	llm := &fakeLLM{reply: "Recomendaciones"}
	adv := New(llm, nil, path, nil)

	got, err := adv.FinancialOpinion(context.Background(), map[string]int{"ingresos": 100}, models.BusinessContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Recomendaciones" {
		t.Errorf("unexpected opinion %q", got)
	}
	if !strings.Contains(llm.messages[0].Content, "Sector en expansión") {
		t.Error("expected saved context in the system prompt")
	}
	user := llm.messages[1].Content
	for _, want := range []string{"Sector: No especificado", "Región: No especificada", `"ingresos": 100`} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestScenarioNarrativeAndSummarize(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	adv := New(llm, nil, filepath.Join(t.TempDir(), "c.txt"), nil)

	if _, err := adv.ScenarioNarrative(context.Background(), "Ingresos: 10€", models.BusinessContext{Sector: "Retail", Region: "Madrid"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(llm.messages[1].Content, "sector Retail en Madrid") {
		t.Errorf("unexpected narrative prompt %q", llm.messages[1].Content)
	}
	if llm.temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", llm.temperature)
	}

	if _, err := adv.Summarize(context.Background(), "  Total: 3  "); err != nil {
		t.Fatal(err)
	}
	if llm.messages[1].Content != "Total: 3" || llm.temperature != 0.3 {
		t.Errorf("unexpected summary request %q at %v", llm.messages[1].Content, llm.temperature)
	}
}
