// Package extract pulls financial operations out of statement text with the
// model and keeps only confident, de-duplicated entries.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/ledgerlens/pkg/ledger"
	"github.com/ledgerlens/ledgerlens/pkg/llm"
	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

const (
	// ChunkSize is the number of runes sent per extraction request.
	ChunkSize = 2000
	// MinConfidence is the exclusive lower bound for keeping an entry.
	MinConfidence = 0.7

	extractionTemperature = 0.1
	summaryFailure        = "No se pudo generar el resumen"
)

// Completer is the model client.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage, temperature float64) (string, error)
}

// Summarizer writes executive summaries.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Entry is one extracted operation.
type Entry struct {
	Date       string          `json:"fecha"`
	Concept    string          `json:"concepto"`
	Entity     string          `json:"entidad"`
	Amount     decimal.Decimal `json:"importe"`
	Kind       string          `json:"tipo"`
	Confidence float64         `json:"confianza"`
}

func (e Entry) key() string {
	return e.Date + "-" + e.Concept + "-" + e.Entity
}

// Operation converts e for storage in the ledger.
func (e Entry) Operation() (models.Operation, error) {
	date, err := time.Parse(ledger.DateLayout, strings.TrimSpace(e.Date))
	if err != nil {
		return models.Operation{}, fmt.Errorf("%w: fecha %q", ledger.ErrInvalidOperation, e.Date)
	}
	op := models.Operation{
		Date:    date,
		Concept: e.Concept,
		Entity:  e.Entity,
		Kind:    ledger.ParseKind(e.Kind),
		Amount:  e.Amount.Abs(),
	}
	return op, ledger.Validate(op)
}

// Result holds the kept entries and a summary of them.
type Result struct {
	Entries []Entry       `json:"entries"`
	Totals  ledger.Totals `json:"totals"`
	Summary string        `json:"summary"`
}

// Extractor runs extraction over statement text.
type Extractor struct {
	llm        Completer
	summarizer Summarizer
	logger     logrus.FieldLogger
}

// New returns an Extractor.
func New(llm Completer, summarizer Summarizer, logger logrus.FieldLogger) *Extractor {
	return &Extractor{
		llm:        llm,
		summarizer: summarizer,
		logger:     logging.Component(logger, "extract"),
	}
}

// Extract splits text into chunks, extracts entries from each and summarizes
// the confident ones. Model failures abort; undecodable chunks are skipped.
func (x *Extractor) Extract(ctx context.Context, text string) (Result, error) {
	var all []Entry
	for i, chunk := range Chunks(text, ChunkSize) {
		entries, err := x.extractChunk(ctx, chunk)
		if err != nil {
			return Result{}, fmt.Errorf("extract chunk %d: %w", i, err)
		}
		all = append(all, entries...)
	}

	best := SelectBest(all)
	totals := totalsOf(best)
	return Result{
		Entries: best,
		Totals:  totals,
		Summary: x.summarize(ctx, totals),
	}, nil
}

type extraction struct {
	Entries []Entry `json:"entries"`
}

func (x *Extractor) extractChunk(ctx context.Context, chunk string) ([]Entry, error) {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Eres un experto en extracción de datos financieros. Solo extrae entradas cuando tengas alta confianza en la información."},
		{Role: models.RoleUser, Content: `Extrae las operaciones financieras donde identifiques claramente estos campos:
- Fecha (YYYY-MM-DD)
- Concepto
- Entidad
- Importe
- Tipo (Ingreso/Gasto)

Devuelve un JSON con este formato:
{
  "entries": [
    {
      "fecha": "YYYY-MM-DD",
      "concepto": "texto",
      "entidad": "texto",
      "importe": 0.0,
      "tipo": "Ingreso/Gasto",
      "confianza": 0.0
    }
  ]
}`},
		{Role: models.RoleUser, Content: chunk},
	}

	raw, err := x.llm.Complete(ctx, messages, extractionTemperature)
	if err != nil {
		return nil, err
	}
	var out extraction
	if err := llm.DecodeJSON(raw, &out); err != nil {
		x.logger.WithError(err).Warn("extraction response not decodable, skipping chunk")
		return nil, nil
	}
	return out.Entries, nil
}

// Chunks splits text into pieces of at most size runes.
func Chunks(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// SelectBest keeps entries above MinConfidence and, among entries sharing
// date, concept and entity, the most confident one. Order of first
// appearance is preserved.
func SelectBest(entries []Entry) []Entry {
	index := map[string]int{}
	var out []Entry
	for _, e := range entries {
		if e.Confidence <= MinConfidence {
			continue
		}
		k := e.key()
		if i, ok := index[k]; ok {
			if e.Confidence > out[i].Confidence {
				out[i] = e
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}

func totalsOf(entries []Entry) ledger.Totals {
	t := ledger.Totals{Income: decimal.Zero, Expenses: decimal.Zero, Count: len(entries)}
	for _, e := range entries {
		switch ledger.ParseKind(e.Kind) {
		case models.KindIncome:
			t.Income = t.Income.Add(e.Amount)
		case models.KindExpense:
			t.Expenses = t.Expenses.Add(e.Amount)
		}
	}
	return t
}

func (x *Extractor) summarize(ctx context.Context, t ledger.Totals) string {
	if x.summarizer == nil {
		return summaryFailure
	}
	prompt := fmt.Sprintf(`Genera un resumen ejecutivo breve con esta información:
- Total de operaciones: %d
- Total ingresos: %s
- Total gastos: %s
- Balance: %s`,
		t.Count,
		models.FormatEuros(t.Income),
		models.FormatEuros(t.Expenses),
		models.FormatEuros(t.Balance()),
	)
	summary, err := x.summarizer.Summarize(ctx, prompt)
	if err != nil {
		x.logger.WithError(err).Error("summary generation failed")
		return summaryFailure
	}
	return summary
}
