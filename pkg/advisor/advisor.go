// Package advisor builds the Spanish-language analyst prompts LedgerLens sends
// to the model and keeps the saved company context between runs.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/search"
)

// Completer is the model client.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage, temperature float64) (string, error)
}

// Searcher looks up sector background on the web.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

const (
	opinionTemperature = 0.7
	summaryTemperature = 0.3
	lockRetryDelay     = 50 * time.Millisecond
)

// Advisor asks the model for context, opinions, scenarios and summaries.
type Advisor struct {
	llm         Completer
	search      Searcher
	contextFile string
	logger      logrus.FieldLogger
}

// New returns an Advisor. searcher may be nil, in which case company context
// is generated without web results.
func New(llm Completer, searcher Searcher, contextFile string, logger logrus.FieldLogger) *Advisor {
	return &Advisor{
		llm:         llm,
		search:      searcher,
		contextFile: contextFile,
		logger:      logging.Component(logger, "advisor"),
	}
}

// GenerateCompanyContext researches the sector, asks the model for a context
// document and replaces the saved context file with it.
func (a *Advisor) GenerateCompanyContext(ctx context.Context, sector, region string) (string, error) {
	if dir := filepath.Dir(a.contextFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create context dir: %w", err)
		}
	}

	lock := flock.New(a.contextFile + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", fmt.Errorf("lock context file: %w", err)
	}
	if !locked {
		return "", errors.New("lock context file: not acquired")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.logger.WithError(err).Warn("release context lock")
		}
	}()

	if err := os.Remove(a.contextFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove previous context: %w", err)
	}

	results := a.searchSector(ctx, sector, region)

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Eres un experto analista financiero. Genera un contexto detallado para proyecciones financieras basado en la información proporcionada."},
		{Role: models.RoleUser, Content: fmt.Sprintf(`Analiza la siguiente información sobre el sector %s en %s y genera un contexto detallado para proyecciones financieras:

%s

El contexto debe incluir:
1. Situación actual del sector en la región
2. Tendencias principales
3. Factores de riesgo
4. Oportunidades de crecimiento
5. Indicadores clave a monitorear`, sector, region, results)},
	}

	text, err := a.llm.Complete(ctx, messages, opinionTemperature)
	if err != nil {
		return "", fmt.Errorf("generate company context: %w", err)
	}

	if err := os.WriteFile(a.contextFile, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write context file: %w", err)
	}

	a.logger.WithFields(logrus.Fields{"sector": sector, "region": region}).Info("company context saved")
	return text, nil
}

// searchSector returns the results as indented JSON, or "" when search is
// unavailable.
func (a *Advisor) searchSector(ctx context.Context, sector, region string) string {
	if a.search == nil {
		return ""
	}
	results, err := a.search.Search(ctx, search.SectorQuery(sector, region))
	if err != nil {
		a.logger.WithError(err).Warn("sector search failed")
		return ""
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// SavedContext returns the saved company context, or "" if there is none.
func (a *Advisor) SavedContext() string {
	data, err := os.ReadFile(a.contextFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.WithError(err).Warn("read context file")
		}
		return ""
	}
	return string(data)
}

// FinancialOpinion asks for concrete recommendations over data, which is
// rendered as indented JSON.
func (a *Advisor) FinancialOpinion(ctx context.Context, data any, biz models.BusinessContext) (string, error) {
	payload, err := renderData(data)
	if err != nil {
		return "", fmt.Errorf("financial opinion: %w", err)
	}
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Eres un experto en análisis financiero.\n\nContexto actual del sector:\n" + a.SavedContext()},
		{Role: models.RoleUser, Content: fmt.Sprintf(`Sector: %s
Región: %s

Analiza estos datos y proporciona recomendaciones concretas:
%s`, biz.SectorOrDefault(), biz.RegionOrDefault(), payload)},
	}
	out, err := a.llm.Complete(ctx, messages, opinionTemperature)
	if err != nil {
		return "", fmt.Errorf("financial opinion: %w", err)
	}
	return out, nil
}

// ScenarioNarrative asks for scenarios over financialData in the light of the
// saved context. The answer is returned unparsed.
func (a *Advisor) ScenarioNarrative(ctx context.Context, financialData string, biz models.BusinessContext) (string, error) {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Eres un experto analista financiero especializado en generar escenarios detallados.\n\nContexto actual del sector:\n" + a.SavedContext()},
		{Role: models.RoleUser, Content: fmt.Sprintf(`Analiza, considerando lo expuesto en el contexto anterior, la siguiente situación para una empresa del sector %s en %s:

%s`, biz.SectorOrDefault(), biz.RegionOrDefault(), financialData)},
	}
	out, err := a.llm.Complete(ctx, messages, opinionTemperature)
	if err != nil {
		return "", fmt.Errorf("scenario narrative: %w", err)
	}
	return out, nil
}

// Summarize asks for a short executive summary of prompt.
func (a *Advisor) Summarize(ctx context.Context, prompt string) (string, error) {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "Eres un experto en análisis financiero. Genera resúmenes concisos y ejecutivos."},
		{Role: models.RoleUser, Content: strings.TrimSpace(prompt)},
	}
	out, err := a.llm.Complete(ctx, messages, summaryTemperature)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

func renderData(data any) (string, error) {
	switch v := data.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Indent(&buf, v, "", "  "); err != nil {
			return string(v), nil
		}
		return buf.String(), nil
	default:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode data: %w", err)
		}
		return string(out), nil
	}
}
