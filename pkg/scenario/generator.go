package scenario

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// Advisor asks the model for scenario text and opinions.
type Advisor interface {
	ScenarioNarrative(ctx context.Context, financialData string, biz models.BusinessContext) (string, error)
	FinancialOpinion(ctx context.Context, data any, biz models.BusinessContext) (string, error)
}

// FinancialSnapshot is the current position scenarios are projected from.
type FinancialSnapshot struct {
	Revenue  decimal.Decimal `json:"ingresos"`
	Expenses decimal.Decimal `json:"gastos"`
}

// Margin is revenue minus expenses.
func (s FinancialSnapshot) Margin() decimal.Decimal {
	return s.Revenue.Sub(s.Expenses)
}

// Generator produces scenario sets for a snapshot.
type Generator struct {
	advisor Advisor
	parser  *Parser
	logger  logrus.FieldLogger
}

// NewGenerator returns a Generator backed by advisor.
func NewGenerator(advisor Advisor, logger logrus.FieldLogger) *Generator {
	return &Generator{
		advisor: advisor,
		parser:  NewParser(logger),
		logger:  logging.Component(logger, "scenario"),
	}
}

// Generate asks for base, optimistic and pessimistic projections of snap.
func (g *Generator) Generate(ctx context.Context, snap FinancialSnapshot, biz models.BusinessContext) (models.ScenarioSet, error) {
	raw, err := g.advisor.ScenarioNarrative(ctx, FormatFinancialData(snap), biz)
	if err != nil {
		return models.ScenarioSet{}, fmt.Errorf("generate scenarios: %w", err)
	}
	set, err := g.parser.Parse(raw)
	if err != nil {
		g.logger.WithError(err).Error("scenario response failed validation")
		return models.ScenarioSet{}, fmt.Errorf("generate scenarios: %w", err)
	}
	return set, nil
}

// DetailedAnalysis asks for recommendations over a generated set.
func (g *Generator) DetailedAnalysis(ctx context.Context, set models.ScenarioSet, biz models.BusinessContext) (string, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode scenarios: %w", err)
	}
	opinion, err := g.advisor.FinancialOpinion(ctx, json.RawMessage(data), biz)
	if err != nil {
		return "", fmt.Errorf("detailed analysis: %w", err)
	}
	return opinion, nil
}

// FormatFinancialData builds the prompt that requests structured scenarios.
func FormatFinancialData(snap FinancialSnapshot) string {
	return fmt.Sprintf(`Por favor, analiza la siguiente situación financiera y genera tres escenarios (base, optimista y pesimista) con el siguiente formato estructurado:

Datos Actuales:
- Ingresos: %s
- Gastos: %s
- Margen: %s

Te pido que tengas en cuenta:
1. Las proyecciones tienen que tener lógica con los datos actuales.
2. La proyección pesimista debe reflejar cómo se ven afectados ingresos y gastos si se cumplen los escenarios negativos para el sector y la región de referencia.
3. La proyección optimista debe reflejar cómo se ven afectados ingresos y gastos si se cumplen los escenarios positivos para el sector y la región de referencia.
4. El escenario pesimista debe ofrecer un margen menor que el base, y éste menor que el optimista.

Para cada escenario, incluye:
1. Una descripción detallada
2. Proyecciones numéricas de ingresos, gastos, beneficio y margen
3. Lista de supuestos clave

Responde únicamente en formato JSON con esta estructura:
{
  "base": {
    "descripcion": "",
    "proyecciones": {"ingresos": 0, "gastos": 0, "beneficio": 0, "margen": 0},
    "supuestos": []
  },
  "optimista": {...},
  "pesimista": {...}
}`,
		models.FormatEuros(snap.Revenue),
		models.FormatEuros(snap.Expenses),
		models.FormatEuros(snap.Margin()),
	)
}
