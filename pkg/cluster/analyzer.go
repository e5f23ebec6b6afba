package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// Summary describes one cluster in the original units.
type Summary struct {
	Cluster    int                `json:"cluster"`
	Size       int                `json:"size"`
	Percentage float64            `json:"percentage"`
	Centroid   map[string]float64 `json:"centroid"`
	Min        map[string]float64 `json:"min_values"`
	Max        map[string]float64 `json:"max_values"`
	Mean       map[string]float64 `json:"mean_values"`
}

// Summarize reports size, share and per-feature statistics for each cluster.
func Summarize(features []string, rows [][]float64, res Result) []Summary {
	out := make([]Summary, len(res.Centroids))
	for c, centroid := range res.Centroids {
		s := Summary{
			Cluster:  c,
			Centroid: make(map[string]float64, len(features)),
			Min:      make(map[string]float64, len(features)),
			Max:      make(map[string]float64, len(features)),
			Mean:     make(map[string]float64, len(features)),
		}
		var members [][]float64
		for i, label := range res.Labels {
			if label == c {
				members = append(members, rows[i])
			}
		}
		s.Size = len(members)
		if len(rows) > 0 {
			s.Percentage = float64(s.Size) / float64(len(rows)) * 100
		}
		for j, name := range features {
			s.Centroid[name] = centroid[j]
			if len(members) == 0 {
				continue
			}
			col := make([]float64, len(members))
			for i, m := range members {
				col[i] = m[j]
			}
			s.Min[name] = floats.Min(col)
			s.Max[name] = floats.Max(col)
			s.Mean[name] = stat.Mean(col, nil)
		}
		out[c] = s
	}
	return out
}

// AggregateFeatures are the columns FeatureRows produces.
var AggregateFeatures = []string{"ingresos", "gastos", "margen"}

// FeatureRows turns monthly aggregates into clustering rows.
func FeatureRows(aggs []models.PeriodAggregate) [][]float64 {
	rows := make([][]float64, len(aggs))
	for i, a := range aggs {
		rows[i] = []float64{
			a.Income.InexactFloat64(),
			a.Expenses.InexactFloat64(),
			a.Margin().InexactFloat64(),
		}
	}
	return rows
}

// Interpreter asks the model for an opinion about data.
type Interpreter interface {
	FinancialOpinion(ctx context.Context, data any, biz models.BusinessContext) (string, error)
}

// Analysis is a clustering plus the model's reading of it.
type Analysis struct {
	Labels         []int     `json:"labels"`
	Summary        []Summary `json:"summary"`
	Interpretation string    `json:"interpretation"`
}

// Analyzer clusters period rows and interprets them.
type Analyzer struct {
	interpreter Interpreter
	seed        int64
	logger      logrus.FieldLogger
}

// NewAnalyzer returns an Analyzer using DefaultSeed.
func NewAnalyzer(interpreter Interpreter, logger logrus.FieldLogger) *Analyzer {
	return &Analyzer{
		interpreter: interpreter,
		seed:        DefaultSeed,
		logger:      logging.Component(logger, "cluster"),
	}
}

// Analyze clusters rows into k groups and asks for an interpretation that
// treats each row as a period of the same company.
func (a *Analyzer) Analyze(ctx context.Context, features []string, rows [][]float64, k int, biz models.BusinessContext) (Analysis, error) {
	for i, r := range rows {
		if len(r) != len(features) {
			return Analysis{}, fmt.Errorf("%w: row %d has %d values for %d features", ErrRaggedRows, i, len(r), len(features))
		}
	}
	res, err := KMeans(rows, k, a.seed)
	if err != nil {
		return Analysis{}, fmt.Errorf("cluster: %w", err)
	}
	summary := Summarize(features, rows, res)
	a.logger.WithFields(logrus.Fields{
		"rows":       len(rows),
		"k":          k,
		"iterations": res.Iterations,
	}).Info("clustering complete")

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return Analysis{}, fmt.Errorf("encode summary: %w", err)
	}
	prompt := fmt.Sprintf(`Analiza estos clusters de datos históricos de cobros y pagos de una empresa del sector %s en %s.
Cada punto de datos representa un período temporal diferente de la misma empresa.

Resumen de Clusters:
%s

Por favor proporciona:
1. Características distintivas de cada cluster, interpretándolos como diferentes períodos financieros de la empresa
2. Patrones temporales identificados en los cobros y pagos
3. Análisis de la estabilidad financiera basado en la distribución de los clusters
4. Posibles factores estacionales o cíclicos en los patrones de cobros y pagos
5. Recomendaciones para optimizar la gestión de cobros y pagos basadas en los patrones identificados`,
		biz.SectorOrDefault(), biz.RegionOrDefault(), data)

	interpretation, err := a.interpreter.FinancialOpinion(ctx, prompt, biz)
	if err != nil {
		return Analysis{}, fmt.Errorf("interpret clusters: %w", err)
	}
	return Analysis{Labels: res.Labels, Summary: summary, Interpretation: interpretation}, nil
}
