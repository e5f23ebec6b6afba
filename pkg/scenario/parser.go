// Package scenario turns model responses into base, optimistic and pessimistic
// projections, and builds the prompts that ask for them.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"

	"github.com/ledgerlens/ledgerlens/pkg/llm"
	"github.com/ledgerlens/ledgerlens/pkg/logging"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// ValidationError reports a structured response that lacks required scenarios
// or fields. Names are canonical: "pessimistic", "base.projections".
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return "scenario response: " + strings.Join(parts, "; ")
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// ParseRecoveryWarning is logged when a response is not a JSON object and
// the line scanner recovers what it can. It is never returned.
type ParseRecoveryWarning struct {
	Cause   error
	Snippet string
}

func (w ParseRecoveryWarning) String() string {
	return fmt.Sprintf("structured decode failed (%v), recovered with line scanner; response: %s", w.Cause, w.Snippet)
}

var (
	scenarioAliases = map[string][]string{
		models.ScenarioBase:        {"base"},
		models.ScenarioOptimistic:  {"optimistic", "optimista"},
		models.ScenarioPessimistic: {"pessimistic", "pesimista"},
	}

	fieldNames   = []string{"description", "projections", "assumptions"}
	fieldAliases = map[string][]string{
		"description": {"description", "descripcion", "descripción"},
		"projections": {"projections", "proyecciones"},
		"assumptions": {"assumptions", "supuestos"},
	}

	// MetricNames are the projection keys the line scanner recognizes.
	MetricNames = []string{"ingresos", "gastos", "beneficio", "margen", "revenue", "expenses", "profit", "margin"}

	markerPattern = regexp.MustCompile(
		`\b(?:escenario\s+(base|optimista|pesimista)|(base|optimistic|pessimistic)\s+scenario|scenario\s+(base|optimistic|pessimistic))\b`)
	numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

	markerNames = map[string]string{
		"base":        models.ScenarioBase,
		"optimista":   models.ScenarioOptimistic,
		"optimistic":  models.ScenarioOptimistic,
		"pesimista":   models.ScenarioPessimistic,
		"pessimistic": models.ScenarioPessimistic,
	}
)

// Parser decodes scenario responses.
type Parser struct {
	logger logrus.FieldLogger
}

// NewParser returns a Parser that logs recovery warnings to logger.
func NewParser(logger logrus.FieldLogger) *Parser {
	return &Parser{logger: logging.Component(logger, "scenario")}
}

// Parse is NewParser(nil).Parse.
func Parse(raw string) (models.ScenarioSet, error) {
	return NewParser(nil).Parse(raw)
}

// Parse decodes raw as a JSON scenario object, falling back to the line
// scanner when raw as a whole (or a single fenced block) is not a JSON
// object. JSON embedded in prose is left to the scanner. Only a JSON object that lacks
// required content produces an error, always a *ValidationError.
func (p *Parser) Parse(raw string) (models.ScenarioSet, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		p.logger.WithField("warning", ParseRecoveryWarning{Cause: err, Snippet: llm.Snippet(raw)}.String()).
			Warn("scenario response not structured, using line scanner")
		return ScanLines(raw), nil
	}
	return fromObject(obj)
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := llm.DecodeStrictJSON(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	return obj, nil
}

// lookup finds the first alias present in obj, comparing folded keys.
func lookup(obj map[string]json.RawMessage, aliases []string) (json.RawMessage, bool) {
	fold := cases.Fold()
	for _, alias := range aliases {
		if v, ok := obj[alias]; ok {
			return v, true
		}
	}
	for key, v := range obj {
		folded := fold.String(strings.TrimSpace(key))
		for _, alias := range aliases {
			if folded == alias {
				return v, true
			}
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func fromObject(obj map[string]json.RawMessage) (models.ScenarioSet, error) {
	set := models.NewScenarioSet()
	verr := &ValidationError{}

	for _, name := range models.ScenarioNames {
		raw, ok := lookup(obj, scenarioAliases[name])
		if !ok || isNull(raw) {
			verr.Missing = append(verr.Missing, name)
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			verr.Invalid = append(verr.Invalid, name)
			continue
		}
		decodeScenario(name, fields, set.Get(name), verr)
	}

	if !verr.empty() {
		return models.ScenarioSet{}, verr
	}
	return set, nil
}

func decodeScenario(name string, fields map[string]json.RawMessage, sc *models.Scenario, verr *ValidationError) {
	for _, field := range fieldNames {
		path := name + "." + field
		raw, ok := lookup(fields, fieldAliases[field])
		if !ok || isNull(raw) {
			verr.Missing = append(verr.Missing, path)
			continue
		}
		switch field {
		case "description":
			if err := json.Unmarshal(raw, &sc.Description); err != nil {
				verr.Invalid = append(verr.Invalid, path)
			}
		case "projections":
			projections, bad := decodeProjections(raw)
			if projections == nil {
				verr.Invalid = append(verr.Invalid, path)
				continue
			}
			for _, key := range bad {
				verr.Invalid = append(verr.Invalid, path+"."+key)
			}
			sc.Projections = projections
		case "assumptions":
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				verr.Invalid = append(verr.Invalid, path)
				continue
			}
			for i, item := range items {
				var s string
				if err := json.Unmarshal(item, &s); err != nil {
					verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s[%d]", path, i))
					continue
				}
				sc.Assumptions = append(sc.Assumptions, s)
			}
		}
	}
}

// decodeProjections returns nil when raw is not an object, plus the keys whose
// values are not numeric.
func decodeProjections(raw json.RawMessage) (map[string]float64, []string) {
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil || values == nil {
		return nil, nil
	}
	out := make(map[string]float64, len(values))
	var bad []string
	for key, v := range values {
		var n float64
		if err := json.Unmarshal(v, &n); err == nil {
			out[key] = n
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if n, ok := ExtractNumber(s); ok {
				out[key] = n
				continue
			}
		}
		bad = append(bad, key)
	}
	slices.Sort(bad)
	return out, bad
}

// ExtractNumber returns the first numeric token in s after thousands
// separators (commas) are removed.
func ExtractNumber(s string) (float64, bool) {
	token := numberPattern.FindString(strings.ReplaceAll(s, ",", ""))
	if token == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type section int

const (
	sectionDescription section = iota
	sectionAssumptions
)

// ScanLines recovers scenarios from free text. It never fails: unrecognized
// lines are ignored and missing scenarios stay empty.
func ScanLines(raw string) models.ScenarioSet {
	set := models.NewScenarioSet()
	fold := cases.Fold()

	var current *models.Scenario
	sec := sectionDescription

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		folded := fold.String(line)

		name, isMarker := scenarioMarker(folded)
		switch {
		case isMarker:
			current = set.Get(name)
			sec = sectionDescription
		case current == nil:
			continue
		case strings.Contains(folded, "supuestos") || strings.Contains(folded, "assumptions"):
			sec = sectionAssumptions
		case sec == sectionDescription:
			current.Description += line + "\n"
		default:
			if item, ok := bulletItem(line); ok {
				current.Assumptions = append(current.Assumptions, item)
			}
		}

		// Marker and section lines still carry metrics.
		for _, metric := range MetricNames {
			if !strings.Contains(folded, metric) {
				continue
			}
			if n, ok := ExtractNumber(line); ok {
				current.Projections[metric] = n
			}
		}
	}
	return set
}

func scenarioMarker(folded string) (string, bool) {
	m := markerPattern.FindStringSubmatch(folded)
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if g != "" {
			return markerNames[g], true
		}
	}
	return "", false
}

func bulletItem(line string) (string, bool) {
	for _, marker := range []string{"-", "*", "•"} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			item := strings.TrimSpace(rest)
			return item, item != ""
		}
	}
	return "", false
}
