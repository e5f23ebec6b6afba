package models

// Scenario names in canonical order.
const (
	ScenarioBase        = "base"
	ScenarioOptimistic  = "optimistic"
	ScenarioPessimistic = "pessimistic"
)

// ScenarioNames lists the three scenarios every ScenarioSet carries.
var ScenarioNames = []string{ScenarioBase, ScenarioOptimistic, ScenarioPessimistic}

// Scenario is one projected business outcome.
type Scenario struct {
	Description string             `json:"description"`
	Projections map[string]float64 `json:"projections"`
	Assumptions []string           `json:"assumptions"`
}

// NewScenario returns a Scenario with empty, non-nil collections.
func NewScenario() Scenario {
	return Scenario{
		Projections: map[string]float64{},
		Assumptions: []string{},
	}
}

// ScenarioSet holds the base, optimistic and pessimistic projections.
type ScenarioSet struct {
	Base        Scenario `json:"base"`
	Optimistic  Scenario `json:"optimistic"`
	Pessimistic Scenario `json:"pessimistic"`
}

// NewScenarioSet returns a set whose three scenarios are empty.
func NewScenarioSet() ScenarioSet {
	return ScenarioSet{
		Base:        NewScenario(),
		Optimistic:  NewScenario(),
		Pessimistic: NewScenario(),
	}
}

// Get returns a pointer to the named scenario, or nil for unknown names.
func (s *ScenarioSet) Get(name string) *Scenario {
	switch name {
	case ScenarioBase:
		return &s.Base
	case ScenarioOptimistic:
		return &s.Optimistic
	case ScenarioPessimistic:
		return &s.Pessimistic
	}
	return nil
}
