package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind classifies a ledger operation.
type OperationKind string

const (
	KindIncome  OperationKind = "Ingreso"
	KindExpense OperationKind = "Gasto"
)

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// Operation is a single financial movement in the ledger.
type Operation struct {
	ID        int64           `json:"id"`
	Date      time.Time       `json:"fecha"`
	Concept   string          `json:"concepto"`
	Entity    string          `json:"entidad"`
	Kind      OperationKind   `json:"tipo"`
	Amount    decimal.Decimal `json:"importe"`
	CreatedAt time.Time       `json:"created_at"`
}

// PeriodAggregate summarizes one calendar month of operations.
type PeriodAggregate struct {
	Period   string          `json:"period"` // YYYY-MM
	Income   decimal.Decimal `json:"ingresos"`
	Expenses decimal.Decimal `json:"gastos"`
}

// Margin is income minus expenses.
func (p PeriodAggregate) Margin() decimal.Decimal {
	return p.Income.Sub(p.Expenses)
}

// BusinessContext describes the company a prompt is about.
type BusinessContext struct {
	Sector string `json:"sector"`
	Region string `json:"region"`
}

// SectorOrDefault returns the sector or the placeholder used in prompts.
func (b BusinessContext) SectorOrDefault() string {
	if b.Sector == "" {
		return "No especificado"
	}
	return b.Sector
}

// RegionOrDefault returns the region or the placeholder used in prompts.
func (b BusinessContext) RegionOrDefault() string {
	if b.Region == "" {
		return "No especificada"
	}
	return b.Region
}
