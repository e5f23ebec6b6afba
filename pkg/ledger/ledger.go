// Package ledger persists income and expense operations in SQLite and derives
// the totals and monthly aggregates used by analysis.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// DateLayout is the storage and CSV format of operation dates.
const DateLayout = "2006-01-02"

// ErrInvalidOperation is returned for operations that cannot be stored.
var ErrInvalidOperation = errors.New("invalid operation")

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fecha TEXT NOT NULL,
	concepto TEXT NOT NULL,
	entidad TEXT NOT NULL DEFAULT '',
	tipo TEXT NOT NULL CHECK(tipo IN ('Ingreso', 'Gasto')),
	importe TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_operations_fecha ON operations(fecha);
CREATE INDEX IF NOT EXISTS idx_operations_tipo ON operations(tipo);
CREATE INDEX IF NOT EXISTS idx_operations_concepto ON operations(concepto);
CREATE INDEX IF NOT EXISTS idx_operations_entidad ON operations(entidad);
`

// Filter narrows History and Totals. Concept and Entity match substrings.
type Filter struct {
	Concept string
	Entity  string
	Kind    models.OperationKind
}

// Totals sums income and expenses.
type Totals struct {
	Income   decimal.Decimal `json:"ingresos"`
	Expenses decimal.Decimal `json:"gastos"`
	Count    int             `json:"operaciones"`
}

// Balance is income minus expenses.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expenses)
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger in dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(createOperationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &Store{db: db}, nil
}

// Validate reports why op cannot be stored.
func Validate(op models.Operation) error {
	switch {
	case op.Date.IsZero():
		return fmt.Errorf("%w: fecha is required", ErrInvalidOperation)
	case strings.TrimSpace(op.Concept) == "":
		return fmt.Errorf("%w: concepto is required", ErrInvalidOperation)
	case !op.Kind.Valid():
		return fmt.Errorf("%w: tipo must be %s or %s, got %q", ErrInvalidOperation, models.KindIncome, models.KindExpense, op.Kind)
	case op.Amount.IsNegative():
		return fmt.Errorf("%w: importe must not be negative", ErrInvalidOperation)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, op models.Operation) (int64, error) {
	if err := Validate(op); err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO operations (fecha, concepto, entidad, tipo, importe, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		op.Date.Format(DateLayout),
		strings.TrimSpace(op.Concept),
		strings.TrimSpace(op.Entity),
		string(op.Kind),
		op.Amount.String(),
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert operation: %w", err)
	}
	return res.LastInsertId()
}

// Add stores op and returns its id.
func (s *Store) Add(ctx context.Context, op models.Operation) (int64, error) {
	return insert(ctx, s.db, op)
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Concept != "" {
		clauses = append(clauses, "concepto LIKE ?")
		args = append(args, "%"+f.Concept+"%")
	}
	if f.Entity != "" {
		clauses = append(clauses, "entidad LIKE ?")
		args = append(args, "%"+f.Entity+"%")
	}
	if f.Kind != "" {
		clauses = append(clauses, "tipo = ?")
		args = append(args, string(f.Kind))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// History returns operations matching f, newest first.
func (s *Store) History(ctx context.Context, f Filter) ([]models.Operation, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fecha, concepto, entidad, tipo, importe, created_at FROM operations`+where+
			` ORDER BY fecha DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(rows *sql.Rows) (models.Operation, error) {
	var op models.Operation
	var fecha, kind, amount string
	if err := rows.Scan(&op.ID, &fecha, &op.Concept, &op.Entity, &kind, &amount, &op.CreatedAt); err != nil {
		return op, fmt.Errorf("scan operation: %w", err)
	}
	date, err := time.Parse(DateLayout, fecha)
	if err != nil {
		return op, fmt.Errorf("operation %d: fecha: %w", op.ID, err)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return op, fmt.Errorf("operation %d: importe: %w", op.ID, err)
	}
	op.Date = date
	op.Kind = models.OperationKind(kind)
	op.Amount = value
	return op, nil
}

// Totals sums the operations matching f.
func (s *Store) Totals(ctx context.Context, f Filter) (Totals, error) {
	ops, err := s.History(ctx, f)
	if err != nil {
		return Totals{}, err
	}
	return Sum(ops), nil
}

// Sum totals ops by kind.
func Sum(ops []models.Operation) Totals {
	t := Totals{Income: decimal.Zero, Expenses: decimal.Zero}
	for _, op := range ops {
		switch op.Kind {
		case models.KindIncome:
			t.Income = t.Income.Add(op.Amount)
		case models.KindExpense:
			t.Expenses = t.Expenses.Add(op.Amount)
		}
		t.Count++
	}
	return t
}

// MonthlyAggregates returns per-month income and expenses, oldest first.
func (s *Store) MonthlyAggregates(ctx context.Context) ([]models.PeriodAggregate, error) {
	ops, err := s.History(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	byPeriod := map[string]*models.PeriodAggregate{}
	var periods []string
	// History is newest first; walk backwards so periods come out ascending.
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		period := op.Date.Format("2006-01")
		agg, ok := byPeriod[period]
		if !ok {
			agg = &models.PeriodAggregate{Period: period, Income: decimal.Zero, Expenses: decimal.Zero}
			byPeriod[period] = agg
			periods = append(periods, period)
		}
		switch op.Kind {
		case models.KindIncome:
			agg.Income = agg.Income.Add(op.Amount)
		case models.KindExpense:
			agg.Expenses = agg.Expenses.Add(op.Amount)
		}
	}

	out := make([]models.PeriodAggregate, 0, len(periods))
	for _, p := range periods {
		out = append(out, *byPeriod[p])
	}
	return out, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
