package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// CSVHeader lists the columns ImportCSV requires, in any order.
var CSVHeader = []string{"fecha", "concepto", "entidad", "tipo", "importe"}

// ImportCSV stores every row of r in one transaction. Nothing is stored if
// any row is invalid; the error names the offending line.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("import csv: empty input")
	}
	if err != nil {
		return 0, fmt.Errorf("import csv: header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return 0, fmt.Errorf("import csv: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import csv: begin: %w", err)
	}
	defer tx.Rollback()

	n := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("import csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		op, err := parseRecord(record, cols)
		if err != nil {
			return 0, fmt.Errorf("import csv: line %d: %w", line, err)
		}
		if _, err := insert(ctx, tx, op); err != nil {
			return 0, fmt.Errorf("import csv: line %d: %w", line, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import csv: commit: %w", err)
	}
	return n, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	var missing []string
	for _, name := range CSVHeader {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header missing %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRecord(record []string, cols map[string]int) (models.Operation, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[cols[name]])
	}

	date, err := time.Parse(DateLayout, field("fecha"))
	if err != nil {
		return models.Operation{}, fmt.Errorf("%w: fecha %q is not YYYY-MM-DD", ErrInvalidOperation, field("fecha"))
	}
	amount, err := ParseAmount(field("importe"))
	if err != nil {
		return models.Operation{}, fmt.Errorf("%w: importe %q", ErrInvalidOperation, field("importe"))
	}
	return models.Operation{
		Date:    date,
		Concept: field("concepto"),
		Entity:  field("entidad"),
		Kind:    ParseKind(field("tipo")),
		Amount:  amount,
	}, nil
}

// ParseKind normalizes "ingreso"/"GASTO" to the stored kinds. Unknown values
// are returned unchanged and fail validation.
func ParseKind(s string) models.OperationKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ingreso", "income":
		return models.KindIncome
	case "gasto", "expense":
		return models.KindExpense
	}
	return models.OperationKind(s)
}

// ParseAmount accepts "1234.56", "1,234.56", "1.234,56" and "1234,56". A lone
// comma followed by exactly three digits, or repeated commas, group thousands.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "€"))
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0 && (strings.Count(s, ",") > 1 || len(s)-comma-1 == 3):
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}
