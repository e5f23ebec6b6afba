package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/pkg/ledger"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Record and inspect financial operations",
	}
	cmd.AddCommand(newLedgerAddCommand(ctx))
	cmd.AddCommand(newLedgerListCommand(ctx))
	cmd.AddCommand(newLedgerImportCommand(ctx))
	return cmd
}

func newLedgerAddCommand(ctx *commandContext) *cobra.Command {
	var (
		date    string
		concept string
		entity  string
		kind    string
		amount  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add one operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now()
			if strings.TrimSpace(date) != "" {
				parsed, err := time.Parse(ledger.DateLayout, strings.TrimSpace(date))
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				when = parsed
			}
			value, err := ledger.ParseAmount(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}

			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			id, err := store.Add(cmd.Context(), models.Operation{
				Date:    when,
				Concept: concept,
				Entity:  entity,
				Kind:    ledger.ParseKind(kind),
				Amount:  value,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operation %d recorded.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Operation date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&concept, "concept", "", "Concept")
	cmd.Flags().StringVar(&entity, "entity", "", "Counterparty")
	cmd.Flags().StringVar(&kind, "kind", "", "Ingreso or Gasto")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in euros")
	_ = cmd.MarkFlagRequired("concept")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var (
		filter ledger.Filter
		kind   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				filter.Kind = ledger.ParseKind(kind)
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			ops, err := store.History(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, ops)
			}
			if len(ops) == 0 {
				fmt.Fprintln(out, "No operations found.")
				return nil
			}
			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				rows = append(rows, []string{
					strconv.FormatInt(op.ID, 10),
					op.Date.Format(ledger.DateLayout),
					op.Concept,
					op.Entity,
					string(op.Kind),
					models.FormatEuros(op.Amount),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Fecha", "Concepto", "Entidad", "Tipo", "Importe"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			totals := ledger.Sum(ops)
			fmt.Fprintf(out, "Ingresos: %s  Gastos: %s  Balance: %s\n",
				models.FormatEuros(totals.Income),
				models.FormatEuros(totals.Expenses),
				models.FormatEuros(totals.Balance()))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Concept, "concept", "", "Filter by concept substring")
	cmd.Flags().StringVar(&filter.Entity, "entity", "", "Filter by entity substring")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (Ingreso or Gasto)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print operations as JSON")
	return cmd
}

func newLedgerImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import operations from CSV (" + strings.Join(ledger.CSVHeader, ",") + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer f.Close()

			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			n, err := store.ImportCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d operations.\n", n)
			return nil
		},
	}
}
