package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/pkg/extract"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var (
		save   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract operations from statement text",
		Long:  "Extract operations from plain statement text read from a file or stdin. With --save the entries are added to the ledger.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			text, err := readInput(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			client, err := ctx.newLLMClient(cmd.Context())
			if err != nil {
				return err
			}
			adv, err := ctx.newAdvisor(cmd.Context())
			if err != nil {
				return err
			}
			res, err := extract.New(client, adv, ctx.logger).Extract(cmd.Context(), text)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(res.Entries))
				for _, e := range res.Entries {
					rows = append(rows, []string{e.Date, e.Concept, e.Entity, e.Kind, models.FormatEuros(e.Amount)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Fecha", "Concepto", "Entidad", "Tipo", "Importe"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				fmt.Fprintf(out, "Ingresos: %s  Gastos: %s  Balance: %s\n\n%s\n",
					models.FormatEuros(res.Totals.Income),
					models.FormatEuros(res.Totals.Expenses),
					models.FormatEuros(res.Totals.Balance()),
					res.Summary)
			}

			if !save {
				return nil
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			saved := 0
			for _, e := range res.Entries {
				op, err := e.Operation()
				if err != nil {
					ctx.logger.WithError(err).WithField("concepto", e.Concept).Warn("skipping extracted entry")
					continue
				}
				if _, err := store.Add(cmd.Context(), op); err != nil {
					return err
				}
				saved++
			}
			fmt.Fprintf(out, "Saved %d of %d entries to the ledger.\n", saved, len(res.Entries))
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Add the extracted entries to the ledger")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the extraction as JSON")
	return cmd
}
