package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/pkg/ledger"
	"github.com/ledgerlens/ledgerlens/pkg/models"
	"github.com/ledgerlens/ledgerlens/pkg/scenario"
)

type businessFlags struct {
	sector string
	region string
}

func (b *businessFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.sector, "sector", "", "Business sector used in prompts")
	cmd.Flags().StringVar(&b.region, "region", "", "Business region used in prompts")
}

func (b businessFlags) context() models.BusinessContext {
	return models.BusinessContext{Sector: b.sector, Region: b.region}
}

func newScenariosCommand(ctx *commandContext) *cobra.Command {
	var (
		biz      businessFlags
		revenue  string
		expenses string
		detailed bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Generate base, optimistic and pessimistic scenarios",
		Long:  "Generate scenarios from --revenue/--expenses, or from ledger totals when they are omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := ctx.snapshot(cmd, revenue, expenses)
			if err != nil {
				return err
			}
			adv, err := ctx.newAdvisor(cmd.Context())
			if err != nil {
				return err
			}
			gen := scenario.NewGenerator(adv, ctx.logger)

			set, err := gen.Generate(cmd.Context(), snap, biz.context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, set); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, renderScenarioSet(set))
			}

			if detailed {
				analysis, err := gen.DetailedAnalysis(cmd.Context(), set, biz.context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, analysis)
			}
			return nil
		},
	}
	biz.register(cmd)
	cmd.Flags().StringVar(&revenue, "revenue", "", "Current revenue in euros")
	cmd.Flags().StringVar(&expenses, "expenses", "", "Current expenses in euros")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Also request a detailed analysis of the scenarios")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print scenarios as JSON")
	return cmd
}

// snapshot uses explicit figures when both are given and ledger totals otherwise.
func (c *commandContext) snapshot(cmd *cobra.Command, revenue, expenses string) (scenario.FinancialSnapshot, error) {
	if revenue != "" || expenses != "" {
		rev, err := ledger.ParseAmount(revenue)
		if err != nil {
			return scenario.FinancialSnapshot{}, fmt.Errorf("--revenue: %w", err)
		}
		exp, err := ledger.ParseAmount(expenses)
		if err != nil {
			return scenario.FinancialSnapshot{}, fmt.Errorf("--expenses: %w", err)
		}
		return scenario.FinancialSnapshot{Revenue: rev, Expenses: exp}, nil
	}

	store, err := c.openLedger()
	if err != nil {
		return scenario.FinancialSnapshot{}, err
	}
	totals, err := store.Totals(cmd.Context(), ledger.Filter{})
	if err != nil {
		return scenario.FinancialSnapshot{}, err
	}
	if totals.Count == 0 {
		return scenario.FinancialSnapshot{}, fmt.Errorf("ledger is empty; pass --revenue and --expenses or import operations first")
	}
	return scenario.FinancialSnapshot{Revenue: totals.Income, Expenses: totals.Expenses}, nil
}

func newParseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a saved model response into scenarios",
		Long:  "Parse a model response (JSON or free text) read from a file or stdin and print the scenarios as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			raw, err := readInput(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			set, err := scenario.NewParser(ctx.logger).Parse(raw)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), set)
		},
	}
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var biz businessFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Ask for a financial opinion on the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			totals, err := store.Totals(cmd.Context(), ledger.Filter{})
			if err != nil {
				return err
			}
			if totals.Count == 0 {
				return fmt.Errorf("ledger is empty; import operations first")
			}
			months, err := store.MonthlyAggregates(cmd.Context())
			if err != nil {
				return err
			}

			adv, err := ctx.newAdvisor(cmd.Context())
			if err != nil {
				return err
			}
			opinion, err := adv.FinancialOpinion(cmd.Context(), map[string]any{
				"totales":        totals,
				"balance":        totals.Balance(),
				"meses":          months,
				"ultimo_periodo": lastPeriod(months),
			}, biz.context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), opinion)
			return nil
		},
	}
	biz.register(cmd)
	return cmd
}

func lastPeriod(months []models.PeriodAggregate) string {
	if len(months) == 0 {
		return ""
	}
	return months[len(months)-1].Period
}

func renderScenarioSet(set models.ScenarioSet) string {
	var b strings.Builder
	for _, name := range models.ScenarioNames {
		sc := set.Get(name)
		fmt.Fprintf(&b, "%s\n%s\n", strings.ToUpper(name), strings.TrimSpace(sc.Description))

		metrics := make([]string, 0, len(sc.Projections))
		for metric := range sc.Projections {
			metrics = append(metrics, metric)
		}
		slices.Sort(metrics)
		rows := make([][]string, 0, len(metrics))
		for _, metric := range metrics {
			value := decimal.NewFromFloat(sc.Projections[metric])
			rows = append(rows, []string{metric, strconv.FormatFloat(sc.Projections[metric], 'f', -1, 64), models.FormatEuros(value)})
		}
		if len(rows) > 0 {
			b.WriteString(renderTable([]string{"Metric", "Value", "Euros"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
			b.WriteString("\n")
		}
		for _, a := range sc.Assumptions {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
