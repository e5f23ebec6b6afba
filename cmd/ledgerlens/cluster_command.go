package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/pkg/cluster"
)

func newClusterCommand(ctx *commandContext) *cobra.Command {
	var (
		biz    businessFlags
		k      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster monthly income and expenses and interpret the groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			months, err := store.MonthlyAggregates(cmd.Context())
			if err != nil {
				return err
			}
			if len(months) == 0 {
				return fmt.Errorf("ledger is empty; import operations first")
			}

			adv, err := ctx.newAdvisor(cmd.Context())
			if err != nil {
				return err
			}
			analysis, err := cluster.NewAnalyzer(adv, ctx.logger).Analyze(
				cmd.Context(), cluster.AggregateFeatures, cluster.FeatureRows(months), k, biz.context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, analysis)
			}

			rows := make([][]string, 0, len(months))
			for i, m := range months {
				rows = append(rows, []string{m.Period, strconv.Itoa(analysis.Labels[i])})
			}
			fmt.Fprintln(out, renderTable([]string{"Period", "Cluster"}, rows, []columnAlignment{alignLeft, alignRight}))

			summary := make([][]string, 0, len(analysis.Summary))
			for _, s := range analysis.Summary {
				row := []string{strconv.Itoa(s.Cluster), strconv.Itoa(s.Size), fmt.Sprintf("%.1f%%", s.Percentage)}
				for _, f := range cluster.AggregateFeatures {
					row = append(row, fmt.Sprintf("%.2f", s.Centroid[f]))
				}
				summary = append(summary, row)
			}
			headers := append([]string{"Cluster", "Size", "Share"}, cluster.AggregateFeatures...)
			aligns := []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
			fmt.Fprintln(out, renderTable(headers, summary, aligns))
			fmt.Fprintln(out)
			fmt.Fprintln(out, analysis.Interpretation)
			return nil
		},
	}
	biz.register(cmd)
	cmd.Flags().IntVarP(&k, "clusters", "k", 3, "Number of clusters")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the analysis as JSON")
	return cmd
}
