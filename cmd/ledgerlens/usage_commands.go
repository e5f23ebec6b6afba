package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/pkg/budget"
	"github.com/ledgerlens/ledgerlens/pkg/tracker"
)

func newUsageCommand(ctx *commandContext) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := ctx.openTracker()
			if err != nil {
				return err
			}
			summaries, err := tr.Summary(cmd.Context(), model)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No usage data found.")
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.Model,
					strconv.Itoa(s.RequestCount),
					strconv.Itoa(s.CachedCount),
					strconv.Itoa(s.TotalPrompt),
					strconv.Itoa(s.TotalCompletion),
					strconv.Itoa(s.TotalTokens),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Model", "Requests", "Cached", "Prompt", "Completion", "Total"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", tracker.AllModels, "filter by model")
	return cmd
}

func newBudgetCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect token budgets",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !ctx.config.Budget.Enabled {
				fmt.Fprintln(out, "Budget enforcement is disabled.")
				return nil
			}

			tr, err := ctx.openTracker()
			if err != nil {
				return err
			}
			statuses, err := budget.New(ctx.config.Budget.Policies, tr).Status(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No budget policies configured.")
				return nil
			}

			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				model := s.Policy.Model
				if model == "" {
					model = tracker.AllModels
				}
				rows = append(rows, []string{
					model,
					string(s.Policy.Period),
					strconv.FormatInt(s.Policy.MaxTokens, 10),
					strconv.FormatInt(s.Used, 10),
					strconv.FormatInt(s.Remaining, 10),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Model", "Period", "Max Tokens", "Used", "Remaining"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.AddCommand(statusCmd)
	return cmd
}
