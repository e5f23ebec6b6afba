package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newContextCommand(ctx *commandContext) *cobra.Command {
	var (
		biz  businessFlags
		show bool
	)

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Generate or show the saved company context",
		RunE: func(cmd *cobra.Command, args []string) error {
			adv, err := ctx.newAdvisor(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if show {
				saved := adv.SavedContext()
				if saved == "" {
					fmt.Fprintln(out, "No company context saved yet.")
					return nil
				}
				fmt.Fprintln(out, saved)
				return nil
			}
			if biz.sector == "" {
				return fmt.Errorf("--sector is required to generate a context")
			}
			text, err := adv.GenerateCompanyContext(cmd.Context(), biz.sector, biz.region)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}
	biz.register(cmd)
	cmd.Flags().BoolVar(&show, "show", false, "Print the saved context instead of generating a new one")
	return cmd
}
