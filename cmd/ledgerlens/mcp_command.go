package main

import (
	"github.com/spf13/cobra"

	"github.com/ledgerlens/ledgerlens/pkg/mcp"
	"github.com/ledgerlens/ledgerlens/pkg/scenario"
)

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve LedgerLens tools over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := ctx.openTracker()
			if err != nil {
				return err
			}
			svc := mcp.Services{
				Tracker: tr,
				Parser:  scenario.NewParser(ctx.logger),
			}
			if enforcer := ctx.openEnforcer(tr); enforcer != nil {
				svc.Budget = enforcer
			}
			store, err := ctx.openCache(cmd.Context())
			if err != nil {
				ctx.logger.WithError(err).Warn("response cache unavailable")
			} else if store != nil {
				svc.Cache = store
			}
			if ctx.config.Validate() == nil {
				adv, err := ctx.newAdvisor(cmd.Context())
				if err != nil {
					return err
				}
				svc.Generator = scenario.NewGenerator(adv, ctx.logger)
			} else {
				ctx.logger.Warn("llm not configured, ledgerlens_generate_scenarios disabled")
			}

			return mcp.New(svc, version, ctx.logger).Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
