package main

import (
	"context"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run job runners, the maintenance sweeper and the health server",
		Long: `Runs WORKER_CONCURRENCY job runners against the queue together with the
maintenance sweeper. /livez and /readyz are served on HEALTH_PORT.
Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				return application.RunWorker(ctx)
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass and print what it did",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				report, err := application.Sweeper().RunOnce(ctx)
				if perr := printJSON(cmd.OutOrStdout(), sweepView{
					SeatsReleased:    report.SeatsReleased,
					LeasesReclaimed:  report.LeasesReclaimed,
					AccountsExpired:  report.AccountsExpired,
					InvitesAbandoned: report.InvitesAbandoned,
					InvitesAccepted:  report.InvitesAccepted,
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

type sweepView struct {
	SeatsReleased    int64 `json:"seats_released"`
	LeasesReclaimed  int64 `json:"leases_reclaimed"`
	AccountsExpired  int   `json:"accounts_expired"`
	InvitesAbandoned int64 `json:"invites_abandoned"`
	InvitesAccepted  int   `json:"invites_accepted"`
}
