package main

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/spf13/cobra"
)

type inviteView struct {
	OK              bool   `json:"ok"`
	Message         string `json:"message"`
	InviteRequestID int64  `json:"invite_request_id,omitempty"`
	AccountID       int64  `json:"account_id,omitempty"`
	TeamID          int64  `json:"team_id,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
}

var errInviteFailed = errors.New("invite failed")

func newInviteCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "invite EMAIL",
		Short: "Invite one email right away, without going through the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				orch, err := application.Orchestrator()
				if err != nil {
					return err
				}
				res, err := orch.Invite(ctx, args[0], code)
				if perr := printJSON(cmd.OutOrStdout(), inviteView{
					OK:              res.OK,
					Message:         res.Message,
					InviteRequestID: res.InviteRequestID,
					AccountID:       res.AccountID,
					TeamID:          res.TeamID,
					Duplicate:       res.Duplicate,
				}); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				if !res.OK {
					return errInviteFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "redeem code recorded with the invite")
	return cmd
}
