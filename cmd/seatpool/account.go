package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/service"
	"github.com/spf13/cobra"
)

type teamView struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name,omitempty"`
	Enabled    bool   `json:"enabled"`
	Default    bool   `json:"default"`
}

type accountView struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	InvalidReason  string     `json:"invalid_reason,omitempty"`
	SeatLimit      int        `json:"seat_limit"`
	FreeSeats      *int       `json:"free_seats,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Teams          []teamView `json:"teams,omitempty"`
}

func newAccountView(a domain.Account, teams []domain.Team) accountView {
	v := accountView{
		ID:             a.ID,
		Name:           a.Name,
		Status:         string(a.Status),
		InvalidReason:  a.InvalidReason,
		SeatLimit:      a.SeatLimit,
		TokenExpiresAt: a.TokenExpiresAt,
	}
	for _, t := range teams {
		v.Teams = append(v.Teams, teamView{
			ID:         t.ID,
			ExternalID: t.ExternalID,
			Name:       t.Name,
			Enabled:    t.Enabled,
			Default:    t.IsDefault,
		})
	}
	return v
}

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage provider accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newAccountAddCmd(),
		newAccountListCmd(),
		newAccountStatusCmd("disable", "Stop handing out seats from an account",
			func(ctx context.Context, s *service.AccountService, id int64) error { return s.DisableAccount(ctx, id) }),
		newAccountStatusCmd("activate", "Put a disabled or invalid account back into rotation",
			func(ctx context.Context, s *service.AccountService, id int64) error { return s.ActivateAccount(ctx, id) }),
		newAccountStatusCmd("delete", "Delete an account with its seats and teams",
			func(ctx context.Context, s *service.AccountService, id int64) error { return s.DeleteAccount(ctx, id) }),
	)
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		in          service.AccountInput
		teams       []string
		defaultTeam string
		expires     string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account with its seats and teams",
		Example: `  seatpool account add --name main --token "$TOKEN" --seats 5 \
    --team t-123:Engineering --team t-456:Support --default-team t-456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range teams {
				id, name, _ := strings.Cut(raw, ":")
				in.Teams = append(in.Teams, service.TeamInput{
					ExternalID: id,
					Name:       name,
					Default:    defaultTeam != "" && id == defaultTeam,
				})
			}
			if expires != "" {
				at, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("--expires: %w", err)
				}
				in.TokenExpiresAt = &at
			}

			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				a, created, err := application.Accounts().RegisterAccount(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), newAccountView(a, created))
			})
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "account name")
	cmd.Flags().StringVar(&in.Token, "token", "", "provider API token")
	cmd.Flags().IntVar(&in.SeatLimit, "seats", 0, "number of seats the account owns")
	cmd.Flags().StringArrayVar(&teams, "team", nil, "team as external-id[:name], repeatable")
	cmd.Flags().StringVar(&defaultTeam, "default-team", "", "external id of the default team (first team otherwise)")
	cmd.Flags().StringVar(&expires, "expires", "", "token expiry as RFC 3339 (read from a JWT token otherwise)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("seats")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with free seat counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				summaries, err := application.Accounts().ListAccounts(ctx)
				if err != nil {
					return err
				}
				views := make([]accountView, 0, len(summaries))
				for _, s := range summaries {
					v := newAccountView(s.Account, s.Teams)
					free := s.FreeSeats
					v.FreeSeats = &free
					views = append(views, v)
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
}

func newAccountStatusCmd(use, short string, fn func(context.Context, *service.AccountService, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ACCOUNT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				return fn(ctx, application.Accounts(), id)
			})
		},
	}
}
