package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type jobView struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Actor        string          `json:"actor,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	LastError    string          `json:"last_error,omitempty"`
	LeaseOwner   string          `json:"lease_owner,omitempty"`
	VisibleUntil *time.Time      `json:"visible_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func newJobView(j domain.Job) jobView {
	return jobView{
		ID:           j.ID,
		Type:         string(j.Type),
		Status:       string(j.Status),
		Payload:      json.RawMessage(j.Payload),
		Actor:        j.Actor,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		SuccessCount: j.SuccessCount,
		FailedCount:  j.FailedCount,
		LastError:    j.LastError,
		LeaseOwner:   j.LeaseOwner,
		VisibleUntil: j.VisibleUntil,
		CreatedAt:    j.CreatedAt,
		FinishedAt:   j.FinishedAt,
	}
}

func newEnqueueCmd() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a bulk job for the workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "who asked for the job")

	enqueue := func(cmd *cobra.Command, spec domain.JobSpec) error {
		return withApp(cmd, func(ctx context.Context, application *app.Application) error {
			job, err := application.Jobs().Enqueue(ctx, spec, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newJobView(job))
		})
	}

	idsCmd := func(use, short string, build func(ids []int64) domain.JobSpec) *cobra.Command {
		return &cobra.Command{
			Use:   use + " INVITE_REQUEST_ID...",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return enqueue(cmd, build(ids))
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "invite EMAIL...",
			Short: "Invite a batch of emails",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return enqueue(cmd, domain.InviteUsers{Emails: args})
			},
		},
		idsCmd("resend", "Resend pending invites", func(ids []int64) domain.JobSpec {
			return domain.ResendUsers{InviteIDs: ids}
		}),
		idsCmd("cancel", "Cancel pending invites and free their seats", func(ids []int64) domain.JobSpec {
			return domain.CancelUsers{InviteIDs: ids}
		}),
		idsCmd("remove", "Remove members and free their seats", func(ids []int64) domain.JobSpec {
			return domain.RemoveUsers{InviteIDs: ids}
		}),
		&cobra.Command{
			Use:   "sync ACCOUNT_ID...",
			Short: "Reconcile accepted invites against the provider's member list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return enqueue(cmd, domain.SyncAccounts{AccountIDs: ids})
			},
		},
	)
	return cmd
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				jobs, err := application.Jobs().ListJobs(ctx, limit)
				if err != nil {
					return err
				}
				views := make([]jobView, 0, len(jobs))
				for _, j := range jobs {
					views = append(views, newJobView(j))
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")

	get := &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, application *app.Application) error {
				job, err := application.Jobs().GetJob(ctx, ids[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), newJobView(job))
			})
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
