package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/idx"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

// finalizeTimeout bounds the completion write, which runs even after the
// worker's context was cancelled.
const finalizeTimeout = 30 * time.Second

// JobRunner leases jobs one at a time and runs them item by item.
type JobRunner struct {
	Store        store.Store
	Ledger       store.Ledger
	Orchestrator *InviteOrchestrator
	Reconciler   *Reconciler
	Settings     settings.Settings
	Logger       *slog.Logger

	WorkerID          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Now               func() time.Time
}

func NewJobRunner(
	st store.Store,
	ledger store.Ledger,
	orchestrator *InviteOrchestrator,
	reconciler *Reconciler,
	cfg settings.Settings,
	logger *slog.Logger,
) *JobRunner {
	if ledger == nil {
		ledger = st
	}
	cfg = cfg.Normalize()
	return &JobRunner{
		Store:             st,
		Ledger:            ledger,
		Orchestrator:      orchestrator,
		Reconciler:        reconciler,
		Settings:          cfg,
		Logger:            logger,
		WorkerID:          idx.WithPrefix("worker"),
		PollInterval:      time.Second,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Now:               time.Now,
	}
}

// Run polls for jobs until ctx is done.
func (r *JobRunner) Run(ctx context.Context) error {
	log := r.logger().With(slog.String("worker_id", r.WorkerID))
	log.Info("job runner started", slog.Duration("poll_interval", r.pollInterval()))

	for {
		processed, err := r.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("job processing failed", slog.Any("error", err))
		}
		if ctx.Err() != nil {
			log.Info("job runner stopped")
			return nil
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("job runner stopped")
			return nil
		case <-time.After(r.pollInterval()):
		}
	}
}

// ProcessOne leases one job and runs it. It reports false when there was
// nothing to lease. Once a job is leased it always gets a completion write,
// whether the handler returns, fails or panics.
func (r *JobRunner) ProcessOne(ctx context.Context) (processed bool, err error) {
	job, err := r.Store.Jobs().LeaseJob(ctx, r.WorkerID, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lease job: %w", err)
	}

	log := r.logger().With(
		slog.Int64("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("worker_id", r.WorkerID),
		slog.Int("attempt", job.Attempts+1),
	)
	ctx = slogx.WithContext(ctx, log)
	log.Info("job leased")

	runCtx, cancel := context.WithCancelCause(ctx)
	heartbeatDone := make(chan struct{})
	go r.heartbeat(runCtx, job, cancel, heartbeatDone)

	outcome := domain.JobOutcome{Crashed: true, LastError: "job handler did not return"}
	defer func() {
		if rec := recover(); rec != nil {
			outcome = domain.JobOutcome{Crashed: true, LastError: fmt.Sprintf("panic: %v", rec)}
			log.Error("job handler panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
		cancel(nil)
		<-heartbeatDone

		processed, err = true, r.complete(ctx, job, outcome)
	}()

	outcome = r.execute(runCtx, job)
	return true, nil
}

// execute dispatches on the job's spec. Items run independently: one
// failure is counted and the loop moves on.
func (r *JobRunner) execute(ctx context.Context, job domain.Job) domain.JobOutcome {
	spec, err := domain.DecodeJobSpec(job.Type, job.Payload)
	if err != nil {
		return domain.JobOutcome{Crashed: true, LastError: err.Error()}
	}

	switch s := spec.(type) {
	case domain.InviteUsers:
		return eachItem(ctx, s.Emails, r.invite)
	case domain.ResendUsers:
		return eachItem(ctx, s.InviteIDs, r.resend)
	case domain.CancelUsers:
		return eachItem(ctx, s.InviteIDs, r.cancel)
	case domain.RemoveUsers:
		return eachItem(ctx, s.InviteIDs, r.remove)
	case domain.SyncAccounts:
		return eachItem(ctx, s.AccountIDs, r.syncAccount)
	default:
		return domain.JobOutcome{Crashed: true, LastError: fmt.Sprintf("%v: %T", domain.ErrUnknownJobType, spec)}
	}
}

func (r *JobRunner) invite(ctx context.Context, email string) error {
	_, err := r.Orchestrator.Invite(ctx, email, "")
	return err
}

func (r *JobRunner) resend(ctx context.Context, inviteRequestID int64) error {
	ir, err := r.inviteRequest(ctx, inviteRequestID)
	if err != nil {
		return err
	}
	return r.Orchestrator.Resend(ctx, ir.TeamID, ir.Email)
}

// cancel and remove treat a missing seat as done, so a job that runs twice
// does not fail the second time.
func (r *JobRunner) cancel(ctx context.Context, inviteRequestID int64) error {
	ir, err := r.inviteRequest(ctx, inviteRequestID)
	if err != nil {
		return err
	}
	if err := r.Orchestrator.Cancel(ctx, ir.TeamID, ir.Email); err != nil && !errors.Is(err, ErrSeatNotFound) {
		return err
	}
	return nil
}

func (r *JobRunner) remove(ctx context.Context, inviteRequestID int64) error {
	ir, err := r.inviteRequest(ctx, inviteRequestID)
	if err != nil {
		return err
	}
	if err := r.Orchestrator.Remove(ctx, ir.TeamID, ir.Email); err != nil && !errors.Is(err, ErrSeatNotFound) {
		return err
	}
	return nil
}

func (r *JobRunner) syncAccount(ctx context.Context, accountID int64) error {
	if r.Reconciler == nil {
		return errors.New("no reconciler configured")
	}
	_, err := r.Reconciler.SyncAccount(ctx, accountID)
	return err
}

func (r *JobRunner) inviteRequest(ctx context.Context, id int64) (domain.InviteRequest, error) {
	ir, err := r.Ledger.InviteRequests().GetInviteRequest(ctx, id)
	if err != nil {
		return domain.InviteRequest{}, fmt.Errorf("invite request %d: %w", id, err)
	}
	return ir, nil
}

// heartbeat keeps the lease alive until ctx ends. Losing the lease cancels
// the handler.
func (r *JobRunner) heartbeat(ctx context.Context, job domain.Job, lost context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)
	log := slogx.FromContext(ctx)

	ticker := time.NewTicker(r.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until, err := r.Store.Jobs().HeartbeatJob(ctx, job.ID, job.LeaseToken, r.now())
			if errors.Is(err, store.ErrLeaseLost) {
				log.Warn("job lease lost, stopping handler")
				lost(store.ErrLeaseLost)
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("job heartbeat failed", slog.Any("error", err))
				continue
			}
			log.Debug("job heartbeat", slog.Time("visible_until", until))
		}
	}
}

func (r *JobRunner) complete(ctx context.Context, job domain.Job, outcome domain.JobOutcome) error {
	log := slogx.FromContext(ctx)

	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	final, err := r.Store.Jobs().CompleteJob(finCtx, job.ID, job.LeaseToken, outcome, r.now())
	if errors.Is(err, store.ErrLeaseLost) {
		// Another worker owns the job now and will run it again.
		log.Warn("job lease lost before completion",
			slog.Int("succeeded", outcome.SuccessCount),
			slog.Int("failed", outcome.FailedCount),
		)
		return nil
	}
	if err != nil {
		log.Error("failed to complete job", slog.Any("error", err))
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}

	log.Info("job completed",
		slog.String("status", string(final.Status)),
		slog.Int("attempts", final.Attempts),
		slog.Int("succeeded", final.SuccessCount),
		slog.Int("failed", final.FailedCount),
		slog.String("last_error", final.LastError),
	)
	return nil
}

// eachItem runs fn over items and tallies the results. When ctx ends the
// remaining items count as failed.
func eachItem[T any](ctx context.Context, items []T, fn func(context.Context, T) error) domain.JobOutcome {
	log := slogx.FromContext(ctx)

	var out domain.JobOutcome
	for i, item := range items {
		if ctx.Err() != nil {
			out.FailedCount += len(items) - i
			out.LastError = context.Cause(ctx).Error()
			break
		}

		if err := fn(ctx, item); err != nil {
			out.FailedCount++
			out.LastError = err.Error()
			log.Warn("job item failed", slog.Any("item", item), slog.Any("error", err))
			continue
		}
		out.SuccessCount++
	}
	return out
}

func (r *JobRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *JobRunner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return time.Second
}

func (r *JobRunner) heartbeatInterval() time.Duration {
	if r.HeartbeatInterval > 0 {
		return r.HeartbeatInterval
	}
	return r.Settings.HeartbeatInterval()
}

func (r *JobRunner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
