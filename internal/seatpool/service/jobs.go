package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

// JobService is the producer side of the job queue.
type JobService struct {
	Store store.Store
	Now   func() time.Time
}

func NewJobService(st store.Store) *JobService {
	return &JobService{Store: st, Now: time.Now}
}

// Enqueue stores spec as a pending job on behalf of actor.
func (s *JobService) Enqueue(ctx context.Context, spec domain.JobSpec, actor string) (domain.Job, error) {
	payload, err := domain.EncodeJobSpec(spec)
	if err != nil {
		return domain.Job{}, err
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	job, err := s.Store.Jobs().EnqueueJob(ctx, domain.Job{
		Type:    spec.JobType(),
		Payload: payload,
		Actor:   actor,
	}, now)
	if err != nil {
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	slogx.FromContext(ctx).Info("job enqueued",
		slog.Int64("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.Int("items", spec.Len()),
		slog.String("actor", actor),
	)
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	return s.Store.Jobs().GetJob(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.Store.Jobs().ListJobs(ctx, limit)
}
