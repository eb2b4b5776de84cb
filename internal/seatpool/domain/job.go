package domain

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is one unit of asynchronous bulk work. Payload is the JSON encoding of
// the job's JobSpec. LeaseToken identifies the current lease holder and is
// empty unless the job is running.
type Job struct {
	ID           int64
	Type         JobType
	Status       JobStatus
	Payload      []byte
	Actor        string
	Attempts     int
	MaxAttempts  int
	VisibleUntil *time.Time
	LeaseOwner   string
	LeaseToken   string
	SuccessCount int
	FailedCount  int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// JobOutcome is what a worker reports when it finishes a pass over a job.
// Crashed is set when the handler failed as a whole (error or panic) rather
// than item by item.
type JobOutcome struct {
	SuccessCount int
	FailedCount  int
	LastError    string
	Crashed      bool
}

// NextJobStatus decides where a job goes after a pass. attempts is the count
// including the pass that just finished.
//
// A pass with failures goes back to pending while attempts remain. Once they
// are exhausted the job is succeeded unless the last pass crashed, even when
// items failed: the counts carry the partial failure.
func NextJobStatus(attempts, maxAttempts int, outcome JobOutcome) JobStatus {
	if (outcome.FailedCount > 0 || outcome.Crashed) && attempts < maxAttempts {
		return JobPending
	}
	if outcome.Crashed {
		return JobFailed
	}
	return JobSucceeded
}
