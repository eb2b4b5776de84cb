package domain

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type JobType string

const (
	JobUsersInvite    JobType = "users_invite"
	JobUsersResend    JobType = "users_resend"
	JobUsersCancel    JobType = "users_cancel"
	JobUsersRemove    JobType = "users_remove"
	JobPoolSyncMother JobType = "pool_sync_mother"
)

var (
	ErrUnknownJobType = errors.New("unknown job type")
	ErrEmptyJobSpec   = errors.New("job has no targets")
)

// JobSpec is the typed payload of a job. The set of implementations is
// closed: one per JobType, dispatched with a type switch.
type JobSpec interface {
	JobType() JobType
	Len() int
	isJobSpec()
}

// InviteUsers seats each email through the invite orchestrator.
type InviteUsers struct{ Emails []string }

// ResendUsers re-sends the provider invite for each invite request id.
type ResendUsers struct{ InviteIDs []int64 }

// CancelUsers cancels pending provider invites and frees their seats.
type CancelUsers struct{ InviteIDs []int64 }

// RemoveUsers removes accepted members from their team and frees their seats.
type RemoveUsers struct{ InviteIDs []int64 }

// SyncAccounts reconciles provider membership for each account id.
type SyncAccounts struct{ AccountIDs []int64 }

func (InviteUsers) JobType() JobType  { return JobUsersInvite }
func (ResendUsers) JobType() JobType  { return JobUsersResend }
func (CancelUsers) JobType() JobType  { return JobUsersCancel }
func (RemoveUsers) JobType() JobType  { return JobUsersRemove }
func (SyncAccounts) JobType() JobType { return JobPoolSyncMother }

func (s InviteUsers) Len() int  { return len(s.Emails) }
func (s ResendUsers) Len() int  { return len(s.InviteIDs) }
func (s CancelUsers) Len() int  { return len(s.InviteIDs) }
func (s RemoveUsers) Len() int  { return len(s.InviteIDs) }
func (s SyncAccounts) Len() int { return len(s.AccountIDs) }

func (InviteUsers) isJobSpec()  {}
func (ResendUsers) isJobSpec()  {}
func (CancelUsers) isJobSpec()  {}
func (RemoveUsers) isJobSpec()  {}
func (SyncAccounts) isJobSpec() {}

// EncodeJobSpec returns the payload stored on the job row: the JSON list of
// targets.
func EncodeJobSpec(spec JobSpec) ([]byte, error) {
	if spec == nil || spec.Len() == 0 {
		return nil, ErrEmptyJobSpec
	}

	var targets any
	switch s := spec.(type) {
	case InviteUsers:
		targets = s.Emails
	case ResendUsers:
		targets = s.InviteIDs
	case CancelUsers:
		targets = s.InviteIDs
	case RemoveUsers:
		targets = s.InviteIDs
	case SyncAccounts:
		targets = s.AccountIDs
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownJobType, spec)
	}
	return json.Marshal(targets)
}

// DecodeJobSpec rebuilds the typed spec from a job row.
func DecodeJobSpec(jobType JobType, payload []byte) (JobSpec, error) {
	switch jobType {
	case JobUsersInvite:
		var emails []string
		if err := json.Unmarshal(payload, &emails); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return InviteUsers{Emails: emails}, nil
	case JobUsersResend, JobUsersCancel, JobUsersRemove, JobPoolSyncMother:
		var ids []int64
		if err := json.Unmarshal(payload, &ids); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		switch jobType {
		case JobUsersResend:
			return ResendUsers{InviteIDs: ids}, nil
		case JobUsersCancel:
			return CancelUsers{InviteIDs: ids}, nil
		case JobUsersRemove:
			return RemoveUsers{InviteIDs: ids}, nil
		default:
			return SyncAccounts{AccountIDs: ids}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
}
