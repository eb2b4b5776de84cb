package domain

import (
	"strings"
	"time"
)

type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteSent      InviteStatus = "sent"
	InviteAccepted  InviteStatus = "accepted"
	InviteFailed    InviteStatus = "failed"
	InviteCancelled InviteStatus = "cancelled"
)

// InviteRequest is one attempt to seat an email into a team. AccountID is a
// weak reference into the pool database.
type InviteRequest struct {
	ID            int64
	AccountID     int64
	TeamID        int64
	Email         string
	Code          string
	Status        InviteStatus
	ErrorCode     string
	ErrorMsg      string
	AttemptCount  int
	LastAttemptAt *time.Time
	InviteID      string
	MemberID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeEmail lowercases and trims an address so seats and invites
// compare equal regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
