package domain

import "time"

type SeatStatus string

const (
	SeatFree SeatStatus = "free"
	SeatHeld SeatStatus = "held"
	SeatUsed SeatStatus = "used"
)

// Seat is one numbered slot of an Account.
//
// InviteRequestID is a weak reference: invite requests may live in another
// database, so there is no foreign key and lookups go through the ledger
// store. A free seat carries no team, email, invite or member.
//
// ClaimToken is minted on every claim and kept while the seat stays held or
// used. Releasing or converting a seat requires the token, so a caller whose
// hold was swept cannot touch the next holder's seat.
type Seat struct {
	ID              int64
	AccountID       int64
	SlotIndex       int
	Status          SeatStatus
	HeldUntil       *time.Time
	TeamID          int64
	Email           string
	InviteRequestID int64
	InviteID        string
	MemberID        string
	ClaimToken      string
	UpdatedAt       time.Time
}

// Active reports whether the seat counts against the account's capacity.
func (s Seat) Active() bool {
	return s.Status == SeatHeld || s.Status == SeatUsed
}
