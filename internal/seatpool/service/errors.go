package service

import "errors"

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrNoSeatAvailable    = errors.New("no seat available")
	ErrInviteFailed       = errors.New("invite failed")
	ErrSeatNotFound       = errors.New("no active seat for team and email")
	ErrAccountUnavailable = errors.New("account is not active")
	ErrInvalidAccount     = errors.New("invalid account")
)

// Messages returned to callers. Provider error text never appears here; it
// is kept on the invite request row.
const (
	MessageInviteSent     = "invite sent"
	MessageAlreadyInvited = "already invited"
	MessageNoSeats        = "no seats available"
	MessageInviteFailed   = "invite failed, please try again later"
	MessageInvalidEmail   = "invalid email address"
)
