package domain

import "time"

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInvalid  AccountStatus = "invalid"
	AccountDisabled AccountStatus = "disabled"
)

// Reasons recorded when an account is marked invalid.
const (
	InvalidReasonAuth         = "auth_failed"
	InvalidReasonTokenExpired = "token_expired"
)

// Account is a provider credential ("mother" account) that owns SeatLimit
// seats. Token is the plaintext provider token; drivers seal it at rest.
type Account struct {
	ID             int64
	Name           string
	Status         AccountStatus
	SeatLimit      int
	Token          string
	TokenExpiresAt *time.Time
	InvalidReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenExpired reports whether the token is past its expiry at now.
// Tokens without a known expiry never expire here; the provider will tell us
// with a 401 instead.
func (a Account) TokenExpired(now time.Time) bool {
	return a.TokenExpiresAt != nil && !now.Before(*a.TokenExpiresAt)
}
