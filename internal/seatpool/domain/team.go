package domain

import "time"

// Team belongs to exactly one Account. ExternalID is the provider's id for
// the team and is what gets sent to the provider.
type Team struct {
	ID         int64
	AccountID  int64
	ExternalID string
	Name       string
	Enabled    bool
	IsDefault  bool
	CreatedAt  time.Time
}
