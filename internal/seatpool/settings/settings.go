// Package settings holds the tuning values of the seat and job engines.
// A Settings value is built once at startup and handed to every store and
// service constructor that needs it.
package settings

import "time"

type Settings struct {
	SeatHoldTTLSeconds          int `env:"SEAT_HOLD_TTL_SECONDS"          envDefault:"30"`
	SeatClaimRetryAttempts      int `env:"SEAT_CLAIM_RETRY_ATTEMPTS"      envDefault:"5"`
	JobVisibilityTimeoutSeconds int `env:"JOB_VISIBILITY_TIMEOUT_SECONDS" envDefault:"300"`
	JobMaxAttempts              int `env:"JOB_MAX_ATTEMPTS"               envDefault:"3"`
	JobLeaseRetryAttempts       int `env:"JOB_LEASE_RETRY_ATTEMPTS"       envDefault:"5"`
	MaintenanceIntervalSeconds  int `env:"MAINTENANCE_INTERVAL_SECONDS"   envDefault:"60"`

	// InviteSwitchBudget is how many extra accounts one invite may fail over to.
	InviteSwitchBudget int `env:"INVITE_SWITCH_BUDGET" envDefault:"1"`
}

// Default returns the stock settings.
func Default() Settings {
	return Settings{
		SeatHoldTTLSeconds:          30,
		SeatClaimRetryAttempts:      5,
		JobVisibilityTimeoutSeconds: 300,
		JobMaxAttempts:              3,
		JobLeaseRetryAttempts:       5,
		MaintenanceIntervalSeconds:  60,
		InviteSwitchBudget:          1,
	}
}

// Normalize replaces out of range values with defaults. A zero switch
// budget is valid (no failover).
func (s Settings) Normalize() Settings {
	d := Default()
	if s.SeatHoldTTLSeconds <= 0 {
		s.SeatHoldTTLSeconds = d.SeatHoldTTLSeconds
	}
	if s.SeatClaimRetryAttempts <= 0 {
		s.SeatClaimRetryAttempts = d.SeatClaimRetryAttempts
	}
	if s.JobVisibilityTimeoutSeconds <= 0 {
		s.JobVisibilityTimeoutSeconds = d.JobVisibilityTimeoutSeconds
	}
	if s.JobMaxAttempts <= 0 {
		s.JobMaxAttempts = d.JobMaxAttempts
	}
	if s.JobLeaseRetryAttempts <= 0 {
		s.JobLeaseRetryAttempts = d.JobLeaseRetryAttempts
	}
	if s.MaintenanceIntervalSeconds <= 0 {
		s.MaintenanceIntervalSeconds = d.MaintenanceIntervalSeconds
	}
	if s.InviteSwitchBudget < 0 {
		s.InviteSwitchBudget = d.InviteSwitchBudget
	}
	return s
}

func (s Settings) SeatHoldTTL() time.Duration {
	return time.Duration(s.SeatHoldTTLSeconds) * time.Second
}

func (s Settings) JobVisibilityTimeout() time.Duration {
	return time.Duration(s.JobVisibilityTimeoutSeconds) * time.Second
}

func (s Settings) MaintenanceInterval() time.Duration {
	return time.Duration(s.MaintenanceIntervalSeconds) * time.Second
}

// HeartbeatInterval is max(5s, visibility timeout / 3).
func (s Settings) HeartbeatInterval() time.Duration {
	interval := s.JobVisibilityTimeout() / 3
	if interval < 5*time.Second {
		return 5 * time.Second
	}
	return interval
}
