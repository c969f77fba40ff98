package models

import "time"

// SessionStatus is the lifecycle state of a verification session
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionPolling   SessionStatus = "polling"
	SessionSucceeded SessionStatus = "succeeded"
	SessionTimedOut  SessionStatus = "timed_out"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further polling can occur in this status
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionSucceeded, SessionTimedOut, SessionCancelled:
		return true
	}
	return false
}

// VerificationSession correlates a user's external dApp action with its
// on-chain effect. BaselineCount is fixed at creation and never
// recomputed; Rewarded latches true exactly once on success. At most one
// session per (user, app) pair may be polling at a time.
type VerificationSession struct {
	ID            string        `json:"id"`
	UserAddress   string        `json:"user_address"`
	AppID         string        `json:"app_id"`
	BaselineCount int           `json:"baseline_count"`
	StartedAt     time.Time     `json:"started_at"`
	Attempt       int           `json:"attempt"`
	MaxAttempts   int           `json:"max_attempts"`
	Status        SessionStatus `json:"status"`
	Rewarded      bool          `json:"rewarded"`
	MatchedTxHash string        `json:"matched_tx_hash,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// SessionOutcome is published when a session reaches a terminal state.
// ErrorCode classifies negative outcomes for downstream consumers; it is
// empty on success and cancellation.
type SessionOutcome struct {
	SessionID     string        `json:"session_id"`
	UserAddress   string        `json:"user_address"`
	AppID         string        `json:"app_id"`
	Status        SessionStatus `json:"status"`
	Attempt       int           `json:"attempt"`
	Rewarded      bool          `json:"rewarded"`
	MatchedTxHash string        `json:"matched_tx_hash,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
}
