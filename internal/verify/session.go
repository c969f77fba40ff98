package verify

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// session is the manager-owned state for one verification. The embedded
// snapshot is only read or written under mu; the poller and any
// supersede/cancel paths race on status, and the mutex is what makes the
// reward latch exactly-once.
type session struct {
	mu   sync.Mutex
	data models.VerificationSession

	contracts []common.Address
	since     time.Time
	candidate *common.Hash

	ctx    context.Context
	cancel context.CancelFunc
}

// snapshot returns a copy of the session state
func (s *session) snapshot() models.VerificationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// markCancelled transitions to Cancelled if the session is still live.
// Returns false when the session already reached a terminal state.
func (s *session) markCancelled(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Status.Terminal() {
		return false
	}
	s.data.Status = models.SessionCancelled
	t := now
	s.data.CompletedAt = &t
	return true
}

// outcome builds the published terminal outcome from current state
func (s *session) outcome() models.SessionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := time.Now().UTC()
	if s.data.CompletedAt != nil {
		completed = *s.data.CompletedAt
	}
	out := models.SessionOutcome{
		SessionID:     s.data.ID,
		UserAddress:   s.data.UserAddress,
		AppID:         s.data.AppID,
		Status:        s.data.Status,
		Attempt:       s.data.Attempt,
		Rewarded:      s.data.Rewarded,
		MatchedTxHash: s.data.MatchedTxHash,
		CompletedAt:   completed,
	}
	// Exhausting attempts is an expected negative outcome, not a fault
	if s.data.Status == models.SessionTimedOut {
		out.ErrorCode = utils.ErrCodeVerificationTimeout
	}
	return out
}

func sessionKey(address, appID string) string {
	return address + "|" + appID
}

// stopCtx releases the poller's context
func (s *session) stopCtx() {
	if s.cancel != nil {
		s.cancel()
	}
}
