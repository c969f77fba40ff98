package verify

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/chain"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

// runPoller drives one session from Polling to a terminal state. Polls
// are strictly sequential within a session; each tick re-reads the same
// window and compares against the fixed baseline. Reader failures are
// absorbed as consumed attempts, never as an early abort, and a result
// arriving after the session left Polling is discarded.
func (m *Manager) runPoller(s *session) {
	defer m.wg.Done()

	snap := s.snapshot()
	ctx := m.pollContext(s)
	user := common.HexToAddress(snap.UserAddress)
	log := m.logger.WithFields(logrus.Fields{
		"session_id": snap.ID,
		"address":    snap.UserAddress,
		"app_id":     snap.AppID,
	})

	for {
		cur := s.snapshot()
		if cur.Status != models.SessionPolling {
			return
		}

		// Every attempt waits out its backoff before reading, the first
		// one included: the earliest chain observation lands one
		// InitialBackoff after baseline capture.
		delay := m.cfg.InitialBackoff
		if cur.Attempt+1 > m.cfg.BackoffSwitch {
			delay = m.cfg.LateBackoff
		}
		if err := m.sleep(ctx, delay); err != nil {
			// Cancelled during backoff; the canceller already published
			return
		}

		txs, err := m.reader.FindTransactions(ctx, user, s.contracts, s.since, chain.Options{CandidateHash: s.candidate})

		s.mu.Lock()
		if s.data.Status != models.SessionPolling {
			s.mu.Unlock()
			log.Debug("Discarding poll result for superseded session")
			return
		}
		s.data.Attempt++
		attempt := s.data.Attempt

		if err != nil {
			timedOut := attempt >= s.data.MaxAttempts
			if timedOut {
				s.data.Status = models.SessionTimedOut
				t := m.now().UTC()
				s.data.CompletedAt = &t
			}
			s.mu.Unlock()

			m.recordAttempt("error")
			if utils.IsRetryable(err) {
				log.WithError(err).WithField("attempt", attempt).Warn("Poll failed, will retry")
			} else {
				log.WithError(err).WithField("attempt", attempt).Error("Poll failed")
			}
			if timedOut {
				s.stopCtx()
				m.finishSession(s)
				return
			}
			continue
		}

		if len(txs) > s.data.BaselineCount {
			s.data.Status = models.SessionSucceeded
			reward := !s.data.Rewarded
			s.data.Rewarded = true
			s.data.MatchedTxHash = txs[0].Hash.Hex()
			t := m.now().UTC()
			s.data.CompletedAt = &t
			s.mu.Unlock()

			m.recordAttempt("match")
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"tx_hash": txs[0].Hash.Hex(),
			}).Info("Verification succeeded")

			if reward && m.handler != nil {
				if err := m.handler.OnVerificationSuccess(m.baseCtx, snap.UserAddress, snap.AppID); err != nil {
					log.WithError(err).Error("Success handler failed")
				}
			}

			s.stopCtx()
			m.finishSession(s)
			return
		}

		timedOut := attempt >= s.data.MaxAttempts
		if timedOut {
			s.data.Status = models.SessionTimedOut
			t := m.now().UTC()
			s.data.CompletedAt = &t
		}
		s.mu.Unlock()

		m.recordAttempt("no_match")
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"count":   len(txs),
		}).Debug("No new activity yet")

		if timedOut {
			log.WithField("attempts", attempt).Info("Verification timed out")
			s.stopCtx()
			m.finishSession(s)
			return
		}
	}
}

// pollContext returns the context governing this session's polls
func (m *Manager) pollContext(s *session) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return m.baseCtx
}

func (m *Manager) recordAttempt(result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.GetPrometheusMetrics().PollAttemptsTotal.WithLabelValues(result).Inc()
}
