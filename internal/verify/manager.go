package verify

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/chain"
	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/internal/notification"
	"github.com/questforge/questforge/internal/registry"
	"github.com/questforge/questforge/pkg/utils"
)

// ActivityReader is the chain-reading contract the verification engine
// drives. Satisfied by *chain.Reader.
type ActivityReader interface {
	FindTransactions(ctx context.Context, userAddress common.Address, contracts []common.Address, since time.Time, opts chain.Options) ([]models.Transaction, error)
}

// SuccessHandler receives exactly one callback per succeeded session
type SuccessHandler interface {
	OnVerificationSuccess(ctx context.Context, address, appID string) error
}

// StartOptions tunes session creation
type StartOptions struct {
	// CandidateHash enables the reader's direct hash strategy for this
	// session. Used by deterministic verification flows.
	CandidateHash *common.Hash
}

// Manager owns all verification sessions, enforcing at most one polling
// session per (user, app) pair. Pollers are detached background tasks:
// they outlive the request that started them and deliver their outcome
// through the hub.
type Manager struct {
	reader   ActivityReader
	registry *registry.Registry
	cfg      *config.VerificationConfig
	hub      *notification.OutcomeHub
	handler  SuccessHandler
	logger   *logrus.Entry
	metrics  *metrics.Manager

	mu       sync.Mutex
	sessions map[string]*session

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	now   func() time.Time                               // test hook
	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// NewManager creates a verification session manager
func NewManager(reader ActivityReader, reg *registry.Registry, cfg *config.VerificationConfig, hub *notification.OutcomeHub, handler SuccessHandler, metricsManager *metrics.Manager) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		reader:     reader,
		registry:   reg,
		cfg:        cfg,
		hub:        hub,
		handler:    handler,
		logger:     utils.ComponentLogger("verify"),
		metrics:    metricsManager,
		sessions:   make(map[string]*session),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// StartVerification creates a session for (user, app), superseding any
// prior session still polling for the same pair, and launches its
// poller. The baseline is captured synchronously before polling starts;
// a failed baseline read aborts creation rather than guessing a count
// that could later produce a false positive.
func (m *Manager) StartVerification(ctx context.Context, address, appID string, opts StartOptions) (*models.VerificationSession, error) {
	if !utils.IsValidAddress(address) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid address", address)
	}
	addr := utils.NormalizeAddress(address)

	entry, err := m.registry.ByAppID(appID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	since := now.Add(-m.cfg.LookbackWindow)
	contracts := entry.Addresses()
	user := common.HexToAddress(addr)

	baseline, err := m.reader.FindTransactions(ctx, user, contracts, since, chain.Options{CandidateHash: opts.CandidateHash})
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to generate session ID", err.Error())
	}

	pollCtx, cancel := context.WithCancel(m.baseCtx)
	s := &session{
		data: models.VerificationSession{
			ID:            id.String(),
			UserAddress:   addr,
			AppID:         appID,
			BaselineCount: len(baseline),
			StartedAt:     now,
			MaxAttempts:   m.cfg.MaxAttempts,
			Status:        models.SessionCreated,
		},
		contracts: contracts,
		since:     since,
		candidate: opts.CandidateHash,
		ctx:       pollCtx,
		cancel:    cancel,
	}

	key := sessionKey(addr, appID)

	m.mu.Lock()
	if prev, ok := m.sessions[key]; ok {
		m.supersede(prev)
	}
	m.sessions[key] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().SessionsStartedTotal.Inc()
		m.metrics.GetPrometheusMetrics().ActiveSessions.Inc()
	}
	m.logger.WithFields(logrus.Fields{
		"session_id": s.data.ID,
		"address":    addr,
		"app_id":     appID,
		"baseline":   s.data.BaselineCount,
	}).Info("Verification session started")

	// The session leaves created only once its poller is committed to
	// run; a supersede landing in between already made it terminal.
	s.mu.Lock()
	if s.data.Status == models.SessionCreated {
		s.data.Status = models.SessionPolling
	}
	s.mu.Unlock()

	m.wg.Add(1)
	go m.runPoller(s)

	snap := s.snapshot()
	return &snap, nil
}

// GetSession returns the latest session for (user, app)
func (m *Manager) GetSession(address, appID string) (*models.VerificationSession, error) {
	if !utils.IsValidAddress(address) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid address", address)
	}
	addr := utils.NormalizeAddress(address)

	m.mu.Lock()
	s, ok := m.sessions[sessionKey(addr, appID)]
	m.mu.Unlock()
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "No verification session", addr+"/"+appID)
	}

	snap := s.snapshot()
	return &snap, nil
}

// Cancel aborts the session for (user, app) if it is still polling
func (m *Manager) Cancel(address, appID string) error {
	if !utils.IsValidAddress(address) {
		return utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid address", address)
	}
	addr := utils.NormalizeAddress(address)

	m.mu.Lock()
	s, ok := m.sessions[sessionKey(addr, appID)]
	m.mu.Unlock()
	if !ok {
		return utils.NewAppError(utils.ErrCodeNotFound, "No verification session", addr+"/"+appID)
	}

	if s.markCancelled(m.now().UTC()) {
		s.stopCtx()
		m.finishSession(s)
	}
	return nil
}

// ActiveSessions returns the number of sessions currently polling
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if !s.snapshot().Status.Terminal() {
			count++
		}
	}
	return count
}

// Shutdown cancels all pollers and waits for them to exit
func (m *Manager) Shutdown() {
	m.baseCancel()
	m.wg.Wait()
}

// supersede cancels a previous session for the same pair. Caller holds
// the manager mutex; the session's own mutex guards the transition.
func (m *Manager) supersede(prev *session) {
	if prev.markCancelled(m.now().UTC()) {
		prev.stopCtx()
		m.logger.WithField("session_id", prev.data.ID).Info("Session superseded")
		go m.finishSession(prev)
	}
}

// finishSession publishes the terminal outcome and updates gauges
func (m *Manager) finishSession(s *session) {
	out := s.outcome()

	if m.metrics != nil {
		pm := m.metrics.GetPrometheusMetrics()
		pm.ActiveSessions.Dec()
		pm.SessionsFinishedTotal.WithLabelValues(string(out.Status)).Inc()
		pm.VerificationDuration.Observe(out.CompletedAt.Sub(s.snapshot().StartedAt).Seconds())
	}

	m.hub.Publish(m.baseCtx, out)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
