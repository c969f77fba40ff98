package reward

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/internal/storage"
	"github.com/questforge/questforge/pkg/utils"
)

// LimitStatus is the read view of a user's daily cube allowance
type LimitStatus struct {
	OpensToday int  `json:"opens_today"`
	Limit      int  `json:"limit"`
	Remaining  int  `json:"remaining"`
	CanOpen    bool `json:"can_open"`
}

// Ledger manages cube balances and the per-user daily grant cap. Every
// operation applies the day rollover first, so the reset is observed
// identically on read and write paths.
type Ledger struct {
	store      storage.Storage
	dailyLimit int
	logger     *logrus.Entry
	metrics    *metrics.Manager

	now func() time.Time // test hook
}

// NewLedger creates a reward ledger
func NewLedger(store storage.Storage, cfg *config.RewardsConfig, metricsManager *metrics.Manager) *Ledger {
	return &Ledger{
		store:      store,
		dailyLimit: cfg.DailyCubeLimit,
		logger:     utils.ComponentLogger("reward_ledger"),
		metrics:    metricsManager,
		now:        time.Now,
	}
}

// Rollover ensures the user exists and applies the idempotent daily reset
func (l *Ledger) Rollover(ctx context.Context, address string) (*models.User, error) {
	addr, err := l.normalize(address)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.EnsureUser(ctx, addr); err != nil {
		return nil, err
	}
	return l.store.RolloverUser(ctx, addr, utils.DayKey(l.now()))
}

// GetLimitStatus returns the user's daily allowance after rollover
func (l *Ledger) GetLimitStatus(ctx context.Context, address string) (*LimitStatus, error) {
	user, err := l.Rollover(ctx, address)
	if err != nil {
		return nil, err
	}

	remaining := l.dailyLimit - user.CubeOpensToday
	if remaining < 0 {
		remaining = 0
	}
	return &LimitStatus{
		OpensToday: user.CubeOpensToday,
		Limit:      l.dailyLimit,
		Remaining:  remaining,
		CanOpen:    user.CubeOpensToday < l.dailyLimit,
	}, nil
}

// Grant atomically awards n cubes, consuming n daily opens. Fails with
// LIMIT_EXCEEDED and no mutation when the cap would be passed.
func (l *Ledger) Grant(ctx context.Context, address string, n int) (*models.User, error) {
	if n <= 0 {
		return nil, utils.NewAppError(utils.ErrCodeInvalidInput, "Grant amount must be positive")
	}

	user, err := l.Rollover(ctx, address)
	if err != nil {
		return nil, err
	}

	granted, err := l.store.GrantCubes(ctx, user.Address, n, l.dailyLimit)
	if err != nil {
		if utils.ErrorCode(err) == utils.ErrCodeLimitExceeded && l.metrics != nil {
			l.metrics.GetPrometheusMetrics().GrantsRejectedTotal.Inc()
		}
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.GetPrometheusMetrics().CubesGrantedTotal.Add(float64(n))
	}
	l.logger.WithFields(logrus.Fields{
		"address": granted.Address,
		"cubes":   granted.Cubes,
		"today":   granted.CubeOpensToday,
	}).Info("Cubes granted")
	return granted, nil
}

// GetBalance returns the user's cube balance after rollover
func (l *Ledger) GetBalance(ctx context.Context, address string) (*models.User, error) {
	return l.Rollover(ctx, address)
}

// Leaderboard returns the top users by cube count
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	return l.store.TopUsersByCubes(ctx, limit)
}

func (l *Ledger) normalize(address string) (string, error) {
	if !utils.IsValidAddress(address) {
		return "", utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid address", address)
	}
	return utils.NormalizeAddress(address), nil
}
