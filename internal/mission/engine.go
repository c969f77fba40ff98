package mission

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/metrics"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/internal/reward"
	"github.com/questforge/questforge/internal/storage"
	"github.com/questforge/questforge/pkg/utils"
)

// CheckinResult reports the outcome of a daily check-in
type CheckinResult struct {
	CubeEarned       bool `json:"cube_earned"`
	AlreadyCompleted bool `json:"already_completed"`
	NewCubeCount     int  `json:"new_cube_count,omitempty"`
}

// Engine instantiates the fixed daily missions per user and tracks their
// progress. Instancing is an upsert keyed (user, date, missionId), so
// concurrent first accesses cannot create duplicates.
type Engine struct {
	store     storage.Storage
	templates []models.MissionTemplate
	rewards   *reward.Ledger
	logger    *logrus.Entry
	metrics   *metrics.Manager

	now func() time.Time // test hook
}

// NewEngine creates a mission engine
func NewEngine(store storage.Storage, cfg *config.MissionsConfig, rewards *reward.Ledger, metricsManager *metrics.Manager) *Engine {
	templates := cfg.Templates
	if len(templates) == 0 {
		templates = config.DefaultMissionTemplates()
	}
	return &Engine{
		store:     store,
		templates: templates,
		rewards:   rewards,
		logger:    utils.ComponentLogger("mission_engine"),
		metrics:   metricsManager,
		now:       time.Now,
	}
}

// GetOrCreateTodayMissions instantiates today's missions on first access
// and returns them.
func (e *Engine) GetOrCreateTodayMissions(ctx context.Context, address string) ([]models.MissionInstance, error) {
	addr, err := e.normalize(address)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.EnsureUser(ctx, addr); err != nil {
		return nil, err
	}

	today := utils.DayKey(e.now())
	if err := e.store.UpsertMissionInstances(ctx, addr, today, e.templates); err != nil {
		return nil, err
	}
	return e.store.GetMissionsForDay(ctx, addr, today)
}

// Increment adds delta to a mission's progress, clamped at the target.
// Calls after completion are no-ops that still return the instance. The
// second return value reports whether this call completed the mission.
func (e *Engine) Increment(ctx context.Context, address, missionID string, delta int) (*models.MissionInstance, bool, error) {
	addr, err := e.normalize(address)
	if err != nil {
		return nil, false, err
	}
	if delta <= 0 {
		return nil, false, utils.NewAppError(utils.ErrCodeInvalidInput, "Increment must be positive")
	}

	instance, justCompleted, err := e.store.IncrementMissionProgress(ctx, addr, utils.DayKey(e.now()), missionID, delta)
	if err != nil {
		return nil, false, err
	}

	if justCompleted {
		e.logger.WithFields(logrus.Fields{
			"address": addr,
			"mission": instance.MissionType,
		}).Info("Mission completed")
		if e.metrics != nil {
			e.metrics.GetPrometheusMetrics().MissionsCompletedTotal.WithLabelValues(instance.MissionType).Inc()
		}
	}
	return instance, justCompleted, nil
}

// DailyCheckin completes the check-in mission and grants one cube the
// first time each day; repeats are reported, not re-granted.
func (e *Engine) DailyCheckin(ctx context.Context, address string) (*CheckinResult, error) {
	missions, err := e.GetOrCreateTodayMissions(ctx, address)
	if err != nil {
		return nil, err
	}

	var checkin *models.MissionInstance
	for i := range missions {
		if missions[i].MissionType == models.MissionTypeCheckin {
			checkin = &missions[i]
			break
		}
	}
	if checkin == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Check-in mission not configured")
	}

	if checkin.Completed {
		return &CheckinResult{AlreadyCompleted: true}, nil
	}

	_, justCompleted, err := e.Increment(ctx, address, checkin.MissionID, 1)
	if err != nil {
		return nil, err
	}
	if !justCompleted {
		// Lost the race to a concurrent check-in; treat as already done
		return &CheckinResult{AlreadyCompleted: true}, nil
	}

	user, err := e.rewards.Grant(ctx, address, 1)
	if err != nil {
		if utils.ErrorCode(err) == utils.ErrCodeLimitExceeded {
			e.logger.WithField("address", address).Warn("Check-in completed but daily cube limit reached")
			return &CheckinResult{CubeEarned: false}, nil
		}
		return nil, err
	}

	return &CheckinResult{CubeEarned: true, NewCubeCount: user.Cubes}, nil
}

// OnVerificationSuccess converts a verified on-chain interaction into
// mission progress and a cube. Invoked exactly once per succeeded
// session by the verification poller.
func (e *Engine) OnVerificationSuccess(ctx context.Context, address, appID string) error {
	missions, err := e.GetOrCreateTodayMissions(ctx, address)
	if err != nil {
		return err
	}

	today := utils.DayKey(e.now())
	activatorID := ""
	masterID := ""
	for _, m := range missions {
		switch m.MissionType {
		case models.MissionTypeCubeActivator:
			activatorID = m.MissionID
		case models.MissionTypeCubeMaster:
			masterID = m.MissionID
		}
	}

	if activatorID != "" {
		_, justCompleted, err := e.Increment(ctx, address, activatorID, 1)
		if err != nil {
			return err
		}
		if justCompleted && masterID != "" {
			if _, _, err := e.Increment(ctx, address, masterID, 1); err != nil {
				return err
			}
		}
	}

	if _, err := e.rewards.Grant(ctx, address, 1); err != nil {
		if utils.ErrorCode(err) == utils.ErrCodeLimitExceeded {
			e.logger.WithFields(logrus.Fields{
				"address": address,
				"app_id":  appID,
				"date":    today,
			}).Warn("Verification succeeded but daily cube limit reached")
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) normalize(address string) (string, error) {
	if !utils.IsValidAddress(address) {
		return "", utils.NewAppError(utils.ErrCodeInvalidInput, "Invalid address", address)
	}
	return utils.NormalizeAddress(address), nil
}
