package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

const testAddress = "0xabc1234567890123456789012345678901234567"

func newTestStorage(t *testing.T) Storage {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	cfg := &StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	}

	store, err := NewStorage(cfg)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Connect(); err != nil {
		t.Fatalf("Failed to connect to storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStorage(t *testing.T) {
	store := newTestStorage(t)

	if err := store.Ping(); err != nil {
		t.Fatalf("Failed to ping storage: %v", err)
	}
	t.Logf("✓ Storage connection and migration successful")

	t.Run("User Operations", func(t *testing.T) { testUserOperations(t, store) })
	t.Run("Daily Rollover", func(t *testing.T) { testDailyRollover(t, store) })
	t.Run("Cube Grants", func(t *testing.T) { testCubeGrants(t, store) })
	t.Run("Mission Operations", func(t *testing.T) { testMissionOperations(t, store) })
	t.Run("Leaderboard", func(t *testing.T) { testLeaderboard(t, store) })
}

func testUserOperations(t *testing.T, store Storage) {
	ctx := context.Background()

	user, err := store.EnsureUser(ctx, testAddress)
	if err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}
	if user.Address != testAddress {
		t.Errorf("Expected address %s, got %s", testAddress, user.Address)
	}
	if user.Cubes != 0 || user.CubeOpensToday != 0 {
		t.Errorf("New user should start with zero cubes, got %d/%d", user.Cubes, user.CubeOpensToday)
	}
	t.Logf("✓ User created successfully")

	// Ensuring again must not reset anything
	again, err := store.EnsureUser(ctx, testAddress)
	if err != nil {
		t.Fatalf("Failed to re-ensure user: %v", err)
	}
	if again.CreatedAt.After(user.CreatedAt.Add(time.Second)) {
		t.Error("EnsureUser recreated an existing user")
	}
	t.Logf("✓ EnsureUser is idempotent")

	if _, err := store.GetUser(ctx, "0x0000000000000000000000000000000000000099"); !utils.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND for unknown user, got %v", err)
	}
	t.Logf("✓ Unknown user reported as not found")
}

func testDailyRollover(t *testing.T, store Storage) {
	ctx := context.Background()
	addr := "0x1111111111111111111111111111111111111111"

	if _, err := store.EnsureUser(ctx, addr); err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}

	// Use up some of the allowance on "yesterday"
	if _, err := store.RolloverUser(ctx, addr, "2026-08-30"); err != nil {
		t.Fatalf("Failed to roll over user: %v", err)
	}
	if _, err := store.GrantCubes(ctx, addr, 3, 25); err != nil {
		t.Fatalf("Failed to grant cubes: %v", err)
	}

	user, err := store.RolloverUser(ctx, addr, "2026-08-31")
	if err != nil {
		t.Fatalf("Failed to roll over user: %v", err)
	}
	if user.CubeOpensToday != 0 {
		t.Errorf("Rollover should reset opens, got %d", user.CubeOpensToday)
	}
	if user.Cubes != 3 {
		t.Errorf("Rollover must not touch the balance, got %d", user.Cubes)
	}
	if user.LastCubeOpenDate != "2026-08-31" {
		t.Errorf("Expected day key 2026-08-31, got %s", user.LastCubeOpenDate)
	}

	// Same-day rollover is a no-op
	if _, err := store.GrantCubes(ctx, addr, 2, 25); err != nil {
		t.Fatalf("Failed to grant cubes: %v", err)
	}
	user, err = store.RolloverUser(ctx, addr, "2026-08-31")
	if err != nil {
		t.Fatalf("Failed to roll over user: %v", err)
	}
	if user.CubeOpensToday != 2 {
		t.Errorf("Same-day rollover must be a no-op, got %d opens", user.CubeOpensToday)
	}
	t.Logf("✓ Daily rollover resets opens exactly once per day")
}

func testCubeGrants(t *testing.T, store Storage) {
	ctx := context.Background()
	addr := "0x2222222222222222222222222222222222222222"
	limit := 25

	if _, err := store.EnsureUser(ctx, addr); err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}

	var user *models.User
	var err error
	for i := 0; i < limit; i++ {
		user, err = store.GrantCubes(ctx, addr, 1, limit)
		if err != nil {
			t.Fatalf("Grant %d failed: %v", i+1, err)
		}
	}
	if user.Cubes != limit || user.CubeOpensToday != limit {
		t.Errorf("Expected %d cubes and opens, got %d/%d", limit, user.Cubes, user.CubeOpensToday)
	}
	t.Logf("✓ Granted up to the daily limit")

	_, err = store.GrantCubes(ctx, addr, 1, limit)
	if utils.ErrorCode(err) != utils.ErrCodeLimitExceeded {
		t.Fatalf("Expected LIMIT_EXCEEDED at the cap, got %v", err)
	}

	// The rejected grant must not have mutated anything
	user, err = store.GetUser(ctx, addr)
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Cubes != limit || user.CubeOpensToday != limit {
		t.Errorf("Rejected grant mutated the user: %d/%d", user.Cubes, user.CubeOpensToday)
	}
	t.Logf("✓ Grants past the cap are rejected without mutation")

	// A multi-cube grant that would cross the cap is rejected whole
	addr2 := "0x3333333333333333333333333333333333333333"
	if _, err := store.EnsureUser(ctx, addr2); err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}
	if _, err := store.GrantCubes(ctx, addr2, 24, limit); err != nil {
		t.Fatalf("Failed to grant cubes: %v", err)
	}
	if _, err := store.GrantCubes(ctx, addr2, 2, limit); utils.ErrorCode(err) != utils.ErrCodeLimitExceeded {
		t.Fatalf("Expected LIMIT_EXCEEDED for partial overflow, got %v", err)
	}
	t.Logf("✓ Partial overflows are rejected whole")

	if _, err := store.GrantCubes(ctx, "0x0000000000000000000000000000000000000098", 1, limit); !utils.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND for unknown user, got %v", err)
	}
}

func testMissionOperations(t *testing.T, store Storage) {
	ctx := context.Background()
	addr := "0x4444444444444444444444444444444444444444"
	date := "2026-08-31"
	templates := config.DefaultMissionTemplates()

	if _, err := store.EnsureUser(ctx, addr); err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}

	if err := store.UpsertMissionInstances(ctx, addr, date, templates); err != nil {
		t.Fatalf("Failed to upsert missions: %v", err)
	}
	missions, err := store.GetMissionsForDay(ctx, addr, date)
	if err != nil {
		t.Fatalf("Failed to get missions: %v", err)
	}
	if len(missions) != len(templates) {
		t.Fatalf("Expected %d missions, got %d", len(templates), len(missions))
	}
	t.Logf("✓ Daily missions instantiated: %d", len(missions))

	// Find the three-step mission
	var activator *models.MissionInstance
	for i := range missions {
		if missions[i].MissionType == models.MissionTypeCubeActivator {
			activator = &missions[i]
		}
	}
	if activator == nil {
		t.Fatal("cube_activator mission missing")
	}
	if activator.Target != 3 {
		t.Fatalf("Expected cube_activator target 3, got %d", activator.Target)
	}

	// Progress to completion
	for step := 1; step <= 3; step++ {
		m, justCompleted, err := store.IncrementMissionProgress(ctx, addr, date, activator.MissionID, 1)
		if err != nil {
			t.Fatalf("Increment %d failed: %v", step, err)
		}
		if m.Progress != step {
			t.Errorf("Expected progress %d, got %d", step, m.Progress)
		}
		if (step == 3) != justCompleted {
			t.Errorf("Step %d: justCompleted=%v", step, justCompleted)
		}
		if (step == 3) != m.Completed {
			t.Errorf("Step %d: completed=%v", step, m.Completed)
		}
	}
	t.Logf("✓ Mission progressed 1/3 → 2/3 → 3/3 with single completion")

	// Further increments clamp and never re-complete
	m, justCompleted, err := store.IncrementMissionProgress(ctx, addr, date, activator.MissionID, 5)
	if err != nil {
		t.Fatalf("Post-completion increment failed: %v", err)
	}
	if m.Progress != 3 {
		t.Errorf("Progress must clamp at target, got %d", m.Progress)
	}
	if justCompleted {
		t.Error("Completion must latch exactly once")
	}
	if m.CompletedAt == nil {
		t.Error("CompletedAt must be set after completion")
	}
	t.Logf("✓ Progress clamps at target and completion latches")

	// Re-upserting leaves progress untouched
	if err := store.UpsertMissionInstances(ctx, addr, date, templates); err != nil {
		t.Fatalf("Failed to re-upsert missions: %v", err)
	}
	m, err = store.GetMissionInstance(ctx, addr, date, activator.MissionID)
	if err != nil {
		t.Fatalf("Failed to get mission: %v", err)
	}
	if m.Progress != 3 || !m.Completed {
		t.Errorf("Upsert reset an existing instance: progress=%d completed=%v", m.Progress, m.Completed)
	}
	t.Logf("✓ Upsert preserves existing instances")

	if _, _, err := store.IncrementMissionProgress(ctx, addr, date, "no_such_mission", 1); !utils.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND for unknown mission, got %v", err)
	}
}

func testLeaderboard(t *testing.T, store Storage) {
	ctx := context.Background()

	top, err := store.TopUsersByCubes(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to query leaderboard: %v", err)
	}
	if len(top) == 0 {
		t.Fatal("Expected leaderboard entries")
	}
	for i := 1; i < len(top); i++ {
		if top[i].Cubes > top[i-1].Cubes {
			t.Errorf("Leaderboard not sorted: %d before %d", top[i-1].Cubes, top[i].Cubes)
		}
	}
	t.Logf("✓ Leaderboard sorted by cubes: top has %d", top[0].Cubes)
}
