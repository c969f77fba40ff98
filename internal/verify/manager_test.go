package verify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/questforge/questforge/internal/chain"
	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/internal/notification"
	"github.com/questforge/questforge/internal/registry"
	"github.com/questforge/questforge/pkg/utils"
)

const (
	testAddress  = "0xabc1234567890123456789012345678901234567"
	testContract = "0x00000000000000000000000000000000000000aa"
	testApp      = "testapp"
)

// fakeReader replays a scripted sequence of observations. The first call
// serves the baseline read; each later call serves one poll.
type fakeReader struct {
	mu     sync.Mutex
	script []func() ([]models.Transaction, error)
	calls  int
}

func (f *fakeReader) FindTransactions(ctx context.Context, user common.Address, contracts []common.Address, since time.Time, opts chain.Options) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	step := f.calls
	f.calls++
	if step >= len(f.script) {
		step = len(f.script) - 1
	}
	return f.script[step]()
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func txCount(n int) func() ([]models.Transaction, error) {
	return func() ([]models.Transaction, error) {
		txs := make([]models.Transaction, n)
		for i := range txs {
			txs[i] = models.Transaction{
				Hash:        common.HexToHash(fmt.Sprintf("0x%064x", i+1)),
				From:        common.HexToAddress(testAddress),
				To:          common.HexToAddress(testContract),
				BlockNumber: uint64(100 + i),
			}
		}
		return txs, nil
	}
}

func readFailure() ([]models.Transaction, error) {
	return nil, utils.NewAppError(utils.ErrCodeRemoteUnavailable, "Node unavailable")
}

// blockingReader parks the first poll until released, so a cancellation
// can land while a read is still in flight. Every other call answers
// immediately with the baseline count.
type blockingReader struct {
	mu      sync.Mutex
	calls   int
	polling chan struct{}
	release chan struct{}
}

func (b *blockingReader) FindTransactions(ctx context.Context, user common.Address, contracts []common.Address, since time.Time, opts chain.Options) ([]models.Transaction, error) {
	b.mu.Lock()
	call := b.calls
	b.calls++
	b.mu.Unlock()

	if call == 1 {
		select {
		case b.polling <- struct{}{}:
		default:
		}
		<-b.release
		return txCount(6)()
	}
	return txCount(5)()
}

// fakeHandler counts success callbacks
type fakeHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeHandler) OnVerificationSuccess(ctx context.Context, address, appID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, address+"/"+appID)
	return nil
}

func (h *fakeHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func testRegistry() *registry.Registry {
	return registry.New([]*registry.Entry{{
		AppID: testApp,
		Name:  "Test App",
		Contracts: []registry.ContractRef{
			{Name: "core", Address: common.HexToAddress(testContract)},
		},
	}})
}

func newTestManager(t *testing.T, reader ActivityReader, handler SuccessHandler, maxAttempts int) (*Manager, *notification.OutcomeHub) {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	cfg := &config.VerificationConfig{
		LookbackWindow:  2 * time.Hour,
		MaxAttempts:     maxAttempts,
		InitialBackoff:  time.Millisecond,
		LateBackoff:     2 * time.Millisecond,
		BackoffSwitch:   4,
		ScanChunkSize:   25,
		ScanConcurrency: 2,
	}
	hub := notification.NewOutcomeHub(&config.NotificationConfig{BufferSize: 16})

	m := NewManager(reader, testRegistry(), cfg, hub, handler, nil)
	t.Cleanup(m.Shutdown)
	return m, hub
}

func waitForOutcome(t *testing.T, ch <-chan models.SessionOutcome) models.SessionOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for session outcome")
		return models.SessionOutcome{}
	}
}

func TestVerificationSucceedsWhenCountRises(t *testing.T) {
	// Baseline 5, then two stagnant polls, then growth
	reader := &fakeReader{script: []func() ([]models.Transaction, error){
		txCount(5), txCount(5), txCount(5), txCount(6),
	}}
	handler := &fakeHandler{}
	m, hub := newTestManager(t, reader, handler, 12)
	_, outcomes := hub.Subscribe()

	session, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{})
	if err != nil {
		t.Fatalf("Failed to start verification: %v", err)
	}
	if session.BaselineCount != 5 {
		t.Errorf("Expected baseline 5, got %d", session.BaselineCount)
	}
	if session.Status != models.SessionPolling {
		t.Errorf("Expected polling status, got %s", session.Status)
	}

	out := waitForOutcome(t, outcomes)
	if out.Status != models.SessionSucceeded {
		t.Fatalf("Expected success, got %s", out.Status)
	}
	if out.Attempt != 3 {
		t.Errorf("Expected success on attempt 3, got %d", out.Attempt)
	}
	if !out.Rewarded {
		t.Error("Succeeded session must be rewarded")
	}
	if out.MatchedTxHash == "" {
		t.Error("Expected a matched transaction hash")
	}
	if out.ErrorCode != "" {
		t.Errorf("Succeeded outcome must carry no error code, got %q", out.ErrorCode)
	}
	if handler.callCount() != 1 {
		t.Errorf("Expected exactly one success callback, got %d", handler.callCount())
	}
	t.Logf("✓ Session succeeded on attempt %d with exactly one reward", out.Attempt)
}

func TestVerificationTimesOut(t *testing.T) {
	reader := &fakeReader{script: []func() ([]models.Transaction, error){txCount(5)}}
	handler := &fakeHandler{}
	m, hub := newTestManager(t, reader, handler, 3)
	_, outcomes := hub.Subscribe()

	if _, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{}); err != nil {
		t.Fatalf("Failed to start verification: %v", err)
	}

	out := waitForOutcome(t, outcomes)
	if out.Status != models.SessionTimedOut {
		t.Fatalf("Expected timeout, got %s", out.Status)
	}
	if out.Attempt != 3 {
		t.Errorf("Expected 3 attempts, got %d", out.Attempt)
	}
	if out.Rewarded {
		t.Error("Timed-out session must not be rewarded")
	}
	if out.ErrorCode != utils.ErrCodeVerificationTimeout {
		t.Errorf("Timed-out outcome must carry VERIFICATION_TIMEOUT, got %q", out.ErrorCode)
	}
	if handler.callCount() != 0 {
		t.Errorf("Expected no success callbacks, got %d", handler.callCount())
	}
	t.Logf("✓ Session timed out after %d attempts without reward", out.Attempt)
}

func TestTransientFailureThenSuccess(t *testing.T) {
	// Baseline, one failed poll, one stagnant poll, then growth
	reader := &fakeReader{script: []func() ([]models.Transaction, error){
		txCount(5), readFailure, txCount(5), txCount(7),
	}}
	handler := &fakeHandler{}
	m, hub := newTestManager(t, reader, handler, 12)
	_, outcomes := hub.Subscribe()

	if _, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{}); err != nil {
		t.Fatalf("Failed to start verification: %v", err)
	}

	out := waitForOutcome(t, outcomes)
	if out.Status != models.SessionSucceeded {
		t.Fatalf("Expected success, got %s", out.Status)
	}
	if out.Attempt != 3 {
		t.Errorf("Failed poll must consume an attempt; expected success at 3, got %d", out.Attempt)
	}
	if handler.callCount() != 1 {
		t.Errorf("Expected exactly one success callback, got %d", handler.callCount())
	}
	t.Logf("✓ Transient read failure consumed an attempt, session still succeeded")
}

func TestBaselineFailureAbortsStart(t *testing.T) {
	reader := &fakeReader{script: []func() ([]models.Transaction, error){readFailure}}
	m, _ := newTestManager(t, reader, &fakeHandler{}, 12)

	_, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{})
	if err == nil {
		t.Fatal("Expected baseline failure to abort session creation")
	}
	if utils.ErrorCode(err) != utils.ErrCodeRemoteUnavailable {
		t.Errorf("Expected REMOTE_UNAVAILABLE, got %v", err)
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("No session should exist, got %d", m.ActiveSessions())
	}
	t.Logf("✓ Failed baseline read aborts creation instead of guessing")
}

func TestSupersession(t *testing.T) {
	reader := &fakeReader{script: []func() ([]models.Transaction, error){txCount(5)}}
	handler := &fakeHandler{}
	m, hub := newTestManager(t, reader, handler, 1000)
	_, outcomes := hub.Subscribe()

	first, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{})
	if err != nil {
		t.Fatalf("Failed to start first session: %v", err)
	}

	second, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{})
	if err != nil {
		t.Fatalf("Failed to start second session: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("Second start must create a new session")
	}

	out := waitForOutcome(t, outcomes)
	if out.SessionID != first.ID {
		t.Fatalf("Expected the first session to finish first, got %s", out.SessionID)
	}
	if out.Status != models.SessionCancelled {
		t.Errorf("Superseded session must be cancelled, got %s", out.Status)
	}

	current, err := m.GetSession(testAddress, testApp)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if current.ID != second.ID {
		t.Errorf("Lookup must return the replacement session")
	}
	if current.Status != models.SessionPolling {
		t.Errorf("Replacement session should be polling, got %s", current.Status)
	}
	t.Logf("✓ New session cancelled and replaced the prior one")
}

func TestLateMatchingResultIsDiscarded(t *testing.T) {
	reader := &blockingReader{polling: make(chan struct{}, 1), release: make(chan struct{})}
	handler := &fakeHandler{}
	m, hub := newTestManager(t, reader, handler, 1000)
	_, outcomes := hub.Subscribe()

	first, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{})
	if err != nil {
		t.Fatalf("Failed to start first session: %v", err)
	}

	// Wait until the first session's poll is actually in flight
	select {
	case <-reader.polling:
	case <-time.After(5 * time.Second):
		t.Fatal("First session never issued a poll")
	}

	second, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{})
	if err != nil {
		t.Fatalf("Failed to start second session: %v", err)
	}

	out := waitForOutcome(t, outcomes)
	if out.SessionID != first.ID {
		t.Fatalf("Expected the superseded session to finish, got %s", out.SessionID)
	}
	if out.Status != models.SessionCancelled {
		t.Fatalf("Superseded session must be cancelled, got %s", out.Status)
	}

	// Release the in-flight read with a count above the baseline, then
	// drain all pollers before inspecting state
	close(reader.release)
	m.Shutdown()

	if handler.callCount() != 0 {
		t.Errorf("Late matching result must not trigger a reward, got %d callbacks", handler.callCount())
	}
	select {
	case extra := <-outcomes:
		t.Fatalf("Late result must not publish an outcome, got %s for %s", extra.Status, extra.SessionID)
	default:
	}

	current, err := m.GetSession(testAddress, testApp)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if current.ID != second.ID {
		t.Errorf("Lookup must return the replacement session")
	}
	if current.Rewarded || current.MatchedTxHash != "" {
		t.Errorf("Replacement session must be untouched, got rewarded=%v hash=%q", current.Rewarded, current.MatchedTxHash)
	}
	t.Logf("✓ Matching read that returned after supersession was discarded without reward")
}

func TestCancel(t *testing.T) {
	reader := &fakeReader{script: []func() ([]models.Transaction, error){txCount(5)}}
	m, hub := newTestManager(t, reader, &fakeHandler{}, 1000)
	_, outcomes := hub.Subscribe()

	if _, err := m.StartVerification(context.Background(), testAddress, testApp, StartOptions{}); err != nil {
		t.Fatalf("Failed to start verification: %v", err)
	}
	if err := m.Cancel(testAddress, testApp); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	out := waitForOutcome(t, outcomes)
	if out.Status != models.SessionCancelled {
		t.Fatalf("Expected cancelled, got %s", out.Status)
	}
	if out.Rewarded {
		t.Error("Cancelled session must not be rewarded")
	}

	// Cancelling a terminal session is a no-op
	if err := m.Cancel(testAddress, testApp); err != nil {
		t.Errorf("Repeat cancel should succeed quietly: %v", err)
	}
	t.Logf("✓ Cancel stops polling and publishes a cancelled outcome")
}

func TestGetSessionValidation(t *testing.T) {
	reader := &fakeReader{script: []func() ([]models.Transaction, error){txCount(0)}}
	m, _ := newTestManager(t, reader, &fakeHandler{}, 12)

	if _, err := m.GetSession(testAddress, "unknown"); !utils.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if _, err := m.GetSession("nonsense", testApp); utils.ErrorCode(err) != utils.ErrCodeInvalidInput {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
	if _, err := m.StartVerification(context.Background(), testAddress, "unknown", StartOptions{}); !utils.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND for unknown app, got %v", err)
	}
}
