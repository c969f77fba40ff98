package notification

import (
	"context"
	"testing"
	"time"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/internal/models"
	"github.com/questforge/questforge/pkg/utils"
)

func newTestHub(bufferSize int) *OutcomeHub {
	utils.InitLogger("error", "text", "stdout", "")
	return NewOutcomeHub(&config.NotificationConfig{BufferSize: bufferSize})
}

func testOutcome(id string) models.SessionOutcome {
	return models.SessionOutcome{
		SessionID:   id,
		UserAddress: "0xabc1234567890123456789012345678901234567",
		AppID:       "kuru",
		Status:      models.SessionSucceeded,
		CompletedAt: time.Now().UTC(),
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := newTestHub(4)

	_, first := hub.Subscribe()
	_, second := hub.Subscribe()

	hub.Publish(context.Background(), testOutcome("s1"))

	for i, ch := range []<-chan models.SessionOutcome{first, second} {
		select {
		case out := <-ch:
			if out.SessionID != "s1" {
				t.Errorf("Subscriber %d got wrong outcome: %s", i, out.SessionID)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d never received the outcome", i)
		}
	}
	t.Logf("✓ Outcome fanned out to every subscriber")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := newTestHub(4)

	id, ch := hub.Subscribe()
	hub.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Error("Channel must be closed after unsubscribe")
	}

	// Publishing after removal must not panic
	hub.Publish(context.Background(), testOutcome("s2"))
	t.Logf("✓ Unsubscribe closes the channel cleanly")
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := newTestHub(1)

	_, ch := hub.Subscribe()

	// Fill the buffer, then keep publishing
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(context.Background(), testOutcome("flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The subscriber still got at least the first outcome
	select {
	case out := <-ch:
		if out.SessionID != "flood" {
			t.Errorf("Unexpected outcome: %s", out.SessionID)
		}
	default:
		t.Error("Expected at least one buffered outcome")
	}
	t.Logf("✓ Full buffers drop outcomes instead of blocking")
}
