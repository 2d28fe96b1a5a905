package notification

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestPublishFansOutPerConnection(t *testing.T) {
	b := NewBroker()

	tab1 := b.Subscribe("u1", "tab-1")
	tab2 := b.Subscribe("u1", "tab-2")
	other := b.Subscribe("u2", "tab-1")

	b.Publish(Event{Type: EventRewardCredited, UserID: "u1", Data: map[string]any{"amount": int64(10)}})

	ev1 := <-tab1
	ev2 := <-tab2
	require.Equal(t, EventRewardCredited, ev1.Type)
	require.Equal(t, EventRewardCredited, ev2.Type)
	require.False(t, ev1.CreatedAt.IsZero())

	select {
	case ev := <-other:
		t.Fatalf("unexpected event for other user: %+v", ev)
	default:
	}
}

func TestPublishToUserWithoutSubscribers(t *testing.T) {
	b := NewBroker()
	// Must not block or panic.
	b.Publish(Event{Type: EventWithdrawalSettled, UserID: "nobody"})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("u1", "slow")

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(Event{Type: EventRewardCredited, UserID: "u1"})
	}

	// The buffer holds its capacity; overflow was dropped, not queued.
	require.Equal(t, subscriberBuffer, len(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("u1", "tab-1")
	require.Equal(t, 1, b.SubscriberCount("u1"))

	b.Unsubscribe("u1", "tab-1")
	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, b.SubscriberCount("u1"))

	// Idempotent.
	b.Unsubscribe("u1", "tab-1")
}

func TestResubscribeSameConnection(t *testing.T) {
	b := NewBroker()
	old := b.Subscribe("u1", "tab-1")
	fresh := b.Subscribe("u1", "tab-1")

	_, open := <-old
	require.False(t, open)

	b.Publish(Event{Type: EventWithdrawalQueued, UserID: "u1"})
	ev := <-fresh
	require.Equal(t, EventWithdrawalQueued, ev.Type)
	require.Equal(t, 1, b.SubscriberCount("u1"))
}
