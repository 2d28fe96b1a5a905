package notification

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventRewardCredited    EventType = "reward.credited"
	EventWithdrawalQueued  EventType = "withdrawal.queued"
	EventWithdrawalSettled EventType = "withdrawal.settled"
	EventWithdrawalFailed  EventType = "withdrawal.failed"
)

// Event is the payload pushed to a user's live connections.
type Event struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"user_id"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const subscriberBuffer = 16

// Broker fans events out to a user's active connections. Each connection
// (browser tab, device) subscribes under its own connID, so one user can hold
// several independent streams. Publish never blocks: a subscriber that has
// fallen subscriberBuffer events behind loses the event.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan Event
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[string]chan Event)}
}

// Subscribe registers a connection and returns its event channel. The channel
// is closed by Unsubscribe, never by Publish.
func (b *Broker) Subscribe(userID, connID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	conns, ok := b.subs[userID]
	if !ok {
		conns = make(map[string]chan Event)
		b.subs[userID] = conns
	}
	if prev, ok := conns[connID]; ok {
		close(prev)
	}
	conns[connID] = ch

	return ch
}

func (b *Broker) Unsubscribe(userID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conns, ok := b.subs[userID]
	if !ok {
		return
	}
	ch, ok := conns[connID]
	if !ok {
		return
	}

	close(ch)
	delete(conns, connID)
	if len(conns) == 0 {
		delete(b.subs, userID)
	}
}

// Publish delivers the event to every connection of the target user. Slow
// consumers are skipped rather than awaited.
func (b *Broker) Publish(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for connID, ch := range b.subs[event.UserID] {
		select {
		case ch <- event:
		default:
			zap.L().Warn("notification dropped for slow subscriber",
				zap.String("user_id", event.UserID),
				zap.String("conn_id", connID),
				zap.String("event_type", string(event.Type)),
			)
		}
	}
}

// SubscriberCount reports active connections for a user.
func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
