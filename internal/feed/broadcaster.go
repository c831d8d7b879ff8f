// ABOUTME: In-memory fan-out of committed update records to same-process subscribers
// ABOUTME: Injected dependency scoped to the process lifetime, never a singleton

package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/looma-sync/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for committed UpdateRecords.
// Subscribers register for a user id and receive that user's records as
// they commit in this process. Cross-process delivery goes through
// Service.ReadSince polling instead.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.UpdateRecord // userID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.UpdateRecord),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for a user's updates. Returns a channel
// that receives records and a subscription ID for later unsubscription.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan *store.UpdateRecord, string) {
	subID := uuid.New().String()
	ch := make(chan *store.UpdateRecord, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan *store.UpdateRecord)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish sends a record to all subscribers of its user. Non-blocking:
// records are dropped for subscribers whose channels are full — the poll
// path re-delivers anything missed.
func (b *Broadcaster) Publish(rec *store.UpdateRecord) {
	// Sends stay under the read lock: Unsubscribe and Close only close a
	// channel while holding the write lock, so no channel can close
	// mid-send. The sends never block, so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[rec.UserID] {
		select {
		case ch <- rec:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"user_id", rec.UserID,
				"seq", rec.Seq)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}

	b.logger.Debug("broadcaster closed")
}
