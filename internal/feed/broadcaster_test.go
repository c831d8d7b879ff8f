// ABOUTME: Tests for the in-memory update broadcaster
// ABOUTME: Covers fan-out, user isolation, drop-on-full, and unsubscription

package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/looma-sync/internal/store"
)

func testRecord(userID string, seq int64) *store.UpdateRecord {
	return &store.UpdateRecord{
		UserID:    userID,
		Seq:       seq,
		Type:      store.UpdateTypeSessionUpdated,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestBroadcaster_DeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	ch, _ := b.Subscribe(ctx, "u1")
	b.Publish(testRecord("u1", 1))

	select {
	case rec := <-ch:
		assert.Equal(t, int64(1), rec.Seq)
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
	}
}

func TestBroadcaster_UserIsolation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	ch1, _ := b.Subscribe(ctx, "u1")
	ch2, _ := b.Subscribe(ctx, "u2")

	b.Publish(testRecord("u1", 1))

	select {
	case rec := <-ch1:
		assert.Equal(t, "u1", rec.UserID)
	case <-time.After(time.Second):
		t.Fatal("u1 subscriber got nothing")
	}

	select {
	case rec := <-ch2:
		t.Fatalf("u2 subscriber received u1 record: %+v", rec)
	default:
	}
}

func TestBroadcaster_MultipleSubscribersAllReceive(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	ch1, _ := b.Subscribe(ctx, "u1")
	ch2, _ := b.Subscribe(ctx, "u1")

	b.Publish(testRecord("u1", 7))

	for _, ch := range []<-chan *store.UpdateRecord{ch1, ch2} {
		select {
		case rec := <-ch:
			assert.Equal(t, int64(7), rec.Seq)
		case <-time.After(time.Second):
			t.Fatal("subscriber got nothing")
		}
	}
}

func TestBroadcaster_DropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	ch, _ := b.Subscribe(ctx, "u1")

	// Overfill the buffer; publishes past capacity must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			b.Publish(testRecord("u1", int64(i+1)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "u1")
	b.Unsubscribe("u1", subID)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is a no-op
	b.Publish(testRecord("u1", 1))
}

func TestBroadcaster_PublishDuringUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	// Publishing while a subscriber tears down must never hit a closed
	// channel. Hammer the pair repeatedly to give the race a chance.
	for i := 0; i < 200; i++ {
		_, subID := b.Subscribe(ctx, "u1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish(testRecord("u1", int64(j+1)))
			}
		}()
		go func() {
			defer wg.Done()
			b.Unsubscribe("u1", subID)
		}()
		wg.Wait()
	}
}

func TestBroadcaster_ContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "u1")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
