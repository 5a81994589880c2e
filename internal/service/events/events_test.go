package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(context.Background(), Event{Type: TypeSessionState, ConversationID: "c1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case event := <-ch:
			if event.Type != TypeSessionState || event.ConversationID != "c1" || event.Time.IsZero() {
				t.Fatalf("unexpected event: %+v", event)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(context.Background(), Event{Type: TypePlaybackPosition})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Subscribers())
	}
	hub.Publish(context.Background(), Event{Type: TypeSessionState})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func TestMultiForwardsInOrder(t *testing.T) {
	first, second := &recordingPublisher{}, &recordingPublisher{}
	Multi{first, nil, second}.Publish(context.Background(), Event{Type: TypeExportProgress})
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both publishers to receive the event")
	}
}

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
	messages []string
	closed   bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.(string))
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisPublisherEncodesEvents(t *testing.T) {
	client := &fakeRedis{}
	pub := newRedisPublisher(client, "thoughtforge.events")

	pub.Publish(context.Background(), Event{Type: TypePlaybackStarted, ConversationID: "c1", TurnID: "t1"})
	if err := pub.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	pub.Publish(context.Background(), Event{Type: TypePlaybackStopped})

	if !client.closed {
		t.Fatal("expected client to be closed")
	}
	if len(client.messages) != 1 || client.channels[0] != "thoughtforge.events" {
		t.Fatalf("unexpected publishes: %v on %v", client.messages, client.channels)
	}

	var decoded Event
	if err := sonic.UnmarshalString(client.messages[0], &decoded); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if decoded.Type != TypePlaybackStarted || decoded.TurnID != "t1" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}
