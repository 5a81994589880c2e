package events

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const redisQueueSize = 256

// redisClient is the subset of *redis.Client the publisher needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher mirrors events onto a Redis pub/sub channel so other
// processes can follow the session. Publishing is queued and never blocks.
type RedisPublisher struct {
	client  redisClient
	channel string
	queue   chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, channel string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisPublisher(rdb, channel), nil
}

func newRedisPublisher(client redisClient, channel string) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan Event, redisQueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *RedisPublisher) Publish(_ context.Context, event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- Stamp(event):
	default:
		log.Printf("[events] redis queue full, dropped %s", event.Type)
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		payload, err := sonic.Marshal(event)
		if err != nil {
			log.Printf("[events] failed to encode %s: %v", event.Type, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.client.Publish(ctx, p.channel, string(payload)).Err(); err != nil {
			log.Printf("[events] redis publish of %s failed: %v", event.Type, err)
		}
		cancel()
	}
}

// Close drains queued events and closes the connection.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.client.Close()
}
