// Package notify fans stock changes out to real-time listeners.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Subscriber delivers events published to topic until ctx ends or the
// returned cancel func is called. Slow consumers lose events rather than
// block publishers.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}

type Broker interface {
	Publisher
	Subscriber
}

const subscriberBuffer = 64

// RedisBroker uses Redis pub/sub so every server instance sees every event.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("notify: subscribe %s: %w", topic, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}
	return out, cancel, nil
}

// LocalBroker delivers events within one process.
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*localSub]struct{}
}

type localSub struct {
	ch   chan Event
	once sync.Once
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: map[string]map[*localSub]struct{}{}}
}

func (b *LocalBroker) Publish(_ context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	sub := &localSub{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[*localSub]struct{}{}
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], sub)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return sub.ch, func() {
		stop()
		cancel()
	}, nil
}
