package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"

	TaskInvalidateStoreCache = "cache:invalidate_store"
)

type InvalidateStorePayload struct {
	StoreID string `json:"store_id"`
}

func NewInvalidateStoreTask(storeID string) (*asynq.Task, error) {
	payload, err := json.Marshal(InvalidateStorePayload{StoreID: storeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvalidateStoreCache, payload), nil
}

// Evictor clears every cached read model of a store.
type Evictor interface {
	Evict(ctx context.Context, storeID string) error
}

// HandleInvalidateStoreTask retries a store eviction; returning an error
// lets asynq reschedule it.
func HandleInvalidateStoreTask(evictor Evictor) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload InvalidateStorePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
		}
		if payload.StoreID == "" {
			return fmt.Errorf("%s without store id: %w", task.Type(), asynq.SkipRetry)
		}
		return evictor.Evict(ctx, payload.StoreID)
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
	delay  time.Duration
}

func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts), delay: 5 * time.Second}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ScheduleStoreInvalidation queues one eviction per store at a time; a
// duplicate request while one is pending is dropped.
func (c *Client) ScheduleStoreInvalidation(ctx context.Context, storeID string) error {
	task, err := NewInvalidateStoreTask(storeID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.ProcessIn(c.delay),
		asynq.MaxRetry(8),
		asynq.Timeout(30*time.Second),
		asynq.Unique(time.Minute),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}
