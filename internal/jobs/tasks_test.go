package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type recordingEvictor struct {
	stores []string
	err    error
}

func (r *recordingEvictor) Evict(_ context.Context, storeID string) error {
	r.stores = append(r.stores, storeID)
	return r.err
}

func TestNewInvalidateStoreTask(t *testing.T) {
	task, err := NewInvalidateStoreTask("s1")
	require.NoError(t, err)
	require.Equal(t, TaskInvalidateStoreCache, task.Type())

	var payload InvalidateStorePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "s1", payload.StoreID)
}

func TestHandleInvalidateStoreTaskEvictsStore(t *testing.T) {
	evictor := &recordingEvictor{}
	task, err := NewInvalidateStoreTask("s1")
	require.NoError(t, err)

	require.NoError(t, HandleInvalidateStoreTask(evictor)(context.Background(), task))
	require.Equal(t, []string{"s1"}, evictor.stores)
}

func TestHandleInvalidateStoreTaskPropagatesEvictionFailure(t *testing.T) {
	evictor := &recordingEvictor{err: errors.New("redis down")}
	task, err := NewInvalidateStoreTask("s1")
	require.NoError(t, err)

	err = HandleInvalidateStoreTask(evictor)(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry), "eviction failures must be retried")
}

func TestHandleInvalidateStoreTaskSkipsRetryOnBadPayload(t *testing.T) {
	evictor := &recordingEvictor{}

	err := HandleInvalidateStoreTask(evictor)(context.Background(), asynq.NewTask(TaskInvalidateStoreCache, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = HandleInvalidateStoreTask(evictor)(context.Background(), asynq.NewTask(TaskInvalidateStoreCache, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, evictor.stores)
}
