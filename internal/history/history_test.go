package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factotum-dev/factotum/internal/refine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testResult(topic string) *refine.Result {
	return &refine.Result{
		ID:         uuid.New().String(),
		Topic:      topic,
		Research:   "verified research about " + topic,
		Iterations: 3,
		Elapsed:    1500 * time.Millisecond,
	}
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	result := testResult("quantum computing")
	confidence := 0.92
	result.Confidence = &confidence

	require.NoError(t, store.Record(ctx, result, "test-model"))

	run, err := store.Get(ctx, result.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, result.ID, run.ID)
	assert.Equal(t, "quantum computing", run.Topic)
	assert.Equal(t, result.Research, run.Research)
	assert.Equal(t, 3, run.Iterations)
	require.NotNil(t, run.Confidence)
	assert.Equal(t, 0.92, *run.Confidence)
	assert.Equal(t, "test-model", run.Model)
	assert.Equal(t, 1500*time.Millisecond, run.Duration)
	assert.False(t, run.CreatedAt.IsZero())
}

func TestRecord_NilConfidence(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	result := testResult("no confidence")
	require.NoError(t, store.Record(ctx, result, "test-model"))

	run, err := store.Get(ctx, result.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Nil(t, run.Confidence)
}

func TestRecord_NilResult(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.Record(context.Background(), nil, "test-model"))
}

func TestRecord_DuplicateID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	result := testResult("dup")
	require.NoError(t, store.Record(ctx, result, "m"))
	assert.Error(t, store.Record(ctx, result, "m"))
}

func TestGet_NotFound(t *testing.T) {
	store := openTestStore(t)

	run, err := store.Get(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, testResult("topic"), "m"))
	}

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 5)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestList_Empty(t *testing.T) {
	store := openTestStore(t)

	runs, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
