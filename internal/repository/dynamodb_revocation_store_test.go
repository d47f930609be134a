package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDynamoStoreTest(t *testing.T) (*DynamoRevocationStore, *fakeDynamo, *time.Time) {
	t.Helper()
	fake := newFakeDynamo()
	store := NewDynamoRevocationStore(fake, "ChatAuthTable", time.Second, testLogger())
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	return store, fake, &now
}

func TestDynamoRevocationStore_SetExistsDelete(t *testing.T) {
	store, fake, _ := newDynamoStoreTest(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Set(ctx, "jti-1", time.Hour))
	assert.Contains(t, fake.items, "REVOKED#jti-1|METADATA")

	exists, err = store.Exists(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "jti-1"))

	exists, err = store.Exists(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDynamoRevocationStore_ExpiredItemIsAbsent(t *testing.T) {
	store, _, now := newDynamoStoreTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "jti-1", time.Minute))
	*now = now.Add(2 * time.Minute)

	exists, err := store.Exists(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := store.SetIfAbsent(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDynamoRevocationStore_CallTimeout(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoRevocationStore(fake, "ChatAuthTable", 3*time.Second, testLogger())

	start := time.Now()
	_, err := store.Exists(context.Background(), "jti-1")
	require.NoError(t, err)
	require.False(t, fake.deadline.IsZero())
	assert.WithinDuration(t, start.Add(3*time.Second), fake.deadline, time.Second)
}

func TestDynamoRevocationStore_SetIfAbsent(t *testing.T) {
	store, _, _ := newDynamoStoreTest(t)
	ctx := context.Background()

	created, err := store.SetIfAbsent(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.SetIfAbsent(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestDynamoRevocationStore_Errors(t *testing.T) {
	store, fake, _ := newDynamoStoreTest(t)
	ctx := context.Background()
	fake.err = errors.New("throughput exceeded")

	_, err := store.Exists(ctx, "jti-1")
	assert.ErrorIs(t, err, fake.err)
	assert.ErrorIs(t, store.Set(ctx, "jti-1", time.Minute), fake.err)
	_, err = store.SetIfAbsent(ctx, "jti-1", time.Minute)
	assert.ErrorIs(t, err, fake.err)
	assert.ErrorIs(t, store.Delete(ctx, "jti-1"), fake.err)
}
