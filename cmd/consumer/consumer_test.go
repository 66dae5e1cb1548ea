package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/models"
)

// fakeWriter fails the first failFor calls, then delegates to an in-memory index.
type fakeWriter struct {
	failFor int
	err     error
	calls   int
	index   *directory.Index
}

func (f *fakeWriter) Upsert(ctx context.Context, u models.AvailabilityUpdate) (models.Provider, error) {
	f.calls++
	if f.calls <= f.failFor {
		return models.Provider{}, f.err
	}
	return f.index.Upsert(ctx, u)
}

func update() models.AvailabilityUpdate {
	return models.AvailabilityUpdate{ProviderID: "m1", Available: true, Location: models.Coord{Lat: 1, Lon: 2}}
}

func TestUpsertWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeWriter{failFor: 2, err: errors.New("redis timeout"), index: directory.NewIndex()}
	start := time.Now()
	require.NoError(t, upsertWithRetry(context.Background(), f, update(), 3, 10*time.Millisecond))
	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "expected doubling backoff")

	p, err := f.index.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 2}, *p.Location)
}

func TestUpsertWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeWriter{failFor: 5, err: errors.New("redis timeout"), index: directory.NewIndex()}
	require.Error(t, upsertWithRetry(context.Background(), f, update(), 3, time.Millisecond))
	assert.Equal(t, 3, f.calls)
}

func TestUpsertWithRetryDoesNotRetrySuspended(t *testing.T) {
	f := &fakeWriter{failFor: 5, err: directory.ErrSuspended, index: directory.NewIndex()}
	err := upsertWithRetry(context.Background(), f, update(), 3, time.Millisecond)
	require.ErrorIs(t, err, directory.ErrSuspended)
	assert.Equal(t, 1, f.calls)
}

func TestUpsertWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeWriter{failFor: 5, err: errors.New("redis timeout"), index: directory.NewIndex()}
	err := upsertWithRetry(ctx, f, update(), 3, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.calls)
}
