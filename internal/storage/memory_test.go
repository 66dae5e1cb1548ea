package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/models"
)

func newRequest(id, requester string, created time.Time) *models.EmergencyRequest {
	return &models.EmergencyRequest{
		ID:          id,
		RequesterID: requester,
		Location:    models.Coord{Lat: 12.97, Lon: 77.59},
		IssueType:   "flat tire",
		Vehicle:     models.Vehicle{Name: "Activa", Model: "2020", FuelType: "Petrol", VehicleType: models.VehicleMotorcycle},
		Status:      models.StatusPending,
		RejectedBy:  []string{},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestMemoryStoreCreateGetIsolatesCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRequest("r1", "u1", time.Now())
	require.NoError(t, s.Create(ctx, r))

	r.IssueType = "mutated after create"
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "flat tire", got.IssueType)

	got.RejectedBy = append(got.RejectedBy, "m9")
	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, again.RejectedBy)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGuardedWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Create(ctx, newRequest("r1", "u1", now)))

	ok, err := s.AddRejection(ctx, "r1", "m1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.AddRejection(ctx, "r1", "m1", now)
	assert.False(t, ok, "second rejection must not apply")

	ok, _ = s.Claim(ctx, "r1", "m1", now)
	assert.False(t, ok, "a provider that rejected cannot claim")

	ok, _ = s.Claim(ctx, "r1", "m2", now)
	assert.True(t, ok)
	ok, _ = s.Claim(ctx, "r1", "m3", now)
	assert.False(t, ok)

	ok, _ = s.Resolve(ctx, "r1", "m3", models.StatusCompleted, now)
	assert.False(t, ok, "only the assignee resolves")

	ok, err = s.Resolve(ctx, "r1", "m2", models.StatusCancelled, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.Get(ctx, "r1")
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.AssignedProvider)
	assert.Equal(t, []string{"m1", "m2"}, got.RejectedBy)

	_, err = s.Resolve(ctx, "r1", "m2", models.StatusPending, now)
	require.ErrorIs(t, err, ErrBadOutcome)
}

func TestMemoryStoreListOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, newRequest("b", "u1", base.Add(time.Minute))))
	require.NoError(t, s.Create(ctx, newRequest("a", "u1", base)))
	require.NoError(t, s.Create(ctx, newRequest("c", "u2", base.Add(2*time.Minute))))

	_, _ = s.AddRejection(ctx, "c", "m1", base)
	pending, err := s.ListPending(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, requestIDs(pending))

	_, _ = s.Claim(ctx, "a", "m2", base)
	mine, err := s.ListByRequester(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, requestIDs(mine))

	ongoing, err := s.ListByRequester(ctx, "u1", models.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, requestIDs(ongoing))

	assigned, err := s.ListByProvider(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, requestIDs(assigned))
}

func TestMemoryStoreConcurrentClaimSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRequest("r1", "u1", time.Now())))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Claim(ctx, "r1", fmt.Sprintf("m%d", i), time.Now())
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func requestIDs(rs []*models.EmergencyRequest) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
