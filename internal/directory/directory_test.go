package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func seed(t *testing.T, idx *Index, id string, lat, lon float64, pref models.ServicePreference) {
	t.Helper()
	_, err := idx.Upsert(context.Background(), models.AvailabilityUpdate{
		ProviderID: id,
		Available:  true,
		Location:   models.Coord{Lat: lat, Lon: lon},
		Approved:   boolPtr(true),
		Preference: pref,
	})
	require.NoError(t, err)
}

func TestIndexUpsertAndGet(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()

	_, err := idx.Get(ctx, "m1")
	require.ErrorIs(t, err, ErrProviderNotFound)

	p, err := idx.Upsert(ctx, models.AvailabilityUpdate{ProviderID: "m1", Available: true, Location: models.Coord{Lat: 1, Lon: 2}})
	require.NoError(t, err)
	assert.Equal(t, models.PreferenceBoth, p.Preference)
	assert.False(t, p.Approved)

	got, err := idx.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 2}, *got.Location)
	assert.False(t, got.Updated.IsZero())
}

func TestIndexUpsertRefusesSuspended(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_, err := idx.Upsert(ctx, models.AvailabilityUpdate{ProviderID: "m1", Suspended: boolPtr(true)})
	require.NoError(t, err)

	_, err = idx.Upsert(ctx, models.AvailabilityUpdate{ProviderID: "m1", Available: true})
	require.ErrorIs(t, err, ErrSuspended)

	_, err = idx.Upsert(ctx, models.AvailabilityUpdate{ProviderID: "m1", Available: true, Suspended: boolPtr(false)})
	require.NoError(t, err)
}

func TestIndexListEligibleFiltersPreference(t *testing.T) {
	idx := NewIndex()
	seed(t, idx, "both", 0, 0, models.PreferenceBoth)
	seed(t, idx, "emergency", 0, 0, models.PreferenceEmergencyOnly)
	seed(t, idx, "scheduled", 0, 0, models.PreferenceScheduledOnly)
	idx.Put(models.Provider{ID: "unapproved", Available: true, Location: &models.Coord{}, Preference: models.PreferenceBoth})
	idx.Put(models.Provider{ID: "suspended", Approved: true, Suspended: true, Available: true, Location: &models.Coord{}})
	idx.Put(models.Provider{ID: "nowhere", Approved: true, Available: true, Preference: models.PreferenceBoth})

	emergency, err := idx.ListEligible(context.Background(), models.ServiceEmergency)
	require.NoError(t, err)
	assert.Equal(t, []string{"both", "emergency"}, ids(emergency))

	scheduled, err := idx.ListEligible(context.Background(), models.ServiceScheduled)
	require.NoError(t, err)
	assert.Equal(t, []string{"both", "scheduled"}, ids(scheduled))
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	idx := NewIndex()
	seed(t, idx, "far", 13.10, 77.70, models.PreferenceBoth)
	seed(t, idx, "near", 12.98, 77.60, models.PreferenceBoth)
	seed(t, idx, "mid", 13.00, 77.62, models.PreferenceEmergencyOnly)
	seed(t, idx, "opted-out", 12.97, 77.59, models.PreferenceScheduledOnly)

	at := models.Coord{Lat: 12.97, Lon: 77.59}
	all, err := idx.Nearby(context.Background(), at, models.ServiceEmergency, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid", "far"}, ids(all))

	top, err := idx.Nearby(context.Background(), at, models.ServiceEmergency, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid"}, ids(top))
}

func TestFromMetaDefaults(t *testing.T) {
	p := fromMeta("m1", map[string]string{"approved": "true", "available": "true"})
	assert.True(t, p.Approved)
	assert.False(t, p.Suspended)
	assert.Equal(t, models.PreferenceBoth, p.Preference)

	p = fromMeta("m2", map[string]string{"preference": "ScheduledOnly", "suspended": "true"})
	assert.Equal(t, models.PreferenceScheduledOnly, p.Preference)
	assert.True(t, p.Suspended)
}

func ids(ps []models.Provider) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
