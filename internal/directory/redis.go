package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/models"
)

// RedisDirectory keeps provider locations in a GEO set and provider flags in
// one hash per provider.
type RedisDirectory struct {
	client   redis.UniversalClient
	key      string
	radiusKm float64
	now      func() time.Time
}

// DefaultRadiusKm bounds Nearby when no radius is configured.
const DefaultRadiusKm = 50.0

func NewRedisDirectory(client redis.UniversalClient, key string) *RedisDirectory {
	if key == "" {
		key = "providers_geo"
	}
	return &RedisDirectory{client: client, key: key, radiusKm: DefaultRadiusKm, now: time.Now}
}

// WithRadius bounds Nearby searches.
func (r *RedisDirectory) WithRadius(km float64) *RedisDirectory {
	if km > 0 {
		r.radiusKm = km
	}
	return r
}

func metaKey(id string) string { return "provider:meta:" + id }

func (r *RedisDirectory) Upsert(ctx context.Context, u models.AvailabilityUpdate) (models.Provider, error) {
	current, err := r.Get(ctx, u.ProviderID)
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		return models.Provider{}, err
	}
	p, err := apply(current, u)
	if err != nil {
		return p, err
	}
	p.Updated = r.now().UTC()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Location.Lon, Latitude: p.Location.Lat, Name: p.ID})
		pipe.HSet(ctx, metaKey(p.ID),
			"approved", strconv.FormatBool(p.Approved),
			"suspended", strconv.FormatBool(p.Suspended),
			"available", strconv.FormatBool(p.Available),
			"preference", string(p.Preference),
			"updated", p.Updated.Format(time.RFC3339),
		)
		return nil
	})
	if err != nil {
		return models.Provider{}, fmt.Errorf("upsert provider %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *RedisDirectory) Get(ctx context.Context, providerID string) (models.Provider, error) {
	var (
		meta *redis.MapStringStringCmd
		pos  *redis.GeoPosCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, metaKey(providerID))
		pos = pipe.GeoPos(ctx, r.key, providerID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.Provider{}, fmt.Errorf("get provider %s: %w", providerID, err)
	}
	m := meta.Val()
	positions := pos.Val()
	hasPos := len(positions) == 1 && positions[0] != nil
	if len(m) == 0 && !hasPos {
		return models.Provider{}, ErrProviderNotFound
	}
	p := fromMeta(providerID, m)
	if hasPos {
		p.Location = &models.Coord{Lat: positions[0].Latitude, Lon: positions[0].Longitude}
	}
	return p, nil
}

func (r *RedisDirectory) ListEligible(ctx context.Context, kind models.ServiceKind) ([]models.Provider, error) {
	ids, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	out := make([]models.Provider, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrProviderNotFound) {
				continue
			}
			return nil, err
		}
		if Eligible(p, kind) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisDirectory) Nearby(ctx context.Context, at models.Coord, kind models.ServiceKind, limit int) ([]models.Provider, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  at.Lon,
			Latitude:   at.Lat,
			Radius:     r.radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("nearby providers: %w", err)
	}
	out := make([]models.Provider, 0, len(res))
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			return nil, fmt.Errorf("provider meta %s: %w", g.Name, err)
		}
		p := fromMeta(g.Name, m)
		p.Location = &models.Coord{Lat: g.Latitude, Lon: g.Longitude}
		if !Eligible(p, kind) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func fromMeta(id string, m map[string]string) models.Provider {
	p := models.Provider{ID: id, Preference: models.PreferenceBoth}
	if v, ok := m["approved"]; ok {
		p.Approved = v == "true"
	}
	if v, ok := m["suspended"]; ok {
		p.Suspended = v == "true"
	}
	if v, ok := m["available"]; ok {
		p.Available = v == "true"
	}
	if v := m["preference"]; v != "" {
		p.Preference = models.ServicePreference(v)
	}
	if v, ok := m["updated"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			p.Updated = ts
		}
	}
	return p
}
