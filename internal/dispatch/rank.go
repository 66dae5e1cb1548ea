package dispatch

import (
	"sort"

	"github.com/example/roadside-dispatch/internal/eta"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
)

// Rank annotates each request with its distance and ETA from `from` and
// orders the result nearest first. Equal distances keep creation order, then
// request id.
func Rank(from models.Coord, reqs []*models.EmergencyRequest) []models.Candidate {
	out := make([]models.Candidate, 0, len(reqs))
	for _, r := range reqs {
		d := geo.Distance(from, r.Location)
		out = append(out, models.Candidate{Request: *r, DistanceKm: d, ETAMinutes: eta.Minutes(d)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if !a.Request.CreatedAt.Equal(b.Request.CreatedAt) {
			return a.Request.CreatedAt.Before(b.Request.CreatedAt)
		}
		return a.Request.ID < b.Request.ID
	})
	return out
}
