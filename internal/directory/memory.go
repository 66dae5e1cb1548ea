package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
)

// Index is an in-process directory for single-node runs and tests.
type Index struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewIndex() *Index {
	return &Index{providers: make(map[string]models.Provider)}
}

// Put stores p as-is, replacing any previous snapshot.
func (g *Index) Put(p models.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.providers[p.ID] = p
}

func (g *Index) Upsert(_ context.Context, u models.AvailabilityUpdate) (models.Provider, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := apply(g.providers[u.ProviderID], u)
	if err != nil {
		return p, err
	}
	p.Updated = time.Now()
	g.providers[p.ID] = p
	return p, nil
}

func (g *Index) Get(_ context.Context, providerID string) (models.Provider, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[providerID]
	if !ok {
		return models.Provider{}, ErrProviderNotFound
	}
	return p, nil
}

func (g *Index) ListEligible(_ context.Context, kind models.ServiceKind) ([]models.Provider, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Provider, 0, len(g.providers))
	for _, p := range g.providers {
		if Eligible(p, kind) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// naive scan; fine for a single node
func (g *Index) Nearby(_ context.Context, at models.Coord, kind models.ServiceKind, limit int) ([]models.Provider, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.Provider
		dist float64
	}
	arr := make([]pair, 0, len(g.providers))
	for _, p := range g.providers {
		if !Eligible(p, kind) {
			continue
		}
		arr = append(arr, pair{p, geo.Distance(at, *p.Location)})
	}
	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist || (arr[j].dist == arr[minIdx].dist && arr[j].p.ID < arr[minIdx].p.ID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Provider, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out, nil
}
