package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

// MemoryStore keeps requests in process. Every method holds the lock for its
// whole check and write, which gives the same per-record atomicity as the
// database-backed stores.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.EmergencyRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.EmergencyRequest)}
}

func (m *MemoryStore) Create(_ context.Context, r *models.EmergencyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.EmergencyRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListPending(_ context.Context, excludeProvider string) ([]*models.EmergencyRequest, error) {
	return m.list(func(r *models.EmergencyRequest) bool {
		return r.Status == models.StatusPending && !r.Rejected(excludeProvider)
	}, true), nil
}

func (m *MemoryStore) ListByRequester(_ context.Context, requesterID string, statuses ...models.Status) ([]*models.EmergencyRequest, error) {
	return m.list(func(r *models.EmergencyRequest) bool {
		return r.RequesterID == requesterID && statusIn(r.Status, statuses)
	}, false), nil
}

func (m *MemoryStore) ListByProvider(_ context.Context, providerID string) ([]*models.EmergencyRequest, error) {
	return m.list(func(r *models.EmergencyRequest) bool {
		return r.AssignedTo(providerID)
	}, false), nil
}

func (m *MemoryStore) Claim(_ context.Context, id, providerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusPending || r.Rejected(providerID) {
		return false, nil
	}
	p := providerID
	r.Status = models.StatusAccepted
	r.AssignedProvider = &p
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) AddRejection(_ context.Context, id, providerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusPending || r.Rejected(providerID) {
		return false, nil
	}
	r.RejectedBy = append(r.RejectedBy, providerID)
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) Resolve(_ context.Context, id, providerID string, to models.Status, at time.Time) (bool, error) {
	if to != models.StatusCompleted && to != models.StatusCancelled {
		return false, ErrBadOutcome
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != models.StatusAccepted || !r.AssignedTo(providerID) {
		return false, nil
	}
	r.Status = to
	if to == models.StatusCancelled {
		r.AssignedProvider = nil
		if !r.Rejected(providerID) {
			r.RejectedBy = append(r.RejectedBy, providerID)
		}
	}
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) list(keep func(*models.EmergencyRequest) bool, oldestFirst bool) []*models.EmergencyRequest {
	m.mu.RLock()
	out := make([]*models.EmergencyRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if oldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if oldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
	return out
}

func statusIn(s models.Status, set []models.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
