package directory

import (
	"context"
	"errors"

	"github.com/example/roadside-dispatch/internal/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrSuspended        = errors.New("provider suspended")
)

// Directory is the read side the dispatch engine depends on.
type Directory interface {
	Get(ctx context.Context, providerID string) (models.Provider, error)
	ListEligible(ctx context.Context, kind models.ServiceKind) ([]models.Provider, error)
}

// Locator finds eligible providers closest to a point, nearest first.
type Locator interface {
	Nearby(ctx context.Context, at models.Coord, kind models.ServiceKind, limit int) ([]models.Provider, error)
}

// Writer applies availability reports. Only the directory's owners use it;
// dispatch never writes providers.
type Writer interface {
	Upsert(ctx context.Context, u models.AvailabilityUpdate) (models.Provider, error)
}

// Eligible reports whether p may be offered work of kind k right now.
func Eligible(p models.Provider, k models.ServiceKind) bool {
	return p.Approved && !p.Suspended && p.Available && p.Location != nil && p.Preference.Accepts(k)
}

// apply folds u into p. A suspended provider may only be changed by an
// update that itself carries the suspension flag.
func apply(p models.Provider, u models.AvailabilityUpdate) (models.Provider, error) {
	if p.Suspended && u.Suspended == nil {
		return p, ErrSuspended
	}
	p.ID = u.ProviderID
	p.Available = u.Available
	loc := u.Location
	p.Location = &loc
	if u.Approved != nil {
		p.Approved = *u.Approved
	}
	if u.Suspended != nil {
		p.Suspended = *u.Suspended
	}
	if u.Preference != "" {
		p.Preference = u.Preference
	}
	if p.Preference == "" {
		p.Preference = models.PreferenceBoth
	}
	return p, nil
}
