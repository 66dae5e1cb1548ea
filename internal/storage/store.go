package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

var ErrNotFound = errors.New("request not found")

// RequestStore defines persistence operations for emergency requests.
//
// The guarded writes (Claim, AddRejection, Resolve) are each a single
// conditional update: they report false without error when the guard does
// not hold, and never read-then-write at the application level.
type RequestStore interface {
	Create(ctx context.Context, r *models.EmergencyRequest) error
	Get(ctx context.Context, id string) (*models.EmergencyRequest, error)

	// ListPending returns Pending requests whose rejection set does not
	// contain excludeProvider, oldest first.
	ListPending(ctx context.Context, excludeProvider string) ([]*models.EmergencyRequest, error)
	// ListByRequester returns the requester's requests, newest first,
	// optionally restricted to the given statuses.
	ListByRequester(ctx context.Context, requesterID string, statuses ...models.Status) ([]*models.EmergencyRequest, error)
	// ListByProvider returns requests currently assigned to providerID, newest first.
	ListByProvider(ctx context.Context, providerID string) ([]*models.EmergencyRequest, error)

	// Claim moves Pending to Accepted for providerID unless providerID
	// already rejected the request.
	Claim(ctx context.Context, id, providerID string, at time.Time) (bool, error)
	// AddRejection appends providerID to a Pending request's rejection set
	// if it is not there yet.
	AddRejection(ctx context.Context, id, providerID string, at time.Time) (bool, error)
	// Resolve moves an Accepted request held by providerID to Completed or
	// Cancelled. Cancelling clears the assignee and records providerID as a
	// rejection.
	Resolve(ctx context.Context, id, providerID string, to models.Status, at time.Time) (bool, error)

	Ping(ctx context.Context) error
}

// ErrBadOutcome is returned by Resolve for target states other than
// Completed and Cancelled.
var ErrBadOutcome = errors.New("resolve outcome must be Completed or Cancelled")
