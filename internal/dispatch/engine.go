// Package dispatch is the emergency-request state machine.
//
// A request moves Pending -> Accepted -> Completed, or Accepted -> Cancelled
// when the assigned provider backs out. Providers may reject a Pending
// request, which hides it from their candidate list for good. Every write is
// a single guarded update in the RequestStore, so the Engine itself holds no
// state and needs no locks; when a guard fails the Engine re-reads the
// request only to pick the right error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/eta"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

// Notifier receives an event after every successful transition. Delivery
// is best-effort: a failing notifier never fails the operation.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event) error
}

type Engine struct {
	Store     storage.RequestStore
	Directory directory.Directory
	Notifier  Notifier     // optional
	Logger    *slog.Logger // optional
	Now       func() time.Time
	NewID     func() string
}

var validate = validator.New()

type LocationInput struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type VehicleInput struct {
	Name            string `json:"name" validate:"required"`
	Model           string `json:"model" validate:"required"`
	FuelType        string `json:"fuelType" validate:"required"`
	VehicleType     string `json:"vehicleType" validate:"required,oneof=motorcycle car"`
	LastServiceDate string `json:"lastServiceDate"`
}

type CreateInput struct {
	RequesterID string         `json:"-" validate:"required"`
	Location    *LocationInput `json:"location" validate:"required"`
	IssueType   string         `json:"issueType" validate:"required"`
	Vehicle     *VehicleInput  `json:"vehicle" validate:"required"`
}

// ProviderDetails is what a requester sees about the provider working on
// their request.
type ProviderDetails struct {
	Provider   models.Provider `json:"provider"`
	DistanceKm float64         `json:"distance"`
	ETAMinutes int             `json:"eta_minutes"`
}

// CreateRequest stores a new Pending request with an empty rejection set.
func (e *Engine) CreateRequest(ctx context.Context, in CreateInput) (*models.EmergencyRequest, error) {
	in.IssueType = strings.TrimSpace(in.IssueType)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	now := e.now()
	v := in.Vehicle
	lastService := strings.TrimSpace(v.LastServiceDate)
	if lastService == "" {
		lastService = models.DefaultLastServiceDate
	}
	r := &models.EmergencyRequest{
		ID:          e.newID(),
		RequesterID: in.RequesterID,
		Location:    models.Coord{Lat: *in.Location.Latitude, Lon: *in.Location.Longitude},
		IssueType:   in.IssueType,
		Vehicle: models.Vehicle{
			Name:            v.Name,
			Model:           v.Model,
			FuelType:        v.FuelType,
			VehicleType:     models.VehicleType(v.VehicleType),
			LastServiceDate: lastService,
		},
		Status:     models.StatusPending,
		RejectedBy: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	e.logger().Info("request created", "request_id", r.ID, "requester_id", r.RequesterID, "issue_type", r.IssueType)
	e.notify(ctx, models.Event{Type: models.EventRequestCreated, RequestID: r.ID, Status: r.Status, At: now, Request: r.Clone()})
	return r, nil
}

// ListCandidates returns every Pending request providerID has not rejected,
// nearest to the provider's last known location first.
func (e *Engine) ListCandidates(ctx context.Context, providerID string) ([]models.Candidate, error) {
	start := time.Now()
	defer func() { observability.ListLatency.Observe(time.Since(start).Seconds()) }()

	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	p, err := e.activeProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if p.Location == nil {
		return nil, ErrLocationUnknown
	}
	reqs, err := e.Store.ListPending(ctx, providerID)
	if err != nil {
		return nil, err
	}
	out := Rank(*p.Location, reqs)
	observability.CandidatesListed.Observe(float64(len(out)))
	return out, nil
}

// Claim atomically moves a Pending request to Accepted for providerID. Of any
// number of concurrent claims on one request exactly one succeeds; the rest
// get ErrRequestUnavailable. Only an active provider may claim, and never
// a request they raised themselves.
func (e *Engine) Claim(ctx context.Context, requestID, providerID string) (*models.EmergencyRequest, error) {
	if err := requireIDs(requestID, providerID); err != nil {
		return nil, err
	}
	if _, err := e.activeProvider(ctx, providerID); err != nil {
		return nil, err
	}
	r, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.RequesterID == providerID {
		return nil, fmt.Errorf("%w: cannot claim own request %s", ErrForbidden, requestID)
	}
	now := e.now()
	ok, err := e.Store.Claim(ctx, requestID, providerID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := e.load(ctx, requestID); err != nil {
			return nil, err
		}
		observability.ClaimsTotal.WithLabelValues("lost").Inc()
		e.logger().Debug("claim lost", "request_id", requestID, "provider_id", providerID)
		return nil, fmt.Errorf("%w: %s", ErrRequestUnavailable, requestID)
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()
	return e.transitioned(ctx, models.EventRequestClaimed, requestID, providerID, now)
}

// Reject adds providerID to a Pending request's rejection set. Rejecting
// twice is an error, not a no-op.
func (e *Engine) Reject(ctx context.Context, requestID, providerID string) error {
	if err := requireIDs(requestID, providerID); err != nil {
		return err
	}
	if _, err := e.activeProvider(ctx, providerID); err != nil {
		return err
	}
	now := e.now()
	ok, err := e.Store.AddRejection(ctx, requestID, providerID, now)
	if err != nil {
		return err
	}
	if !ok {
		r, err := e.load(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Rejected(providerID) {
			return fmt.Errorf("%w: %s", ErrAlreadyRejected, requestID)
		}
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, requestID, r.Status)
	}
	_, err = e.transitioned(ctx, models.EventRequestRejected, requestID, providerID, now)
	return err
}

// Cancel lets the assigned provider back out of an Accepted request. The
// request becomes Cancelled, which is terminal: it does not reopen.
func (e *Engine) Cancel(ctx context.Context, requestID, providerID string) (*models.EmergencyRequest, error) {
	return e.resolve(ctx, requestID, providerID, models.StatusCancelled, models.EventRequestCancelled)
}

// Complete marks an Accepted request done. Only its assignee may do so.
func (e *Engine) Complete(ctx context.Context, requestID, providerID string) (*models.EmergencyRequest, error) {
	return e.resolve(ctx, requestID, providerID, models.StatusCompleted, models.EventRequestCompleted)
}

func (e *Engine) GetStatus(ctx context.Context, requestID string) (models.StatusView, error) {
	r, err := e.load(ctx, requestID)
	if err != nil {
		return models.StatusView{}, err
	}
	return models.StatusView{RequestID: r.ID, Status: r.Status, AssignedProvider: r.AssignedProvider}, nil
}

// ProviderDetails reports the assigned provider with distance and ETA to the
// request location.
func (e *Engine) ProviderDetails(ctx context.Context, requestID string) (ProviderDetails, error) {
	r, err := e.load(ctx, requestID)
	if err != nil {
		return ProviderDetails{}, err
	}
	if r.AssignedProvider == nil {
		return ProviderDetails{}, ErrNoAssignee
	}
	p, err := e.Directory.Get(ctx, *r.AssignedProvider)
	switch {
	case errors.Is(err, directory.ErrProviderNotFound):
		return ProviderDetails{}, ErrLocationUnknown
	case err != nil:
		return ProviderDetails{}, err
	}
	if p.Location == nil {
		return ProviderDetails{}, ErrLocationUnknown
	}
	// ETA is taken from the distance as shown, to two decimals.
	d := geo.Distance(r.Location, *p.Location)
	return ProviderDetails{Provider: p, DistanceKm: d, ETAMinutes: eta.Minutes(geo.Round2(d))}, nil
}

// Ongoing returns the requester's Accepted requests.
func (e *Engine) Ongoing(ctx context.Context, requesterID string) ([]*models.EmergencyRequest, error) {
	return e.Store.ListByRequester(ctx, requesterID, models.StatusAccepted)
}

func (e *Engine) RequesterHistory(ctx context.Context, requesterID string) ([]*models.EmergencyRequest, error) {
	return e.Store.ListByRequester(ctx, requesterID)
}

// ProviderHistory returns requests held by providerID, newest first.
// Cancelled requests no longer carry an assignee and do not appear.
func (e *Engine) ProviderHistory(ctx context.Context, providerID string) ([]*models.EmergencyRequest, error) {
	return e.Store.ListByProvider(ctx, providerID)
}

func (e *Engine) resolve(ctx context.Context, requestID, providerID string, to models.Status, ev models.EventType) (*models.EmergencyRequest, error) {
	if err := requireIDs(requestID, providerID); err != nil {
		return nil, err
	}
	now := e.now()
	ok, err := e.Store.Resolve(ctx, requestID, providerID, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		r, err := e.load(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if !r.AssignedTo(providerID) {
			return nil, fmt.Errorf("%w: %s", ErrForbidden, requestID)
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, requestID, r.Status)
	}
	return e.transitioned(ctx, ev, requestID, providerID, now)
}

// transitioned reloads the request after a successful guarded write, logs
// and emits the event.
func (e *Engine) transitioned(ctx context.Context, ev models.EventType, requestID, providerID string, at time.Time) (*models.EmergencyRequest, error) {
	observability.TransitionsTotal.WithLabelValues(string(ev)).Inc()
	r, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	e.logger().Info("request transition", "event", string(ev), "request_id", requestID, "provider_id", providerID, "status", string(r.Status))
	e.notify(ctx, models.Event{Type: ev, RequestID: requestID, ProviderID: providerID, Status: r.Status, At: at})
	return r, nil
}

// activeProvider checks providerID is a known, approved, unsuspended provider
// who takes emergency work.
func (e *Engine) activeProvider(ctx context.Context, providerID string) (models.Provider, error) {
	p, err := e.Directory.Get(ctx, providerID)
	switch {
	case errors.Is(err, directory.ErrProviderNotFound):
		return p, fmt.Errorf("%w: %s", ErrNotProvider, providerID)
	case err != nil:
		return p, err
	}
	if !p.Approved || p.Suspended {
		return p, ErrNotApproved
	}
	if !p.Preference.Accepts(models.ServiceEmergency) {
		return p, ErrOptedOut
	}
	return p, nil
}

func (e *Engine) load(ctx context.Context, requestID string) (*models.EmergencyRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrValidation)
	}
	r, err := e.Store.Get(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return r, err
}

func (e *Engine) notify(ctx context.Context, ev models.Event) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, ev); err != nil {
		e.logger().Warn("notify failed", "event", string(ev.Type), "request_id", ev.RequestID, "error", err)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	// v7 ids sort by creation time, which keeps the id tie-break in
	// creation order when stored timestamps collide.
	return uuid.Must(uuid.NewV7()).String()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return discard
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func requireIDs(requestID, providerID string) error {
	switch {
	case requestID == "":
		return fmt.Errorf("%w: request id is required", ErrValidation)
	case providerID == "":
		return fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.TrimPrefix(fe.Namespace(), "CreateInput."), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
}
