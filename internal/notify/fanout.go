// Package notify delivers lifecycle events to the outside world: connected
// provider sockets and the events topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/eta"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
)

type Notifier interface {
	Notify(ctx context.Context, ev models.Event) error
}

type NotifierFunc func(ctx context.Context, ev models.Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

type sink struct {
	name string
	n    Notifier
}

// Fanout passes every event to each sink in order. A failing sink does not
// stop the rest; their errors are joined.
type Fanout struct {
	sinks []sink
}

func NewFanout() *Fanout { return &Fanout{} }

func (f *Fanout) Add(name string, n Notifier) *Fanout {
	if n != nil {
		f.sinks = append(f.sinks, sink{name: name, n: n})
	}
	return f
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Notify(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.n.Notify(ctx, ev); err != nil {
			observability.NotifyErrors.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Message is the frame pushed to provider sockets.
type Message struct {
	Type      string            `json:"type"`
	Candidate *models.Candidate `json:"candidate,omitempty"`
	Event     *models.Event     `json:"event,omitempty"`
}

const (
	MessageOffer  = "offer"
	MessageUpdate = "update"
)

// Broadcaster offers new requests to the nearest eligible providers that are
// connected, and tells every connected provider when a request leaves the
// pending pool so their lists can drop it.
type Broadcaster struct {
	WS      *WSRegistry
	Locator directory.Locator
	TopN    int
	Logger  *slog.Logger
}

func (b *Broadcaster) Notify(ctx context.Context, ev models.Event) error {
	switch ev.Type {
	case models.EventRequestCreated:
		return b.offer(ctx, ev)
	case models.EventRequestClaimed, models.EventRequestCancelled:
		e := ev
		e.Request = nil
		b.WS.Broadcast(Message{Type: MessageUpdate, Event: &e})
	}
	return nil
}

func (b *Broadcaster) offer(ctx context.Context, ev models.Event) error {
	if ev.Request == nil || b.Locator == nil {
		return nil
	}
	r := ev.Request
	providers, err := b.Locator.Nearby(ctx, r.Location, models.ServiceEmergency, b.TopN)
	if err != nil {
		return fmt.Errorf("locate providers: %w", err)
	}
	offered := 0
	for _, p := range providers {
		if !b.WS.Connected(p.ID) {
			continue
		}
		d := geo.Distance(*p.Location, r.Location)
		c := models.Candidate{Request: *r, DistanceKm: d, ETAMinutes: eta.Minutes(d)}
		if err := b.WS.Send(p.ID, Message{Type: MessageOffer, Candidate: &c}); err == nil {
			offered++
		}
	}
	if b.Logger != nil {
		b.Logger.Debug("request offered", "request_id", r.ID, "nearby", len(providers), "offered", offered)
	}
	return nil
}
