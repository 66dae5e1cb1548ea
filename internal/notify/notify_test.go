package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/models"
)

type fakeConn struct {
	mu      sync.Mutex
	written []interface{}
	closed  bool
	failOn  error
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn != nil {
		return c.failOn
	}
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.written))
	for _, w := range c.written {
		if m, ok := w.(Message); ok {
			out = append(out, m)
		}
	}
	return out
}

func TestWSRegistrySendAndReplace(t *testing.T) {
	reg := NewWSRegistry(nil)
	require.ErrorIs(t, reg.Send("m1", "hi"), ErrNoSession)

	first := &fakeConn{}
	reg.Add("m1", first)
	require.NoError(t, reg.Send("m1", "hello"))

	second := &fakeConn{}
	s2 := reg.Add("m1", second)
	assert.True(t, first.closed)
	require.NoError(t, reg.Send("m1", "again"))
	assert.Len(t, first.written, 1)
	assert.Len(t, second.written, 1)

	reg.Remove("m1", s2)
	assert.False(t, reg.Connected("m1"))
	assert.True(t, second.closed)
}

func TestWSRegistryDropsBrokenSession(t *testing.T) {
	reg := NewWSRegistry(nil)
	reg.Add("m1", &fakeConn{failOn: errors.New("broken pipe")})
	reg.Add("m2", &fakeConn{})

	assert.Equal(t, 1, reg.Broadcast("ping"))
	assert.False(t, reg.Connected("m1"))
	assert.True(t, reg.Connected("m2"))
}

func TestFanoutJoinsErrors(t *testing.T) {
	var got []models.EventType
	ok := NotifierFunc(func(_ context.Context, ev models.Event) error {
		got = append(got, ev.Type)
		return nil
	})
	bad := NotifierFunc(func(context.Context, models.Event) error { return errors.New("down") })

	f := NewFanout().Add("ok", ok).Add("bad", bad).Add("nil", nil).Add("ok2", ok)
	assert.Equal(t, 3, f.Len())

	err := f.Notify(context.Background(), models.Event{Type: models.EventRequestClaimed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []models.EventType{models.EventRequestClaimed, models.EventRequestClaimed}, got)
}

func TestBroadcasterOffersToNearestConnected(t *testing.T) {
	idx := directory.NewIndex()
	put := func(id string, lat, lon float64) {
		loc := models.Coord{Lat: lat, Lon: lon}
		idx.Put(models.Provider{ID: id, Approved: true, Available: true, Location: &loc, Preference: models.PreferenceBoth})
	}
	put("near", 12.98, 77.60)
	put("mid", 13.00, 77.62)
	put("far", 13.50, 78.00)
	put("offline", 12.971, 77.591)

	reg := NewWSRegistry(nil)
	near, mid, far := &fakeConn{}, &fakeConn{}, &fakeConn{}
	reg.Add("near", near)
	reg.Add("mid", mid)
	reg.Add("far", far)

	b := &Broadcaster{WS: reg, Locator: idx, TopN: 3}
	req := &models.EmergencyRequest{ID: "r1", Location: models.Coord{Lat: 12.97, Lon: 77.59}, Status: models.StatusPending}
	require.NoError(t, b.Notify(context.Background(), models.Event{Type: models.EventRequestCreated, RequestID: "r1", Request: req}))

	// top 3 are offline, near, mid; offline has no socket
	msgs := near.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageOffer, msgs[0].Type)
	require.NotNil(t, msgs[0].Candidate)
	assert.Equal(t, "r1", msgs[0].Candidate.Request.ID)
	assert.InDelta(t, 1.55, msgs[0].Candidate.DistanceKm, 0.01)
	assert.Equal(t, 3, msgs[0].Candidate.ETAMinutes)
	assert.Len(t, mid.messages(), 1)
	assert.Empty(t, far.messages())

	require.NoError(t, b.Notify(context.Background(), models.Event{Type: models.EventRequestClaimed, RequestID: "r1", ProviderID: "near"}))
	for _, c := range []*fakeConn{near, mid, far} {
		msgs := c.messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, MessageUpdate, last.Type)
		assert.Equal(t, models.EventRequestClaimed, last.Event.Type)
	}

	require.NoError(t, b.Notify(context.Background(), models.Event{Type: models.EventRequestRejected, RequestID: "r1"}))
	assert.Len(t, far.messages(), 1)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestEventPublisherKeysByRequest(t *testing.T) {
	w := &fakeWriter{}
	p := &EventPublisher{writer: w, timeout: time.Second}
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, p.Notify(context.Background(), models.Event{
		Type: models.EventRequestCompleted, RequestID: "r1", ProviderID: "m1", Status: models.StatusCompleted, At: at,
	}))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "r1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "request.completed", string(msg.Headers[0].Value))

	var ev models.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, models.StatusCompleted, ev.Status)
	assert.Equal(t, "m1", ev.ProviderID)

	w.err = errors.New("leader not available")
	require.Error(t, p.Notify(context.Background(), models.Event{RequestID: "r2"}))
}

func TestNewEventPublisherFlushesQuickly(t *testing.T) {
	p := NewEventPublisher([]string{"localhost:9092"}, "emergency-events")
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	require.NoError(t, p.Close())
}
