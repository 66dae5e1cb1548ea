package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/roadside-dispatch/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Conn is the part of *websocket.Conn a session writes through.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// WSSession represents a connected provider session.
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conn.(*websocket.Conn); ok {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	}
	return s.conn.WriteJSON(v)
}

// WSRegistry holds one session per provider. A newer connection from the
// same provider replaces and closes the older one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(providerID string, conn Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old, replaced := r.sessions[providerID]
	r.sessions[providerID] = s
	r.mu.Unlock()
	if replaced {
		_ = old.conn.Close()
	} else {
		observability.WSSessions.Inc()
	}
	return s
}

// Remove drops providerID's session only if it is still s.
func (r *WSRegistry) Remove(providerID string, s *WSSession) {
	r.mu.Lock()
	cur, ok := r.sessions[providerID]
	if ok && cur == s {
		delete(r.sessions, providerID)
	}
	r.mu.Unlock()
	if ok && cur == s {
		observability.WSSessions.Dec()
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) Connected(providerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[providerID]
	return ok
}

func (r *WSRegistry) Send(providerID string, v interface{}) error {
	r.mu.RLock()
	s, ok := r.sessions[providerID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		r.logger.Warn("ws send error", "provider_id", providerID, "error", err)
		r.Remove(providerID, s)
		return err
	}
	return nil
}

// Broadcast sends v to every connected provider and returns how many got it.
func (r *WSRegistry) Broadcast(v interface{}) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sent := 0
	for _, id := range ids {
		if r.Send(id, v) == nil {
			sent++
		}
	}
	return sent
}

// Serve registers conn for providerID and blocks until the peer goes away or
// ctx ends. Inbound frames are ignored; the read loop only services pongs
// and close frames.
func (r *WSRegistry) Serve(ctx context.Context, providerID string, conn *websocket.Conn) {
	s := r.Add(providerID, conn)
	defer r.Remove(providerID, s)
	r.logger.Info("ws session opened", "provider_id", providerID)

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			r.logger.Info("ws session closed", "provider_id", providerID)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
