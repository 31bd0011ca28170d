package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-agora/agora/pkg/events"
)

// Envelope frame types sent to websocket observers.
const (
	frameTurn  = "turn"
	frameEvent = "event"
)

// WSBroadcaster fans turns and events out to per-session connection pools.
// It implements Broadcaster; the controller treats every failure as
// log-and-continue.
type WSBroadcaster struct {
	idleTimeout time.Duration

	mu    sync.Mutex
	pools map[string]*ConnectionPool
}

func NewWSBroadcaster(idleTimeout time.Duration) *WSBroadcaster {
	return &WSBroadcaster{
		idleTimeout: idleTimeout,
		pools:       map[string]*ConnectionPool{},
	}
}

var _ Broadcaster = &WSBroadcaster{}

// Attach registers an observer connection for a session and returns the
// pool it joined. The caller removes the connection when its read side
// closes.
func (b *WSBroadcaster) Attach(sessionID string, conn Conn) *ConnectionPool {
	pool := b.poolFor(sessionID)
	pool.Add(conn)
	return pool
}

func (b *WSBroadcaster) poolFor(sessionID string) *ConnectionPool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pool, ok := b.pools[sessionID]; ok {
		return pool
	}
	pool := NewConnectionPool(sessionID, b.idleTimeout, func() {
		b.mu.Lock()
		delete(b.pools, sessionID)
		b.mu.Unlock()
	})
	b.pools[sessionID] = pool
	return pool
}

// BroadcastTurn serializes the turn into a text frame for every observer of
// the session. A session with no observers is not an error.
func (b *WSBroadcaster) BroadcastTurn(_ context.Context, sessionID string, p TurnPayload) error {
	data, err := json.Marshal(map[string]any{"type": frameTurn, "turn": p})
	if err != nil {
		return errors.Wrap(err, "transport: marshal turn")
	}
	b.broadcast(sessionID, data)
	return nil
}

// BroadcastEvent forwards a discussion event to the session's observers.
func (b *WSBroadcaster) BroadcastEvent(e events.Event) error {
	data, err := json.Marshal(map[string]any{"type": frameEvent, "event": e})
	if err != nil {
		return errors.Wrap(err, "transport: marshal event")
	}
	b.broadcast(e.SessionID, data)
	return nil
}

func (b *WSBroadcaster) broadcast(sessionID string, data []byte) {
	b.mu.Lock()
	pool, ok := b.pools[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	pool.Broadcast(data)
}

// ObserverCount reports attached connections for a session.
func (b *WSBroadcaster) ObserverCount(sessionID string) int {
	b.mu.Lock()
	pool, ok := b.pools[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return pool.Count()
}

// CloseAll drops every observer connection.
func (b *WSBroadcaster) CloseAll() {
	b.mu.Lock()
	pools := make([]*ConnectionPool, 0, len(b.pools))
	for id, pool := range b.pools {
		pools = append(pools, pool)
		delete(b.pools, id)
	}
	b.mu.Unlock()
	for _, pool := range pools {
		pool.CloseAll()
	}
}
