package transport

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer   = 32
	defaultWriteTimeout = 5 * time.Second
	// TextMessage mirrors the gorilla/websocket text frame opcode so the
	// pool can be exercised without a live connection.
	textMessage = 1
)

// Conn is the slice of *websocket.Conn the pool relies on, kept narrow so
// tests can substitute stubs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool manages websocket connections for one session. Each
// connection gets its own buffered writer goroutine; a connection whose
// buffer fills or whose write fails is dropped so one slow observer cannot
// block the rest.
type ConnectionPool struct {
	sessionID    string
	sendBuffer   int
	writeTimeout time.Duration

	mu      sync.Mutex
	writers map[Conn]chan []byte

	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()
}

func NewConnectionPool(sessionID string, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		sessionID:    sessionID,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		writers:      map[Conn]chan []byte{},
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
	}
}

func (cp *ConnectionPool) Add(conn Conn) {
	if cp == nil || conn == nil {
		return
	}
	ch := make(chan []byte, cp.sendBuffer)
	cp.mu.Lock()
	cp.writers[conn] = ch
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
	go cp.writeLoop(conn, ch)
}

func (cp *ConnectionPool) writeLoop(conn Conn, ch chan []byte) {
	for data := range ch {
		if cp.writeTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
		}
		if err := conn.WriteMessage(textMessage, data); err != nil {
			log.Warn().
				Err(err).
				Str("component", "transport").
				Str("session_id", cp.sessionID).
				Msg("ws write failed, dropping connection")
			cp.Remove(conn)
			// Drain whatever is still queued so Remove's close doesn't race.
			for range ch {
			}
			return
		}
	}
	_ = conn.Close()
}

func (cp *ConnectionPool) Remove(conn Conn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	ch, ok := cp.writers[conn]
	if ok {
		delete(cp.writers, conn)
		close(ch)
	}
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
	_ = conn.Close()
}

// Broadcast enqueues data on every connection's writer. Connections with a
// full buffer are dropped on the spot.
func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	var dropped []Conn
	for conn, ch := range cp.writers {
		select {
		case ch <- data:
		default:
			log.Warn().
				Str("component", "transport").
				Str("session_id", cp.sessionID).
				Msg("ws send buffer full, dropping connection")
			dropped = append(dropped, conn)
		}
	}
	for _, conn := range dropped {
		if ch, ok := cp.writers[conn]; ok {
			delete(cp.writers, conn)
			close(ch)
		}
	}
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
	for _, conn := range dropped {
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.writers)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	conns := make([]Conn, 0, len(cp.writers))
	for conn, ch := range cp.writers {
		close(ch)
		conns = append(conns, conn)
		delete(cp.writers, conn)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	if len(cp.writers) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		cp.stopIdleTimerLocked()
		return
	}
	cp.stopIdleTimerLocked()
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	if cp == nil {
		return
	}
	var callback func()
	cp.mu.Lock()
	if len(cp.writers) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}
