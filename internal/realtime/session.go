package realtime

import (
	"context"
	"sync"
	"time"

	"cfduel/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

var wsLog = observability.NewWSLogger("duel hub")

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// How long a critical event may wait on a full outbox before it is
	// counted as lost.
	criticalSendWait = 2 * time.Second

	// Outbox capacity per session.
	sendBufferSize = 64
)

// Session is one authenticated WebSocket connection. It is the middleman
// between the connection and the hub; the hub only ever touches the
// session through its outbox.
type Session struct {
	ID     string
	UserID uint
	Handle string

	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// Callback for handling incoming messages.
	IncomingHandler func(*Session, []byte)

	// OnClose runs once when the read pump exits, before the hub forgets
	// the session.
	OnClose func(*Session)

	closeOnce sync.Once

	// Critical events that found the outbox full park here, in arrival
	// order, and a single drain goroutine works them off. The publisher
	// never waits on this session.
	overflowMu sync.Mutex
	overflow   [][]byte
	draining   bool

	hub *Hub
}

// NewSession creates a session for an upgraded connection.
func NewSession(hub *Hub, conn *websocket.Conn, userID uint, handle string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Handle: handle,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		hub:    hub,
	}
}

// ReadPump pumps messages from the websocket connection to the incoming
// handler. It owns the disconnect path.
func (s *Session) ReadPump() {
	defer func() {
		if s.OnClose != nil {
			s.OnClose(s)
		}
		s.hub.UnregisterSession(s)
		_ = s.Conn.Close()
	}()

	s.Conn.SetReadLimit(maxMessageSize)
	_ = s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error { _ = s.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wsLog.LogError(context.Background(), s.UserID, "", err, "read")
			}
			break
		}

		if s.IncomingHandler != nil {
			s.IncomingHandler(s, message)
		}
	}
}

// WritePump pumps messages from the outbox to the websocket connection.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the outbox.
				_ = s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a message, dropping it when the outbox is full. Used for
// events a later snapshot supersedes (room-update, timer-sync, ...).
func (s *Session) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues("duel hub", "closed").Inc()
		}
	}()

	select {
	case s.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues("duel hub", "full").Inc()
	}
}

// SendCritical queues a message that carries unique-fact information
// (problem-solved, game-started). It never blocks the caller: when the
// outbox is full the message parks on the overflow queue and a drain
// goroutine waits out the backpressure, preserving per-session order.
func (s *Session) SendCritical(message []byte) {
	s.overflowMu.Lock()
	if !s.draining && len(s.overflow) == 0 && s.tryQueue(message) {
		s.overflowMu.Unlock()
		return
	}
	s.overflow = append(s.overflow, message)
	startDrain := !s.draining
	s.draining = true
	s.overflowMu.Unlock()

	if startDrain {
		go s.drainOverflow()
	}
}

// tryQueue is a non-blocking outbox send. A closed outbox counts the drop
// and reports queued so the caller does not park the message.
func (s *Session) tryQueue(message []byte) (queued bool) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues("duel hub", "closed").Inc()
			queued = true
		}
	}()

	select {
	case s.Send <- message:
		return true
	default:
		return false
	}
}

// drainOverflow delivers parked critical messages one at a time. Each gets
// a bounded wait on the outbox; a timeout or a closed outbox abandons the
// rest of the queue.
func (s *Session) drainOverflow() {
	for {
		s.overflowMu.Lock()
		if len(s.overflow) == 0 {
			s.draining = false
			s.overflowMu.Unlock()
			return
		}
		message := s.overflow[0]
		s.overflow = s.overflow[1:]
		s.overflowMu.Unlock()

		if !s.offerCritical(message) {
			s.overflowMu.Lock()
			dropped := len(s.overflow)
			s.overflow = nil
			s.draining = false
			s.overflowMu.Unlock()
			for i := 0; i < dropped; i++ {
				observability.WebSocketBackpressureDrops.WithLabelValues("duel hub", "critical_timeout").Inc()
			}
			return
		}
	}
}

// offerCritical waits up to criticalSendWait for outbox room. Returns
// false on timeout or when the outbox was closed under it.
func (s *Session) offerCritical(message []byte) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues("duel hub", "closed").Inc()
			delivered = false
		}
	}()

	select {
	case s.Send <- message:
		return true
	case <-time.After(criticalSendWait):
		observability.WebSocketBackpressureDrops.WithLabelValues("duel hub", "critical_timeout").Inc()
		return false
	}
}

// Close shuts the outbox, waking the write pump. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.Send)
	})
}
