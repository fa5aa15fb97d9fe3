package realtime

import (
	"context"
	"sync"
	"time"

	"cfduel/internal/observability"
)

// timerSyncInterval is how often active games re-anchor client countdowns.
const timerSyncInterval = 5 * time.Second

// GameRuntime is the in-memory descriptor of a running game: the
// authoritative clock parameters plus the one-shot end timer.
type GameRuntime struct {
	Code      string
	StartedAt time.Time
	Duration  time.Duration

	timer *time.Timer
}

// EndsAt returns the instant the end timer fires.
func (g *GameRuntime) EndsAt() time.Time {
	return g.StartedAt.Add(g.Duration)
}

// Remaining returns the time left on the game clock, floored at zero.
func (g *GameRuntime) Remaining() time.Duration {
	r := time.Until(g.EndsAt())
	if r < 0 {
		return 0
	}
	return r
}

type graceTicket struct {
	timer *time.Timer
}

// Hub owns all process-wide realtime state: topic subscriptions, the
// user → session index, game runtimes and grace tickets. It is created
// once at process start and torn down at shutdown; nothing in it is
// persisted.
type Hub struct {
	mu sync.RWMutex

	// Map: roomCode -> sessionID -> Session
	topics map[string]map[string]*Session

	// Map: sessionID -> set of roomCodes the session subscribed to
	sessionTopics map[string]map[string]struct{}

	// Map: userID -> set of active Sessions (multi-tab support)
	userSessions map[uint]map[string]*Session

	// Map: roomCode -> running game descriptor
	games map[string]*GameRuntime

	// Map: roomCode -> userID -> pending grace ticket
	graces map[string]map[uint]*graceTicket

	onGameEnd     func(code string)
	onGraceExpire func(code string, userID uint)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		topics:        make(map[string]map[string]*Session),
		sessionTopics: make(map[string]map[string]struct{}),
		userSessions:  make(map[uint]map[string]*Session),
		games:         make(map[string]*GameRuntime),
		graces:        make(map[string]map[uint]*graceTicket),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "duel hub" }

// SetGameEndHandler installs the callback the end timer fires. Must be set
// before any game starts.
func (h *Hub) SetGameEndHandler(fn func(code string)) {
	h.onGameEnd = fn
}

// SetGraceExpiryHandler installs the callback an expired grace ticket
// fires. Must be set before any session registers.
func (h *Hub) SetGraceExpiryHandler(fn func(code string, userID uint)) {
	h.onGraceExpire = fn
}

// RegisterSession adds a session to the user index.
func (h *Hub) RegisterSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.userSessions[s.UserID] == nil {
		h.userSessions[s.UserID] = make(map[string]*Session)
	}
	h.userSessions[s.UserID][s.ID] = s
	observability.WebSocketConnectionsTotal.Inc()
}

// UnregisterSession removes a session from the user index and every topic
// it subscribed to, then closes its outbox.
func (h *Hub) UnregisterSession(s *Session) {
	h.mu.Lock()

	if sessions, ok := h.userSessions[s.UserID]; ok {
		if _, present := sessions[s.ID]; present {
			delete(sessions, s.ID)
			observability.WebSocketConnectionsTotal.Dec()
		}
		if len(sessions) == 0 {
			delete(h.userSessions, s.UserID)
		}
	}

	for code := range h.sessionTopics[s.ID] {
		h.removeFromTopicLocked(code, s.ID)
	}
	delete(h.sessionTopics, s.ID)

	h.mu.Unlock()

	s.Close()
}

// Subscribe adds the session to a room topic.
func (h *Hub) Subscribe(s *Session, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[code] == nil {
		h.topics[code] = make(map[string]*Session)
	}
	h.topics[code][s.ID] = s

	if h.sessionTopics[s.ID] == nil {
		h.sessionTopics[s.ID] = make(map[string]struct{})
	}
	h.sessionTopics[s.ID][code] = struct{}{}

	observability.WebSocketRoomSubscribers.WithLabelValues(code).Set(float64(len(h.topics[code])))
}

// Unsubscribe removes the session from a room topic.
func (h *Hub) Unsubscribe(s *Session, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromTopicLocked(code, s.ID)
	if topics, ok := h.sessionTopics[s.ID]; ok {
		delete(topics, code)
	}
}

func (h *Hub) removeFromTopicLocked(code, sessionID string) {
	subscribers, ok := h.topics[code]
	if !ok {
		return
	}
	delete(subscribers, sessionID)
	if len(subscribers) == 0 {
		delete(h.topics, code)
		observability.WebSocketRoomSubscribers.DeleteLabelValues(code)
	} else {
		observability.WebSocketRoomSubscribers.WithLabelValues(code).Set(float64(len(subscribers)))
	}
}

// SubscriberCount returns the number of sessions on a room topic.
func (h *Hub) SubscriberCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[code])
}

// IsUserConnected reports whether the user has at least one live session.
func (h *Hub) IsUserConnected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSessions[userID]) > 0
}

// SessionsForUser returns how many live sessions the user has.
func (h *Hub) SessionsForUser(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSessions[userID])
}

// TopicsOf returns the room codes the session is subscribed to.
func (h *Hub) TopicsOf(s *Session) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	codes := make([]string, 0, len(h.sessionTopics[s.ID]))
	for code := range h.sessionTopics[s.ID] {
		codes = append(codes, code)
	}
	return codes
}

// Publish fans an event out to every subscriber of a room topic without
// ever blocking on any of them. Each subscriber receives events in publish
// order; critical events park on the slow subscriber's overflow queue, the
// rest are dropped.
func (h *Hub) Publish(code string, ev Event) {
	message := ev.Marshal()
	if message == nil {
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()

	h.mu.RLock()
	subscribers := make([]*Session, 0, len(h.topics[code]))
	for _, s := range h.topics[code] {
		subscribers = append(subscribers, s)
	}
	h.mu.RUnlock()

	critical := ev.Critical()
	for _, s := range subscribers {
		if critical {
			s.SendCritical(message)
		} else {
			s.TrySend(message)
		}
	}
}

// PublishToUser sends an event to all of one user's sessions.
func (h *Hub) PublishToUser(userID uint, ev Event) {
	message := ev.Marshal()
	if message == nil {
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.userSessions[userID]))
	for _, s := range h.userSessions[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.TrySend(message)
	}
}

// SendToSession delivers an event to one session only.
func (h *Hub) SendToSession(s *Session, ev Event) {
	message := ev.Marshal()
	if message == nil {
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()
	s.TrySend(message)
}

// StartGameRuntime registers (or re-arms) the game descriptor for a room
// and schedules the end timer at startedAt + duration. A past deadline
// fires immediately.
func (h *Hub) StartGameRuntime(code string, startedAt time.Time, duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.games[code]; ok {
		existing.timer.Stop()
	}

	runtime := &GameRuntime{
		Code:      code,
		StartedAt: startedAt,
		Duration:  duration,
	}
	runtime.timer = time.AfterFunc(time.Until(runtime.EndsAt()), func() {
		if h.onGameEnd != nil {
			h.onGameEnd(code)
		}
	})
	h.games[code] = runtime
}

// GameRuntimeFor returns the running game descriptor for a room.
func (h *Hub) GameRuntimeFor(code string) (*GameRuntime, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.games[code]
	return g, ok
}

// CancelGameRuntime stops the end timer and forgets the descriptor. Called
// after finalization and on room cascade-delete.
func (h *Hub) CancelGameRuntime(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g, ok := h.games[code]; ok {
		g.timer.Stop()
		delete(h.games, code)
	}
}

// OpenGrace starts a disconnect grace ticket for a user in a room. A
// pre-existing ticket is replaced. On expiry the grace handler runs and
// removes the player for real.
func (h *Hub) OpenGrace(code string, userID uint, ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graces[code] == nil {
		h.graces[code] = make(map[uint]*graceTicket)
	}
	if existing, ok := h.graces[code][userID]; ok {
		existing.timer.Stop()
	}

	ticket := &graceTicket{}
	ticket.timer = time.AfterFunc(ttl, func() {
		h.mu.Lock()
		if tickets, ok := h.graces[code]; ok {
			delete(tickets, userID)
			if len(tickets) == 0 {
				delete(h.graces, code)
			}
		}
		h.mu.Unlock()

		observability.GraceTicketsTotal.WithLabelValues("expired").Inc()
		if h.onGraceExpire != nil {
			h.onGraceExpire(code, userID)
		}
	})
	h.graces[code][userID] = ticket
}

// CancelGrace revokes a pending grace ticket. Returns whether one existed,
// which is how a reconnect is distinguished from a fresh join.
func (h *Hub) CancelGrace(code string, userID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	tickets, ok := h.graces[code]
	if !ok {
		return false
	}
	ticket, ok := tickets[userID]
	if !ok {
		return false
	}

	ticket.timer.Stop()
	delete(tickets, userID)
	if len(tickets) == 0 {
		delete(h.graces, code)
	}
	observability.GraceTicketsTotal.WithLabelValues("cancelled").Inc()
	return true
}

// CancelGracesForUser revokes the user's pending grace tickets across all
// rooms and returns the room codes that held one. Called when a fresh
// session registers, which is how a reconnect is detected.
func (h *Hub) CancelGracesForUser(userID uint) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var codes []string
	for code, tickets := range h.graces {
		ticket, ok := tickets[userID]
		if !ok {
			continue
		}
		ticket.timer.Stop()
		delete(tickets, userID)
		if len(tickets) == 0 {
			delete(h.graces, code)
		}
		observability.GraceTicketsTotal.WithLabelValues("cancelled").Inc()
		codes = append(codes, code)
	}
	return codes
}

// CancelRoomGraces revokes every pending grace ticket of a room. Called on
// room cascade-delete.
func (h *Hub) CancelRoomGraces(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ticket := range h.graces[code] {
		ticket.timer.Stop()
	}
	delete(h.graces, code)
}

// Run drives the periodic timer-sync tick until the context ends. Each
// active game's topic gets a fresh countdown anchor; the tick is
// independent of the per-room end timers.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(timerSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			active := make([]*GameRuntime, 0, len(h.games))
			for _, g := range h.games {
				active = append(active, g)
			}
			h.mu.RUnlock()

			for _, g := range active {
				h.Publish(g.Code, NewTimerSyncEvent(g.Code, g.Remaining(), g.EndsAt()))
			}
		}
	}
}

// Shutdown cancels all timers and closes every session.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, g := range h.games {
		g.timer.Stop()
	}
	for _, tickets := range h.graces {
		for _, ticket := range tickets {
			ticket.timer.Stop()
		}
	}
	for _, sessions := range h.userSessions {
		for _, s := range sessions {
			s.Close()
		}
	}

	h.topics = make(map[string]map[string]*Session)
	h.sessionTopics = make(map[string]map[string]struct{})
	h.userSessions = make(map[uint]map[string]*Session)
	h.games = make(map[string]*GameRuntime)
	h.graces = make(map[string]map[uint]*graceTicket)
	return nil
}
