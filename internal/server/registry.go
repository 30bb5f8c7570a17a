package server

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-chatserver/internal/stats"
)

// ErrSessionNotFound is returned when an operation references a
// session id that is not registered. Disconnects race with idle
// sweeps, so callers generally treat it as non-fatal.
var ErrSessionNotFound = errors.New("session not found")

// Transport is the per-session push channel. Queue reports false when
// the session's outbound buffer is full or the connection is gone.
type Transport interface {
	Queue(msg *ServerMessage) bool
	Close()
}

// Session is one live connection belonging to a user. A user may hold
// any number of concurrent sessions (multi-device).
type Session struct {
	Id        string
	UserId    string
	CreatedAt time.Time

	transport  Transport
	lastActive atomic.Int64

	subsLock sync.RWMutex
	subs     map[string]struct{}
}

// Touch records activity on the session, deferring the idle sweep.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Subscribe marks the session as actively viewing a conversation.
func (s *Session) Subscribe(conversationId string) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	s.subs[conversationId] = struct{}{}
}

func (s *Session) Unsubscribe(conversationId string) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	delete(s.subs, conversationId)
}

// Subscribed reports whether the session currently has the
// conversation open.
func (s *Session) Subscribed(conversationId string) bool {
	s.subsLock.RLock()
	defer s.subsLock.RUnlock()
	_, ok := s.subs[conversationId]
	return ok
}

// Queue pushes a message onto the session's transport.
func (s *Session) Queue(msg *ServerMessage) bool {
	return s.transport.Queue(msg)
}

// SessionRegistry tracks every live session and the sessions each
// user owns. All operations are in-memory and never block on I/O.
type SessionRegistry struct {
	log   *log.Logger
	stats stats.StatsProvider

	lock     sync.RWMutex
	sessions map[string]*Session
	byUser   map[string][]*Session
}

func NewSessionRegistry(logger *log.Logger, su stats.StatsProvider) *SessionRegistry {
	su.RegisterMetric(metricActiveSessions)

	return &SessionRegistry{
		log:      logger,
		stats:    su,
		sessions: make(map[string]*Session),
		byUser:   make(map[string][]*Session),
	}
}

// Register records a new live session. Registering the same session id
// twice returns the existing entry without creating a second one.
func (r *SessionRegistry) Register(userId, sessionId string, tr Transport) *Session {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.sessions[sessionId]; ok {
		return existing
	}

	s := &Session{
		Id:        sessionId,
		UserId:    userId,
		CreatedAt: time.Now(),
		transport: tr,
		subs:      make(map[string]struct{}),
	}
	s.Touch()

	r.sessions[sessionId] = s
	r.byUser[userId] = append(r.byUser[userId], s)
	r.stats.Incr(metricActiveSessions)

	return s
}

// Deregister removes the session. Unknown session ids are a no-op
// since disconnects can race with idle timeouts.
func (r *SessionRegistry) Deregister(sessionId string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.removeLocked(sessionId)
}

func (r *SessionRegistry) removeLocked(sessionId string) *Session {
	s, ok := r.sessions[sessionId]
	if !ok {
		return nil
	}

	delete(r.sessions, sessionId)

	owned := r.byUser[s.UserId]
	for i, sess := range owned {
		if sess.Id == sessionId {
			owned = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	if len(owned) == 0 {
		delete(r.byUser, s.UserId)
	} else {
		r.byUser[s.UserId] = owned
	}

	r.stats.Decr(metricActiveSessions)
	return s
}

// SessionsFor returns the user's live sessions ordered by registration
// time. An empty result is a valid, common state, not an error.
func (r *SessionRegistry) SessionsFor(userId string) []*Session {
	r.lock.RLock()
	defer r.lock.RUnlock()

	owned := r.byUser[userId]
	out := make([]*Session, len(owned))
	copy(out, owned)
	return out
}

// Get returns the session for the given id.
func (r *SessionRegistry) Get(sessionId string) (*Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	s, ok := r.sessions[sessionId]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Subscribe marks the session as viewing the conversation.
func (r *SessionRegistry) Subscribe(sessionId, conversationId string) error {
	s, err := r.Get(sessionId)
	if err != nil {
		return err
	}
	s.Subscribe(conversationId)
	return nil
}

func (r *SessionRegistry) Unsubscribe(sessionId, conversationId string) error {
	s, err := r.Get(sessionId)
	if err != nil {
		return err
	}
	s.Unsubscribe(conversationId)
	return nil
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}

// SweepIdle removes and returns every session with no activity for at
// least maxIdle. The caller closes the returned sessions' transports
// outside the registry lock.
func (r *SessionRegistry) SweepIdle(maxIdle time.Duration) []*Session {
	cutoff := time.Now().Add(-maxIdle)

	r.lock.Lock()
	defer r.lock.Unlock()

	var swept []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			r.removeLocked(id)
			swept = append(swept, s)
		}
	}

	if len(swept) > 0 {
		r.log.Printf("swept %d idle sessions", len(swept))
	}
	return swept
}
