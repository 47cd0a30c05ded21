// internal/game/store.go
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTeardownDelay is how long a terminal room lingers in the registry
// before automatic destruction, giving clients time to fetch the result.
const DefaultTeardownDelay = 30 * time.Second

// SessionStore is the session registry: the single owner of live rooms.
// The map is the only cross-room shared structure; the sessions themselves
// are mutated exclusively through their own lock.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*MatchSession
	teardown map[uuid.UUID]*time.Timer

	// TeardownDelay overrides DefaultTeardownDelay when positive.
	TeardownDelay time.Duration

	// OnTerminal, if set, observes every session reaching a terminal phase
	// (persistence, result publishing, tournament reporting). Called after
	// the session's own terminal broadcast, outside its lock.
	OnTerminal func(s *MatchSession)

	// OnDestroyed observes registry removals so collaborators (reconnect
	// tombstones, cache eviction) can react.
	OnDestroyed func(s *MatchSession)
}

// NewSessionStore builds an empty registry.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*MatchSession),
		teardown: make(map[uuid.UUID]*time.Timer),
	}
}

// Create builds a session, registers it under a fresh room id, and wires
// its terminal hook to the scheduled teardown. Ids are generated per
// creation, so two registry entries can never collide.
func (st *SessionStore) Create(variant Variant, mode Mode, cfg SessionConfig) *MatchSession {
	s := NewMatchSession(variant, mode, cfg)
	s.OnTerminal = func(sess *MatchSession, immediate bool) {
		// Called with the session lock held; hand off so observers and
		// Destroy can take their own locks.
		go st.sessionTerminal(sess, immediate)
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	logrus.Infof("registry: room %s created (%s %s)", s.ID, variant, mode)
	return s
}

// Register inserts a restored session (crash recovery path). If the room
// came back to life in the meantime, the earlier registration wins and is
// returned; callers must use the returned session.
func (st *SessionStore) Register(s *MatchSession) *MatchSession {
	st.mu.Lock()
	if live, ok := st.sessions[s.ID]; ok {
		st.mu.Unlock()
		return live
	}
	s.OnTerminal = func(sess *MatchSession, immediate bool) {
		go st.sessionTerminal(sess, immediate)
	}
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns the live session for a room id.
func (st *SessionStore) Get(roomID uuid.UUID) (*MatchSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[roomID]
	return s, ok
}

// Destroy removes a room from the registry and cancels its pending
// teardown timer. Safe to call twice.
func (st *SessionStore) Destroy(roomID uuid.UUID) {
	st.mu.Lock()
	s, ok := st.sessions[roomID]
	if !ok {
		st.mu.Unlock()
		return
	}
	delete(st.sessions, roomID)
	if t, exists := st.teardown[roomID]; exists {
		t.Stop()
		delete(st.teardown, roomID)
	}
	st.mu.Unlock()

	logrus.Infof("registry: room %s destroyed", roomID)
	if st.OnDestroyed != nil {
		st.OnDestroyed(s)
	}
}

// sessionTerminal runs the terminal observers and schedules (or performs)
// the teardown.
func (st *SessionStore) sessionTerminal(s *MatchSession, immediate bool) {
	if st.OnTerminal != nil {
		st.OnTerminal(s)
	}
	if immediate {
		st.Destroy(s.ID)
		return
	}
	delay := st.TeardownDelay
	if delay <= 0 {
		delay = DefaultTeardownDelay
	}
	st.mu.Lock()
	if _, alive := st.sessions[s.ID]; !alive {
		st.mu.Unlock()
		return
	}
	if _, pending := st.teardown[s.ID]; pending {
		st.mu.Unlock()
		return
	}
	roomID := s.ID
	st.teardown[roomID] = time.AfterFunc(delay, func() {
		st.Destroy(roomID)
	})
	st.mu.Unlock()
}

// ListJoinable returns waiting-phase ad-hoc rooms for the given variant,
// for the active-games listing.
func (st *SessionStore) ListJoinable(variant Variant) []SeatSnapshot {
	st.mu.Lock()
	candidates := make([]*MatchSession, 0)
	for _, s := range st.sessions {
		candidates = append(candidates, s)
	}
	st.mu.Unlock()

	var out []SeatSnapshot
	for _, s := range candidates {
		s.Mu.Lock()
		ok := s.Variant == variant && s.Phase == PhaseWaiting && s.Config.Name != ""
		var snap SeatSnapshot
		if ok {
			snap = s.snapshotForLocked(-1)
		}
		s.Mu.Unlock()
		if ok {
			out = append(out, snap)
		}
	}
	return out
}

// Count returns the number of live rooms.
func (st *SessionStore) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
