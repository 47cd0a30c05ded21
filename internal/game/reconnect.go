// internal/game/reconnect.go
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// tombstoneTTL is how long a destroyed room's record is kept so that late
// reconnect attempts get an accurate reason instead of a generic miss.
const tombstoneTTL = 10 * time.Minute

// ReconnectManager arbitrates whether a returning connection may resume as
// a participant. Live sessions answer for themselves; for rooms already
// torn down, the manager keeps short-lived tombstones distinguishing
// "room deleted" from "you left for good".
type ReconnectManager struct {
	store *SessionStore

	mu     sync.Mutex
	graves map[uuid.UUID]*tombstone
}

type tombstone struct {
	wasPlayer map[uuid.UUID]bool
	leftGood  map[uuid.UUID]bool
	at        time.Time
}

// NewReconnectManager builds a manager over the given registry. The caller
// is responsible for feeding NoteDestroyed from the registry's OnDestroyed
// hook.
func NewReconnectManager(store *SessionStore) *ReconnectManager {
	return &ReconnectManager{
		store:  store,
		graves: make(map[uuid.UUID]*tombstone),
	}
}

// NoteDestroyed records a destroyed session so later reconnect attempts can
// be answered precisely. The record self-expires.
func (m *ReconnectManager) NoteDestroyed(s *MatchSession) {
	t := &tombstone{
		wasPlayer: make(map[uuid.UUID]bool),
		leftGood:  make(map[uuid.UUID]bool),
		at:        time.Now(),
	}
	s.Mu.Lock()
	roomID := s.ID
	for _, p := range s.Players {
		t.wasPlayer[p.ID] = true
	}
	for id, left := range s.leftForGood {
		t.wasPlayer[id] = true
		t.leftGood[id] = left
	}
	s.Mu.Unlock()

	m.mu.Lock()
	m.graves[roomID] = t
	m.mu.Unlock()

	time.AfterFunc(tombstoneTTL, func() {
		m.mu.Lock()
		if g, ok := m.graves[roomID]; ok && g == t {
			delete(m.graves, roomID)
		}
		m.mu.Unlock()
	})
}

// Reconnect resolves a resume attempt. On success the grace timer is
// canceled and the caller gets the session plus an exact snapshot of the
// seat's view. Failures are distinguishable: ErrPermanentlyLeft,
// ErrRoomDeleted, ErrPlayerNotFound or ErrRoomNotFound.
func (m *ReconnectManager) Reconnect(roomID, playerID uuid.UUID) (*MatchSession, *SeatSnapshot, error) {
	if s, ok := m.store.Get(roomID); ok {
		snap, err := s.HandleReconnect(playerID)
		if err != nil {
			return nil, nil, err
		}
		logrus.Infof("reconnect: %s resumed room %s", playerID, roomID)
		return s, snap, nil
	}

	m.mu.Lock()
	grave, ok := m.graves[roomID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	if grave.leftGood[playerID] {
		return nil, nil, ErrPermanentlyLeft
	}
	if !grave.wasPlayer[playerID] {
		return nil, nil, ErrPlayerNotFound
	}
	return nil, nil, ErrRoomDeleted
}
