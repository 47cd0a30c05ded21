// internal/tournament/manager.go
package tournament

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kartasi/internal/models"
)

var (
	ErrAlreadyStarted    = errors.New("tournament already started")
	ErrNotStarted        = errors.New("tournament not started")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrMatchNotFound     = errors.New("tournament match not found")
	ErrNotInMatch        = errors.New("you are not seated in this match")
	ErrMatchNotPending   = errors.New("match is not awaiting readiness")
	ErrTooFewPlayers     = errors.New("not enough registered players")
)

// DefaultReadyDeadline bounds the two-party ready handshake; when it
// expires the present seat is awarded a forfeiture win.
const DefaultReadyDeadline = 5 * time.Minute

// CreateSessionFunc builds a live match session for a fully-ready pairing
// and returns its room id. Injected by the server wiring.
type CreateSessionFunc func(m *Match) (uuid.UUID, error)

// Manager owns one single-elimination tournament: registration, the
// bracket, per-match ready handshakes and deadline forfeits, and winner
// propagation driven by session results.
type Manager struct {
	mu sync.Mutex

	participants []Participant
	registered   map[uuid.UUID]bool
	bracket      *Bracket
	started      bool

	ReadyDeadline time.Duration
	CreateSession CreateSessionFunc

	// OnUpdate fires after every bracket mutation so the transport can
	// broadcast the new state. Called outside the manager lock.
	OnUpdate func()

	deadlines map[uuid.UUID]*time.Timer
	gens      map[uuid.UUID]int
}

// NewManager builds an empty tournament.
func NewManager() *Manager {
	return &Manager{
		registered:    make(map[uuid.UUID]bool),
		ReadyDeadline: DefaultReadyDeadline,
		deadlines:     make(map[uuid.UUID]*time.Timer),
		gens:          make(map[uuid.UUID]int),
	}
}

// Register adds a player to the participant list. Registration closes once
// the bracket is built.
func (t *Manager) Register(user models.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	if t.registered[user.ID] {
		return ErrAlreadyRegistered
	}
	t.registered[user.ID] = true
	t.participants = append(t.participants, Participant{ID: user.ID, Username: user.Username})
	return nil
}

// Start builds the bracket and arms deadlines for every immediately
// pending match.
func (t *Manager) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(t.participants) < 2 {
		t.mu.Unlock()
		return ErrTooFewPlayers
	}
	t.started = true
	t.bracket = Build(t.participants)
	for _, m := range t.bracket.Rounds[0] {
		if m.Status == StatusPending {
			t.armDeadlineLocked(m)
		}
	}
	t.mu.Unlock()

	logrus.Infof("tournament: started with %d players", len(t.participants))
	t.fireUpdate()
	return nil
}

// Ready records one seat's readiness for its pending match. The match
// starts (a session is created) only once both seats have signaled.
func (t *Manager) Ready(matchID, playerID uuid.UUID) (readyCount, required int, startedRoomID uuid.UUID, err error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return 0, 2, uuid.Nil, ErrNotStarted
	}
	m := t.bracket.find(matchID)
	if m == nil {
		t.mu.Unlock()
		return 0, 2, uuid.Nil, ErrMatchNotFound
	}
	if m.Status != StatusPending {
		t.mu.Unlock()
		return m.ReadyCount(), 2, uuid.Nil, ErrMatchNotPending
	}
	if !m.hasSeat(playerID) {
		t.mu.Unlock()
		return m.ReadyCount(), 2, uuid.Nil, ErrNotInMatch
	}
	m.ready[playerID] = true
	if m.ReadyCount() < 2 {
		count := m.ReadyCount()
		t.mu.Unlock()
		return count, 2, uuid.Nil, nil
	}

	// Both parties ready: cancel the forfeit deadline and go live. The
	// status flips before the lock is released, so a duplicate ready
	// arriving while the session factory runs cannot start a second
	// session for the same pairing.
	t.cancelDeadlineLocked(m)
	m.Status = StatusPlaying
	create := t.CreateSession
	t.mu.Unlock()

	if create == nil {
		t.abortStart(m)
		return 2, 2, uuid.Nil, errors.New("no session factory configured")
	}
	roomID, err := create(m)
	if err != nil {
		t.abortStart(m)
		return 2, 2, uuid.Nil, err
	}

	t.mu.Lock()
	m.SessionID = roomID
	t.mu.Unlock()

	logrus.Infof("tournament: match %s playing in room %s", m.ID, roomID)
	t.fireUpdate()
	return 2, 2, roomID, nil
}

// ReportResult records the winner of a playing (or deadline-forfeited)
// match and propagates them into the next round. Sibling matches are
// untouched.
func (t *Manager) ReportResult(matchID, winnerID uuid.UUID) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	m := t.bracket.find(matchID)
	if m == nil {
		t.mu.Unlock()
		return ErrMatchNotFound
	}
	if m.Status == StatusFinished {
		t.mu.Unlock()
		return nil // duplicate report, idempotent
	}
	if !m.hasSeat(winnerID) {
		t.mu.Unlock()
		return ErrNotInMatch
	}
	t.finishMatchLocked(m, winnerID)
	finished := t.bracket.Finished
	var champion string
	if finished && t.bracket.Champion != nil {
		champion = t.bracket.Champion.Username
	}
	t.mu.Unlock()

	if finished {
		logrus.Infof("tournament: finished, champion %s", champion)
	}
	t.fireUpdate()
	return nil
}

// SessionAborted resets a match whose underlying session was torn down
// before producing a result: both readiness flags are cleared and the
// handshake restarts.
func (t *Manager) SessionAborted(matchID uuid.UUID) {
	t.mu.Lock()
	m := t.bracket.find(matchID)
	if m == nil || m.Status == StatusFinished {
		t.mu.Unlock()
		return
	}
	m.Status = StatusPending
	m.SessionID = uuid.Nil
	m.ready = make(map[uuid.UUID]bool)
	t.armDeadlineLocked(m)
	t.mu.Unlock()
	t.fireUpdate()
}

// MatchBySession finds the match backed by the given room.
func (t *Manager) MatchBySession(roomID uuid.UUID) (*Match, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bracket == nil {
		return nil, false
	}
	for _, round := range t.bracket.Rounds {
		for _, m := range round {
			if m.SessionID == roomID {
				return m, true
			}
		}
	}
	return nil, false
}

// finishMatchLocked records the winner, propagates upward and arms the
// next pairing's deadline. Assumes lock is held.
func (t *Manager) finishMatchLocked(m *Match, winnerID uuid.UUID) {
	t.cancelDeadlineLocked(m)
	m.Status = StatusFinished
	if m.SeatA != nil && m.SeatA.ID == winnerID {
		m.Winner = m.SeatA
	} else {
		m.Winner = m.SeatB
	}
	if next := t.bracket.propagate(m); next != nil {
		t.armDeadlineLocked(next)
	}
}

// armDeadlineLocked schedules the ready-handshake forfeit for a pending
// match. If the deadline fires, the seat that did signal readiness wins;
// with neither present, the first seat advances. Assumes lock is held.
func (t *Manager) armDeadlineLocked(m *Match) {
	deadline := t.ReadyDeadline
	if deadline <= 0 {
		deadline = DefaultReadyDeadline
	}
	m.Deadline = time.Now().Add(deadline)
	t.gens[m.ID]++
	gen := t.gens[m.ID]
	matchID := m.ID
	t.deadlines[matchID] = time.AfterFunc(deadline, func() {
		t.mu.Lock()
		if t.gens[matchID] != gen {
			t.mu.Unlock()
			return
		}
		mm := t.bracket.find(matchID)
		if mm == nil || mm.Status != StatusPending {
			t.mu.Unlock()
			return
		}
		winner := mm.SeatA
		if mm.SeatB != nil && mm.ready[mm.SeatB.ID] && !mm.ready[mm.SeatA.ID] {
			winner = mm.SeatB
		}
		logrus.Infof("tournament: match %s deadline expired, %s wins by forfeit", matchID, winner.Username)
		t.finishMatchLocked(mm, winner.ID)
		t.mu.Unlock()
		t.fireUpdate()
	})
}

// abortStart rolls a match back to pending after the session factory
// failed, re-arming its forfeit deadline. Readiness flags survive, so
// either seat's next ready retries the start.
func (t *Manager) abortStart(m *Match) {
	t.mu.Lock()
	m.Status = StatusPending
	t.armDeadlineLocked(m)
	t.mu.Unlock()
}

func (t *Manager) cancelDeadlineLocked(m *Match) {
	t.gens[m.ID]++
	if timer, ok := t.deadlines[m.ID]; ok {
		timer.Stop()
		delete(t.deadlines, m.ID)
	}
}

func (t *Manager) fireUpdate() {
	if t.OnUpdate != nil {
		t.OnUpdate()
	}
}

// MatchView is one serializable bracket slot.
type MatchView struct {
	ID        uuid.UUID    `json:"id"`
	Round     int          `json:"round"`
	Slot      int          `json:"slot"`
	SeatA     *Participant `json:"seatA,omitempty"`
	SeatB     *Participant `json:"seatB,omitempty"`
	Winner    *Participant `json:"winner,omitempty"`
	Status    MatchStatus  `json:"status"`
	Deadline  *time.Time   `json:"deadline,omitempty"`
	SessionID *uuid.UUID   `json:"sessionId,omitempty"`
}

// BracketView is the serializable bracket state for clients.
type BracketView struct {
	Started    bool          `json:"started"`
	Rounds     [][]MatchView `json:"rounds,omitempty"`
	Champion   *Participant  `json:"champion,omitempty"`
	Finished   bool          `json:"finished"`
	Registered int           `json:"registered"`
}

// View snapshots the bracket for getTournamentBracket.
func (t *Manager) View() BracketView {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := BracketView{Started: t.started, Registered: len(t.participants)}
	if t.bracket == nil {
		return view
	}
	view.Champion = t.bracket.Champion
	view.Finished = t.bracket.Finished
	for _, round := range t.bracket.Rounds {
		row := make([]MatchView, 0, len(round))
		for _, m := range round {
			mv := MatchView{
				ID:     m.ID,
				Round:  m.Round,
				Slot:   m.Slot,
				SeatA:  m.SeatA,
				SeatB:  m.SeatB,
				Winner: m.Winner,
				Status: m.Status,
			}
			if !m.Deadline.IsZero() {
				d := m.Deadline
				mv.Deadline = &d
			}
			if m.SessionID != uuid.Nil {
				id := m.SessionID
				mv.SessionID = &id
			}
			row = append(row, mv)
		}
		view.Rounds = append(view.Rounds, row)
	}
	return view
}
