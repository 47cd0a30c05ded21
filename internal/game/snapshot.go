// internal/game/snapshot.go
package game

import (
	"time"

	"github.com/google/uuid"

	"kartasi/internal/models"
)

// SeatSnapshot is a session view obfuscated for one seat: only the viewer's
// own hand is revealed, opponents appear as hand sizes. A viewer seat of -1
// (spectator) reveals no hand at all.
type SeatSnapshot struct {
	RoomID  uuid.UUID `json:"roomId"`
	Name    string    `json:"name,omitempty"`
	Variant Variant   `json:"variant"`
	Mode    Mode      `json:"mode"`
	Phase   Phase     `json:"phase"`

	YourSeat    int           `json:"yourSeat"` // -1 for spectators
	Hand        []models.Card `json:"hand,omitempty"`
	HandSizes   []int         `json:"handSizes"`
	Round       []PlayedCard  `json:"round,omitempty"`
	Trump       *models.Card  `json:"trump,omitempty"`
	DeckSize    int           `json:"deckSize"`
	CurrentSeat int           `json:"currentSeat"`
	DealNumber  int           `json:"deal"`
	Target      int           `json:"target"`
	Totals      []int         `json:"totals"`
	WinnerSide  int           `json:"winnerSide"`

	Melds []MeldView `json:"melds,omitempty"`

	Players []SeatInfo `json:"players"`
}

// SeatInfo describes one seat publicly.
type SeatInfo struct {
	Seat      int       `json:"seat"`
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Connected bool      `json:"connected"`
}

// MeldView is a declared akuža as everyone sees it.
type MeldView struct {
	Side   int    `json:"side"`
	Seat   int    `json:"seat"`
	Choice string `json:"choice"`
	Points int    `json:"points"`
}

// SnapshotFor builds the obfuscated view for the given seat.
func (s *MatchSession) SnapshotFor(seat int) SeatSnapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshotForLocked(seat)
}

func (s *MatchSession) snapshotForLocked(seat int) SeatSnapshot {
	snap := SeatSnapshot{
		RoomID:      s.ID,
		Name:        s.Config.Name,
		Variant:     s.Variant,
		Mode:        s.Mode,
		Phase:       s.Phase,
		YourSeat:    seat,
		Round:       append([]PlayedCard(nil), s.Round...),
		Trump:       s.Trump,
		DeckSize:    s.deckRemainingLocked(),
		CurrentSeat: s.CurrentSeat,
		DealNumber:  s.DealNumber,
		Target:      s.Rules.Target(),
		Totals:      []int{s.Totals[0], s.Totals[1]},
		WinnerSide:  s.Winner,
	}
	for _, p := range s.Players {
		snap.HandSizes = append(snap.HandSizes, len(p.Hand))
		snap.Players = append(snap.Players, SeatInfo{Seat: p.Seat, ID: p.ID, Username: p.Username, Connected: p.Connected})
		if p.Seat == seat {
			snap.Hand = append([]models.Card(nil), p.Hand...)
		}
	}
	for side, m := range s.Melds {
		if m != nil {
			snap.Melds = append(snap.Melds, MeldView{Side: side, Seat: m.Seat, Choice: m.Choice, Points: m.Points})
		}
	}
	return snap
}

// SessionSnapshot is the full persistable form of a session, enough to
// rebuild the live aggregate after a restart. Owned by the external cache.
type SessionSnapshot struct {
	RoomID      uuid.UUID           `json:"room_id"`
	Variant     Variant             `json:"variant"`
	Mode        Mode                `json:"mode"`
	Config      SessionConfig       `json:"config"`
	Players     []SnapPlayer        `json:"players"`
	Deck        []models.Card       `json:"deck,omitempty"`
	Trump       *models.Card        `json:"trump,omitempty"`
	TrumpSuit   string              `json:"trump_suit,omitempty"`
	Round       []PlayedCard        `json:"round,omitempty"`
	Won         [2][]models.Card    `json:"won"`
	Melds       [2]*MeldDeclaration `json:"melds"`
	LastTrick   int                 `json:"last_trick_side"`
	Current     int                 `json:"current_seat"`
	DealNumber  int                 `json:"deal_number"`
	RoundsDone  int                 `json:"rounds_done"`
	Totals      [2]int              `json:"totals"`
	Phase       Phase               `json:"phase"`
	Winner      int                 `json:"winner"`
	LastUpdated time.Time           `json:"last_updated"`
}

// SnapPlayer is a seat in persisted form, hand included.
type SnapPlayer struct {
	ID       uuid.UUID     `json:"id"`
	Username string        `json:"username"`
	Seat     int           `json:"seat"`
	Hand     []models.Card `json:"hand"`
}

// Snapshot captures the session's full state for persistence.
func (s *MatchSession) Snapshot() SessionSnapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshotLocked()
}

func (s *MatchSession) snapshotLocked() SessionSnapshot {
	snap := SessionSnapshot{
		RoomID:      s.ID,
		Variant:     s.Variant,
		Mode:        s.Mode,
		Config:      s.Config,
		Deck:        append([]models.Card(nil), s.Deck...),
		Trump:       s.Trump,
		Round:       append([]PlayedCard(nil), s.Round...),
		Won:         s.Won,
		Melds:       s.Melds,
		LastTrick:   s.LastTrickSide,
		Current:     s.CurrentSeat,
		DealNumber:  s.DealNumber,
		RoundsDone:  s.RoundsDone,
		Totals:      s.Totals,
		Phase:       s.Phase,
		Winner:      s.Winner,
		LastUpdated: time.Now(),
	}
	if br, ok := s.Rules.(*BriskulaRules); ok {
		snap.TrumpSuit = br.TrumpSuit
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, SnapPlayer{
			ID:       p.ID,
			Username: p.Username,
			Seat:     p.Seat,
			Hand:     append([]models.Card(nil), p.Hand...),
		})
	}
	return snap
}

// RestoreSession rebuilds a live session from a persisted snapshot. All
// seats come back marked disconnected; play resumes as participants
// reconnect. A snapshot caught mid-resolution reopens the round for
// resolution once restored.
func RestoreSession(snap SessionSnapshot) *MatchSession {
	s := NewMatchSession(snap.Variant, snap.Mode, snap.Config)
	s.ID = snap.RoomID
	s.Deck = snap.Deck
	s.Trump = snap.Trump
	s.Round = snap.Round
	s.Won = snap.Won
	s.Melds = snap.Melds
	s.LastTrickSide = snap.LastTrick
	s.CurrentSeat = snap.Current
	s.DealNumber = snap.DealNumber
	s.RoundsDone = snap.RoundsDone
	s.Totals = snap.Totals
	s.Phase = snap.Phase
	s.Winner = snap.Winner
	if br, ok := s.Rules.(*BriskulaRules); ok {
		br.TrumpSuit = snap.TrumpSuit
	}
	for _, sp := range snap.Players {
		s.Players = append(s.Players, &models.Player{
			ID:       sp.ID,
			Username: sp.Username,
			Seat:     sp.Seat,
			Hand:     sp.Hand,
		})
	}
	if s.Phase == PhaseResolving && len(s.Round) == s.Mode.PlayerCount() {
		// The resolution timer died with the old process; settle the
		// round now instead of waiting on a callback that will never fire.
		s.Mu.Lock()
		s.resolveRoundLocked()
		s.Mu.Unlock()
	}
	return s
}
