// internal/game/session.go
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kartasi/internal/models"
)

// Phase is a session's lifecycle stage.
type Phase string

const (
	// PhaseWaiting: ad-hoc room created, seats still filling.
	PhaseWaiting Phase = "waiting"
	// PhasePlaying: a deal is in progress and the current seat may act.
	PhasePlaying Phase = "playing"
	// PhaseResolving: all seats have played this round; the result is
	// scheduled to broadcast after a short visual delay. No plays accepted.
	PhaseResolving Phase = "resolving"
	// PhaseIntermission: a deal finished without reaching the match target;
	// waiting for every seat to confirm the next deal.
	PhaseIntermission Phase = "intermission"
	// PhaseFinished: the match completed normally.
	PhaseFinished Phase = "finished"
	// PhaseInterrupted: a seat abandoned the match or its grace period
	// expired; the remaining side wins by forfeit.
	PhaseInterrupted Phase = "interrupted"
)

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseInterrupted
}

// DrawWinner marks a drawn match in MatchSession.Winner.
const DrawWinner = -1

// SessionConfig carries the per-room options fixed at creation time.
type SessionConfig struct {
	Name     string // ad-hoc rooms only; empty for matchmade sessions
	Password string // optional join password for ad-hoc rooms

	// MeldsEnabled (trešeta) fixes the match target at 41 instead of 31.
	MeldsEnabled bool
	// LastTrickTiebreak (briskula) awards a 60-60 deal to the last trick's
	// winner instead of declaring a draw.
	LastTrickTiebreak bool

	// ResolveDelay is the pause between the round's last card and the
	// resolution broadcast. Zero resolves synchronously.
	ResolveDelay time.Duration
	// GracePeriod is how long a disconnected seat may reconnect before the
	// session is forfeited.
	GracePeriod time.Duration
}

// MeldDeclaration records the single akuža a side may declare per deal.
type MeldDeclaration struct {
	Seat   int    `json:"seat"`
	Choice string `json:"choice"`
	Points int    `json:"points"`
}

// MatchSession is the aggregate root for one room: it owns the deal state,
// enforces turn order and move legality, and accumulates scores across
// deals. All mutation happens under Mu; timers re-acquire it and validate
// generation counters before acting, so a stale callback can never touch
// current state.
type MatchSession struct {
	ID      uuid.UUID
	Variant Variant
	Mode    Mode
	Config  SessionConfig
	Rules   Rules

	Players []*models.Player // seat order; len == Mode.PlayerCount() once started

	// Deal state. Sides are always 0 and 1 (TeamOf).
	Deck          []models.Card
	Trump         *models.Card // briskula: face-up trump, drawn last
	Round         []PlayedCard
	Won           [2][]models.Card
	Melds         [2]*MeldDeclaration
	LastTrickSide int
	CurrentSeat   int
	DealNumber    int
	RoundsDone    int

	Totals [2]int
	Phase  Phase
	Winner int // valid side index once terminal, or DrawWinner

	CreatedAt time.Time

	Mu sync.Mutex

	// BroadcastFn sends an event to every participant (players and
	// spectators). BroadcastToPlayerFn targets one identity. Both are
	// injected by the transport layer; nil means no delivery.
	BroadcastFn         func(ev Event)
	BroadcastToPlayerFn func(playerID uuid.UUID, ev Event)

	// OnTerminal fires once when the session reaches a terminal phase.
	// immediate asks the registry to tear the room down right away
	// (permanent abandonment) instead of after the usual delay.
	OnTerminal func(s *MatchSession, immediate bool)

	// OnStateChanged observes committed transitions (deal start, resolved
	// round, intermission) with a consistent snapshot, so live sessions can
	// be persisted as they progress. Invoked asynchronously.
	OnStateChanged func(snap SessionSnapshot)

	spectators map[uuid.UUID]string // identity -> username

	leftForGood map[uuid.UUID]bool

	resolveTimer *time.Timer
	resolveGen   int
	graceTimers  map[uuid.UUID]*time.Timer
	graceGen     map[uuid.UUID]int
}

// NewMatchSession builds an empty session in the waiting phase.
func NewMatchSession(variant Variant, mode Mode, cfg SessionConfig) *MatchSession {
	id, _ := uuid.NewRandom()
	var rules Rules
	switch variant {
	case VariantTreseta:
		rules = &TresetaRules{MeldsEnabled: cfg.MeldsEnabled}
	default:
		rules = &BriskulaRules{LastTrickTiebreak: cfg.LastTrickTiebreak}
	}
	return &MatchSession{
		ID:            id,
		Variant:       variant,
		Mode:          mode,
		Config:        cfg,
		Rules:         rules,
		Phase:         PhaseWaiting,
		Winner:        DrawWinner,
		LastTrickSide: -1,
		CreatedAt:     time.Now(),
		spectators:    make(map[uuid.UUID]string),
		leftForGood:   make(map[uuid.UUID]bool),
		graceTimers:   make(map[uuid.UUID]*time.Timer),
		graceGen:      make(map[uuid.UUID]int),
	}
}

// Join seats a user in the room. Joining an already-held seat is idempotent
// and returns the existing seat. Once the last seat fills, the first deal
// is dealt and the session starts.
func (s *MatchSession) Join(user models.User) (int, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Phase != PhaseWaiting {
		return 0, ErrNotPlaying
	}
	for _, p := range s.Players {
		if p.ID == user.ID {
			return p.Seat, nil
		}
	}
	if len(s.Players) >= s.Mode.PlayerCount() {
		return 0, ErrRoomFull
	}
	seat := len(s.Players)
	s.Players = append(s.Players, &models.Player{
		ID:        user.ID,
		Username:  user.Username,
		Seat:      seat,
		Connected: true,
	})
	logrus.Debugf("room %s: %s seated at %d (%d/%d)", s.ID, user.Username, seat, len(s.Players), s.Mode.PlayerCount())
	s.fireEvent(Event{Type: EventRoomUpdate, Payload: map[string]interface{}{
		"seated":   len(s.Players),
		"required": s.Mode.PlayerCount(),
	}})

	if len(s.Players) == s.Mode.PlayerCount() {
		s.startDealLocked()
	}
	return seat, nil
}

// CheckPassword validates an ad-hoc room password. Rooms without a password
// accept anything.
func (s *MatchSession) CheckPassword(pw string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.Config.Password != "" && s.Config.Password != pw {
		return ErrWrongPassword
	}
	return nil
}

// startDealLocked shuffles, deals and opens play. The lead rotates with the
// deal number. Assumes lock is held.
func (s *MatchSession) startDealLocked() {
	n := s.Mode.PlayerCount()
	deck := NewDeck()
	size := s.Rules.HandSize()
	for i, p := range s.Players {
		p.Hand = append([]models.Card(nil), deck[i*size:(i+1)*size]...)
		p.RedealReady = false
	}
	deck = deck[n*size:]

	s.Trump = nil
	if br, ok := s.Rules.(*BriskulaRules); ok {
		trump := deck[0]
		deck = deck[1:]
		s.Trump = &trump
		br.TrumpSuit = trump.Suit
		s.Deck = deck
	} else {
		// Trešeta plays full hands with no replenishment; in 1v1 the rest
		// of the deck stays out of play.
		s.Deck = nil
	}

	s.DealNumber++
	s.Round = nil
	s.Won = [2][]models.Card{}
	s.Melds = [2]*MeldDeclaration{}
	s.LastTrickSide = -1
	s.RoundsDone = 0
	s.CurrentSeat = (s.DealNumber - 1) % n
	s.Phase = PhasePlaying

	logrus.Infof("room %s: deal %d started (%s %s), lead seat %d", s.ID, s.DealNumber, s.Variant, s.Mode, s.CurrentSeat)

	ev := EventDealStart
	if s.DealNumber == 1 {
		ev = EventGameStart
	}
	s.fireEvent(Event{Type: ev, Payload: map[string]interface{}{
		"deal":   s.DealNumber,
		"target": s.Rules.Target(),
	}})
	s.syncAllLocked()
	s.notifyStateChangedLocked()
}

// PlayCard validates and applies one card play for the given identity.
// Errors leave the session untouched.
func (s *MatchSession) PlayCard(playerID uuid.UUID, card models.Card) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	switch s.Phase {
	case PhasePlaying:
	case PhaseResolving:
		return ErrRoundInProgress
	default:
		return ErrNotPlaying
	}

	p := s.playerByIDLocked(playerID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if p.Seat != s.CurrentSeat {
		return ErrNotYourTurn
	}
	if !p.HoldsCard(card) {
		return ErrCardNotInHand
	}
	if err := s.Rules.CheckPlay(p.Hand, s.Round, card); err != nil {
		return err
	}

	p.RemoveCard(card)
	s.Round = append(s.Round, PlayedCard{Seat: p.Seat, Card: card})
	s.fireEvent(Event{Type: EventCardPlayed, Seat: seatRef(p.Seat), Card: &card})

	n := s.Mode.PlayerCount()
	if len(s.Round) < n {
		s.CurrentSeat = (s.CurrentSeat + 1) % n
		s.fireEvent(Event{Type: EventTurnChange, Seat: seatRef(s.CurrentSeat)})
		return nil
	}

	// Round full: close it to new plays and resolve after the visual delay.
	s.Phase = PhaseResolving
	s.resolveGen++
	gen := s.resolveGen
	if s.Config.ResolveDelay <= 0 {
		s.resolveRoundLocked()
		return nil
	}
	s.resolveTimer = time.AfterFunc(s.Config.ResolveDelay, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		if s.resolveGen != gen || s.Phase != PhaseResolving {
			return // canceled by a leave or teardown in the meantime
		}
		s.resolveRoundLocked()
	})
	return nil
}

// resolveRoundLocked scores the closed round, moves its cards to the
// winning side's pile, runs post-trick draws, and either opens the next
// round or finishes the deal. Assumes lock is held.
func (s *MatchSession) resolveRoundLocked() {
	idx := s.Rules.ResolveRound(s.Round)
	winnerSeat := s.Round[idx].Seat
	side := TeamOf(winnerSeat, s.Mode)

	for _, pc := range s.Round {
		s.Won[side] = append(s.Won[side], pc.Card)
	}
	s.LastTrickSide = side
	s.RoundsDone++
	s.Round = nil

	if s.Rules.DrawsAfterTrick() {
		s.drawAfterTrickLocked(winnerSeat)
	}

	s.fireEvent(Event{Type: EventRoundFinished, Payload: map[string]interface{}{
		"winnerSeat":    winnerSeat,
		"winnerSide":    side,
		"deckRemaining": s.deckRemainingLocked(),
	}})

	if s.handsEmptyLocked() {
		s.finishDealLocked()
		return
	}

	s.CurrentSeat = winnerSeat
	s.Phase = PhasePlaying
	s.fireEvent(Event{Type: EventTurnChange, Seat: seatRef(s.CurrentSeat)})
	s.syncAllLocked()
	s.notifyStateChangedLocked()
}

// drawAfterTrickLocked replenishes briskula hands: the trick winner draws
// first, then the remaining seats in order. The face-up trump is the very
// last card given out. Assumes lock is held.
func (s *MatchSession) drawAfterTrickLocked(winnerSeat int) {
	n := s.Mode.PlayerCount()
	for i := 0; i < n; i++ {
		seat := (winnerSeat + i) % n
		var c models.Card
		switch {
		case len(s.Deck) > 0:
			c = s.Deck[0]
			s.Deck = s.Deck[1:]
		case s.Trump != nil:
			c = *s.Trump
			s.Trump = nil
		default:
			return
		}
		s.Players[seat].Hand = append(s.Players[seat].Hand, c)
	}
}

// finishDealLocked applies deal scoring to the running totals and either
// ends the match, or parks the session in intermission until every seat
// confirms the next deal. Assumes lock is held.
func (s *MatchSession) finishDealLocked() {
	var meldPoints map[int]int
	if s.Melds[0] != nil || s.Melds[1] != nil {
		meldPoints = make(map[int]int, 2)
		for side, m := range s.Melds {
			if m != nil {
				meldPoints[side] = m.Points
			}
		}
	}
	won := map[int][]models.Card{0: s.Won[0], 1: s.Won[1]}
	points := s.Rules.DealPoints(won, s.LastTrickSide, meldPoints)
	s.Totals[0] += points[0]
	s.Totals[1] += points[1]

	s.fireEvent(Event{Type: EventDealFinished, Payload: map[string]interface{}{
		"deal":       s.DealNumber,
		"dealPoints": []int{points[0], points[1]},
		"totals":     []int{s.Totals[0], s.Totals[1]},
		"target":     s.Rules.Target(),
	}})

	target := s.Rules.Target()
	if target == 0 {
		// Single-deal match: higher score wins; a tie is a draw unless the
		// last-trick policy flag is set.
		winner := DrawWinner
		switch {
		case s.Totals[0] > s.Totals[1]:
			winner = 0
		case s.Totals[1] > s.Totals[0]:
			winner = 1
		default:
			if br, ok := s.Rules.(*BriskulaRules); ok {
				winner = br.TiebreakWinner(s.LastTrickSide)
			}
		}
		s.finishMatchLocked(winner)
		return
	}

	if s.Totals[0] >= target || s.Totals[1] >= target {
		winner := DrawWinner
		switch {
		case s.Totals[0] > s.Totals[1]:
			winner = 0
		case s.Totals[1] > s.Totals[0]:
			winner = 1
		}
		s.finishMatchLocked(winner)
		return
	}

	s.Phase = PhaseIntermission
	logrus.Infof("room %s: deal %d done, totals %d-%d (target %d), awaiting redeal", s.ID, s.DealNumber, s.Totals[0], s.Totals[1], target)
	s.notifyStateChangedLocked()
}

// RedealReady records a seat's confirmation for the next deal; once every
// seat has confirmed, a fresh deal is dealt.
func (s *MatchSession) RedealReady(playerID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Phase != PhaseIntermission {
		return ErrNotPlaying
	}
	p := s.playerByIDLocked(playerID)
	if p == nil {
		return ErrPlayerNotFound
	}
	p.RedealReady = true
	for _, pl := range s.Players {
		if !pl.RedealReady {
			return nil
		}
	}
	s.startDealLocked()
	return nil
}

// DeclareMeld applies a trešeta akuža declaration for the declarer's side.
// At most one declaration is accepted per side per deal, and only during
// the deal's first round.
func (s *MatchSession) DeclareMeld(playerID uuid.UUID, choice string) (int, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	tr, ok := s.Rules.(*TresetaRules)
	if !ok || !tr.MeldsEnabled {
		return 0, ErrWrongVariant
	}
	if s.Phase != PhasePlaying && s.Phase != PhaseResolving {
		return 0, ErrNotPlaying
	}
	if s.RoundsDone > 0 {
		return 0, ErrMeldTooLate
	}
	p := s.playerByIDLocked(playerID)
	if p == nil {
		return 0, ErrPlayerNotFound
	}
	side := TeamOf(p.Seat, s.Mode)
	if s.Melds[side] != nil {
		return 0, ErrAlreadyDeclared
	}
	points, err := EvaluateMeld(p.Hand, choice)
	if err != nil {
		return 0, err
	}
	s.Melds[side] = &MeldDeclaration{Seat: p.Seat, Choice: choice, Points: points}
	s.fireEvent(Event{Type: EventMeldAnnounced, Seat: seatRef(p.Seat), Payload: map[string]interface{}{
		"side":   side,
		"meld":   choice,
		"points": points,
	}})
	return points, nil
}

// HandleDisconnect marks a seat absent and arms its grace timer. The
// session keeps running logically frozen for that seat; if the timer fires
// before a reconnect, the match is forfeited.
func (s *MatchSession) HandleDisconnect(playerID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	p := s.playerByIDLocked(playerID)
	if p == nil || !p.Connected {
		return
	}
	p.Connected = false

	if s.Phase.Terminal() {
		return
	}
	if s.Phase == PhaseWaiting {
		// Room never started; free the seat.
		s.removeSeatLocked(p.Seat)
		if len(s.Players) == 0 {
			s.Phase = PhaseInterrupted
			if s.OnTerminal != nil {
				s.OnTerminal(s, true)
			}
		}
		return
	}

	s.fireEvent(Event{Type: EventPlayerLeft, Seat: seatRef(p.Seat), Payload: map[string]interface{}{
		"permanent": false,
		"grace":     s.Config.GracePeriod.Seconds(),
	}})

	s.graceGen[playerID]++
	gen := s.graceGen[playerID]
	seat := p.Seat
	s.graceTimers[playerID] = time.AfterFunc(s.Config.GracePeriod, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		if s.graceGen[playerID] != gen || s.Phase.Terminal() {
			return
		}
		if pl := s.playerByIDLocked(playerID); pl != nil && pl.Connected {
			return // reconnected while the callback was pending
		}
		logrus.Infof("room %s: grace period expired for seat %d", s.ID, seat)
		s.interruptLocked(seat, "grace_expired", false)
	})
}

// HandleReconnect restores an absent seat to its exact pre-disconnect view
// of the session: same hand, scores and turn. Fails with a distinguishable
// reason when resumption is impossible.
func (s *MatchSession) HandleReconnect(playerID uuid.UUID) (*SeatSnapshot, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.leftForGood[playerID] {
		return nil, ErrPermanentlyLeft
	}
	if s.Phase.Terminal() {
		return nil, ErrRoomDeleted
	}
	p := s.playerByIDLocked(playerID)
	if p == nil {
		return nil, ErrPlayerNotFound
	}

	s.graceGen[playerID]++
	if t, ok := s.graceTimers[playerID]; ok {
		t.Stop()
		delete(s.graceTimers, playerID)
	}
	p.Connected = true
	s.fireEvent(Event{Type: EventPlayerReconnected, Seat: seatRef(p.Seat)})
	snap := s.snapshotForLocked(p.Seat)
	return &snap, nil
}

// LeavePermanently is an explicit abandonment: any pending grace or
// resolution timer is canceled and the session terminates immediately.
func (s *MatchSession) LeavePermanently(playerID uuid.UUID) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	p := s.playerByIDLocked(playerID)
	if p == nil {
		return ErrPlayerNotFound
	}
	s.leftForGood[playerID] = true
	p.Connected = false

	s.graceGen[playerID]++
	if t, ok := s.graceTimers[playerID]; ok {
		t.Stop()
		delete(s.graceTimers, playerID)
	}

	if s.Phase.Terminal() {
		return nil
	}
	if s.Phase == PhaseWaiting {
		s.removeSeatLocked(p.Seat)
		if len(s.Players) == 0 {
			s.Phase = PhaseInterrupted
			if s.OnTerminal != nil {
				s.OnTerminal(s, true)
			}
		}
		return nil
	}
	s.interruptLocked(p.Seat, "left_permanently", true)
	return nil
}

// AddSpectator registers a read-only observer and returns an obfuscated
// snapshot (no hands revealed).
func (s *MatchSession) AddSpectator(user models.User) SeatSnapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.spectators[user.ID] = user.Username
	return s.snapshotForLocked(-1)
}

// RemoveSpectator drops an observer.
func (s *MatchSession) RemoveSpectator(id uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	delete(s.spectators, id)
}

// Audience returns every identity that should receive broadcasts: seated
// players plus spectators.
func (s *MatchSession) Audience() []uuid.UUID {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.Players)+len(s.spectators))
	for _, p := range s.Players {
		ids = append(ids, p.ID)
	}
	for id := range s.spectators {
		ids = append(ids, id)
	}
	return ids
}

// interruptLocked forfeits the match against the leaving seat's side and
// notifies everyone still present. Assumes lock is held.
func (s *MatchSession) interruptLocked(leaverSeat int, reason string, immediate bool) {
	s.cancelTimersLocked()
	s.Phase = PhaseInterrupted
	s.Winner = 1 - TeamOf(leaverSeat, s.Mode)
	logrus.Infof("room %s: interrupted (%s), side %d wins by forfeit", s.ID, reason, s.Winner)
	s.fireEvent(Event{Type: EventGameEnd, Payload: map[string]interface{}{
		"reason":     reason,
		"winnerSide": s.Winner,
		"totals":     []int{s.Totals[0], s.Totals[1]},
	}})
	if s.OnTerminal != nil {
		s.OnTerminal(s, immediate)
	}
}

// finishMatchLocked ends a completed match. Assumes lock is held.
func (s *MatchSession) finishMatchLocked(winner int) {
	s.cancelTimersLocked()
	s.Phase = PhaseFinished
	s.Winner = winner
	logrus.Infof("room %s: finished, totals %d-%d, winner side %d", s.ID, s.Totals[0], s.Totals[1], winner)
	s.fireEvent(Event{Type: EventGameEnd, Payload: map[string]interface{}{
		"reason":     "completed",
		"winnerSide": winner,
		"draw":       winner == DrawWinner,
		"totals":     []int{s.Totals[0], s.Totals[1]},
	}})
	if s.OnTerminal != nil {
		s.OnTerminal(s, false)
	}
}

// cancelTimersLocked invalidates every pending deferred action for this
// room. Assumes lock is held.
func (s *MatchSession) cancelTimersLocked() {
	s.resolveGen++
	if s.resolveTimer != nil {
		s.resolveTimer.Stop()
		s.resolveTimer = nil
	}
	for id, t := range s.graceTimers {
		s.graceGen[id]++
		t.Stop()
		delete(s.graceTimers, id)
	}
}

func (s *MatchSession) removeSeatLocked(seat int) {
	s.Players = append(s.Players[:seat], s.Players[seat+1:]...)
	for i, p := range s.Players {
		p.Seat = i
	}
	s.fireEvent(Event{Type: EventRoomUpdate, Payload: map[string]interface{}{
		"seated":   len(s.Players),
		"required": s.Mode.PlayerCount(),
	}})
}

func (s *MatchSession) playerByIDLocked(id uuid.UUID) *models.Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *MatchSession) handsEmptyLocked() bool {
	for _, p := range s.Players {
		if len(p.Hand) > 0 {
			return false
		}
	}
	return s.deckRemainingLocked() == 0
}

func (s *MatchSession) deckRemainingLocked() int {
	n := len(s.Deck)
	if s.Trump != nil {
		n++
	}
	return n
}

// syncAllLocked pushes a private obfuscated state to every seat. Assumes
// lock is held.
func (s *MatchSession) syncAllLocked() {
	if s.BroadcastToPlayerFn == nil {
		return
	}
	for _, p := range s.Players {
		if !p.Connected {
			continue
		}
		snap := s.snapshotForLocked(p.Seat)
		s.BroadcastToPlayerFn(p.ID, Event{Type: EventSyncState, State: &snap})
	}
}

// fireEvent delivers an event to all participants. Assumes lock is held.
func (s *MatchSession) fireEvent(ev Event) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(ev)
	}
}

// notifyStateChangedLocked hands a consistent snapshot to the state
// observer without holding it up on the session lock. Assumes lock is held.
func (s *MatchSession) notifyStateChangedLocked() {
	if s.OnStateChanged == nil {
		return
	}
	snap := s.snapshotLocked()
	go s.OnStateChanged(snap)
}
