// internal/game/session_test.go
package game

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartasi/internal/models"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []Event
	playerEvents map[uuid.UUID][]Event
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{playerEvents: make(map[uuid.UUID][]Event)}
}

func (mb *mockBroadcaster) broadcastFn(ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], ev)
}

func (mb *mockBroadcaster) lastOfType(t EventType) *Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i := len(mb.allEvents) - 1; i >= 0; i-- {
		if mb.allEvents[i].Type == t {
			ev := mb.allEvents[i]
			return &ev
		}
	}
	return nil
}

func (mb *mockBroadcaster) countOfType(t EventType) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, ev := range mb.allEvents {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// newTestSession seats two players into a fresh 1v1 session, which deals
// and starts it.
func newTestSession(t *testing.T, variant Variant, cfg SessionConfig) (*MatchSession, []models.User, *mockBroadcaster) {
	t.Helper()
	s := NewMatchSession(variant, ModeOneVsOne, cfg)
	mb := newMockBroadcaster()
	s.BroadcastFn = mb.broadcastFn
	s.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	users := []models.User{
		{ID: uuid.New(), Username: "ana", IsEphemeral: true},
		{ID: uuid.New(), Username: "bruno", IsEphemeral: true},
	}
	for i, u := range users {
		seat, err := s.Join(u)
		require.NoError(t, err)
		require.Equal(t, i, seat)
	}
	return s, users, mb
}

// rigDeal overwrites the dealt state with a deterministic position.
func rigDeal(s *MatchSession, trump string, deck []models.Card, hands ...[]models.Card) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if br, ok := s.Rules.(*BriskulaRules); ok {
		br.TrumpSuit = trump
	}
	s.Trump = nil
	s.Deck = deck
	for i, h := range hands {
		s.Players[i].Hand = append([]models.Card(nil), h...)
	}
	s.CurrentSeat = 0
	s.Round = nil
}

func TestJoinStartsWhenFull(t *testing.T) {
	s, _, mb := newTestSession(t, VariantBriskula, SessionConfig{})

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Equal(t, 1, s.DealNumber)
	assert.Equal(t, 0, s.CurrentSeat, "first deal's lead is seat 0")
	for _, p := range s.Players {
		assert.Len(t, p.Hand, 3)
	}
	require.NotNil(t, s.Trump, "briskula exposes a face-up trump")
	assert.Len(t, s.Deck, 40-2*3-1)
	assert.NotNil(t, mb.lastOfType(EventGameStart))
}

func TestJoinIdempotentAndFull(t *testing.T) {
	s, users, _ := newTestSession(t, VariantBriskula, SessionConfig{})

	seat, err := s.Join(users[1])
	require.NoError(t, err, "rejoining an already-held seat is idempotent")
	assert.Equal(t, 1, seat)

	_, err = s.Join(models.User{ID: uuid.New(), Username: "carla"})
	assert.ErrorIs(t, err, ErrNotPlaying, "a started session accepts no new seats")
}

func TestPlayCardValidation(t *testing.T) {
	s, users, _ := newTestSession(t, VariantBriskula, SessionConfig{})
	rigDeal(s, SuitDinari, nil,
		[]models.Card{card(SuitKupe, 1), card(SuitBati, 2)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 5)},
	)

	err := s.PlayCard(users[1].ID, card(SuitKupe, 4))
	assert.ErrorIs(t, err, ErrNotYourTurn)

	err = s.PlayCard(users[0].ID, card(SuitSpadi, 7))
	assert.ErrorIs(t, err, ErrCardNotInHand)

	err = s.PlayCard(uuid.New(), card(SuitKupe, 1))
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 1)))
}

func TestRoundResolutionMovesCards(t *testing.T) {
	s, users, mb := newTestSession(t, VariantBriskula, SessionConfig{})
	rigDeal(s, SuitDinari, nil,
		[]models.Card{card(SuitKupe, 1), card(SuitBati, 2)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 5)},
	)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 1)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Len(t, s.Won[0], 2, "both cards go to the winning side's pile")
	assert.Empty(t, s.Won[1])
	assert.Equal(t, 0, s.CurrentSeat, "round winner leads the next round")
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Equal(t, 1, s.RoundsDone)

	ev := mb.lastOfType(EventRoundFinished)
	require.NotNil(t, ev)
	assert.Equal(t, 0, ev.Payload["winnerSeat"])
}

func TestResolveDelayBlocksPlays(t *testing.T) {
	s, users, _ := newTestSession(t, VariantBriskula, SessionConfig{ResolveDelay: 50 * time.Millisecond})
	rigDeal(s, SuitDinari, nil,
		[]models.Card{card(SuitKupe, 1), card(SuitBati, 2)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 5)},
	)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 1)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))

	s.Mu.Lock()
	assert.Equal(t, PhaseResolving, s.Phase)
	s.Mu.Unlock()

	err := s.PlayCard(users[0].ID, card(SuitBati, 2))
	assert.ErrorIs(t, err, ErrRoundInProgress)

	time.Sleep(120 * time.Millisecond)
	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Len(t, s.Won[0], 2)
}

func TestBriskulaDrawOrderAfterTrick(t *testing.T) {
	s, users, _ := newTestSession(t, VariantBriskula, SessionConfig{})
	trump := card(SuitDinari, 2)
	rigDeal(s, SuitDinari, []models.Card{card(SuitSpadi, 6)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 2)},
		[]models.Card{card(SuitKupe, 1), card(SuitBati, 5)},
	)
	s.Mu.Lock()
	s.Trump = &trump
	s.Mu.Unlock()

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 4)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 1)))

	s.Mu.Lock()
	defer s.Mu.Unlock()
	// Seat 1 won and draws the face-down card first; seat 0 takes the
	// face-up trump as the deck's last card.
	assert.True(t, s.Players[1].HoldsCard(card(SuitSpadi, 6)))
	assert.True(t, s.Players[0].HoldsCard(trump))
	assert.Nil(t, s.Trump)
	assert.Empty(t, s.Deck)
}

func TestBriskulaFullMatch(t *testing.T) {
	s, _, mb := newTestSession(t, VariantBriskula, SessionConfig{})

	// Play the natural random deal to the end: every seat always throws
	// its first card, which is legal in briskula.
	for i := 0; i < 100; i++ {
		s.Mu.Lock()
		if s.Phase != PhasePlaying {
			s.Mu.Unlock()
			break
		}
		playerID := s.Players[s.CurrentSeat].ID
		c := s.Players[s.CurrentSeat].Hand[0]
		s.Mu.Unlock()
		require.NoError(t, s.PlayCard(playerID, c))
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()
	require.Equal(t, PhaseFinished, s.Phase, "a briskula match is a single deal")
	assert.Equal(t, BriskulaDeckPoints, s.Totals[0]+s.Totals[1])
	switch {
	case s.Totals[0] > s.Totals[1]:
		assert.Equal(t, 0, s.Winner)
	case s.Totals[1] > s.Totals[0]:
		assert.Equal(t, 1, s.Winner)
	default:
		assert.Equal(t, DrawWinner, s.Winner)
	}
	assert.NotNil(t, mb.lastOfType(EventGameEnd))
}

func TestTresetaFollowEnforcedInSession(t *testing.T) {
	s, users, _ := newTestSession(t, VariantTreseta, SessionConfig{})
	rigDeal(s, "", nil,
		[]models.Card{card(SuitKupe, 7), card(SuitBati, 4)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 1)},
	)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 7)))

	err := s.PlayCard(users[1].ID, card(SuitBati, 1))
	assert.ErrorIs(t, err, ErrIllegalFollow)

	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))
	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Len(t, s.Won[0], 2, "7 beats 4 within the lead suit")
}

func TestDeclareMeldWindow(t *testing.T) {
	s, users, mb := newTestSession(t, VariantTreseta, SessionConfig{MeldsEnabled: true})
	rigDeal(s, "", nil,
		[]models.Card{card(SuitKupe, 1), card(SuitBati, 1), card(SuitSpadi, 1), card(SuitKupe, 7)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 5), card(SuitSpadi, 6), card(SuitDinari, 7)},
	)

	points, err := s.DeclareMeld(users[0].ID, MeldThreeAces)
	require.NoError(t, err)
	assert.Equal(t, 3, points)
	assert.NotNil(t, mb.lastOfType(EventMeldAnnounced))

	_, err = s.DeclareMeld(users[0].ID, MeldThreeAces)
	assert.ErrorIs(t, err, ErrAlreadyDeclared, "one declaration per side per deal")

	_, err = s.DeclareMeld(users[1].ID, MeldThreeTwos)
	assert.ErrorIs(t, err, ErrMeldNotHeld)

	// Close the first round; the window shuts.
	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 7)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))
	_, err = s.DeclareMeld(users[1].ID, MeldThreeTwos)
	assert.ErrorIs(t, err, ErrMeldTooLate)
}

func TestTresetaMultiDealProgression(t *testing.T) {
	s, users, mb := newTestSession(t, VariantTreseta, SessionConfig{})
	rigDeal(s, "", nil,
		[]models.Card{card(SuitKupe, 3)},
		[]models.Card{card(SuitKupe, 4)},
	)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 3)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))

	s.Mu.Lock()
	assert.Equal(t, PhaseIntermission, s.Phase, "totals below target park the match")
	assert.Equal(t, 1, s.DealNumber)
	assert.Equal(t, [2]int{1, 0}, s.Totals, "last trick only; a lone trica is a dropped third")
	s.Mu.Unlock()

	ev := mb.lastOfType(EventDealFinished)
	require.NotNil(t, ev)
	assert.Equal(t, []int{1, 0}, ev.Payload["totals"])

	err := s.PlayCard(users[0].ID, card(SuitKupe, 3))
	assert.ErrorIs(t, err, ErrNotPlaying, "no plays during intermission")

	require.NoError(t, s.RedealReady(users[0].ID))
	s.Mu.Lock()
	assert.Equal(t, PhaseIntermission, s.Phase, "one confirmation is not enough")
	s.Mu.Unlock()

	assert.ErrorIs(t, s.RedealReady(uuid.New()), ErrPlayerNotFound)

	require.NoError(t, s.RedealReady(users[1].ID))
	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Equal(t, 2, s.DealNumber)
	assert.Equal(t, 1, s.CurrentSeat, "the lead rotates with the deal")
	assert.Equal(t, [2]int{1, 0}, s.Totals, "totals carry across deals")
	for _, p := range s.Players {
		assert.Len(t, p.Hand, 10)
		assert.False(t, p.RedealReady)
	}
}

func TestTresetaTargetEndsMatch(t *testing.T) {
	s, users, mb := newTestSession(t, VariantTreseta, SessionConfig{})

	assert.ErrorIs(t, s.RedealReady(users[0].ID), ErrNotPlaying)

	s.Mu.Lock()
	s.Totals = [2]int{30, 0}
	s.Mu.Unlock()
	rigDeal(s, "", nil,
		[]models.Card{card(SuitKupe, 5)},
		[]models.Card{card(SuitKupe, 4)},
	)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 5)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhaseFinished, s.Phase, "crossing the target ends the match")
	assert.Equal(t, [2]int{31, 0}, s.Totals)
	assert.Equal(t, 0, s.Winner)
	assert.NotNil(t, mb.lastOfType(EventGameEnd))
}

func TestTresetaTargetCrossedTiedIsDraw(t *testing.T) {
	s, users, _ := newTestSession(t, VariantTreseta, SessionConfig{})

	s.Mu.Lock()
	s.Totals = [2]int{30, 31}
	s.Mu.Unlock()
	rigDeal(s, "", nil,
		[]models.Card{card(SuitKupe, 5)},
		[]models.Card{card(SuitKupe, 4)},
	)

	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 5)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhaseFinished, s.Phase)
	assert.Equal(t, [2]int{31, 31}, s.Totals)
	assert.Equal(t, DrawWinner, s.Winner, "both sides crossing level is a draw")
}

func TestStateChangedObservesProgress(t *testing.T) {
	s := NewMatchSession(VariantBriskula, ModeOneVsOne, SessionConfig{})
	snaps := make(chan SessionSnapshot, 8)
	s.OnStateChanged = func(snap SessionSnapshot) { snaps <- snap }

	users := []models.User{
		{ID: uuid.New(), Username: "ana"},
		{ID: uuid.New(), Username: "bruno"},
	}
	for _, u := range users {
		_, err := s.Join(u)
		require.NoError(t, err)
	}

	recv := func() SessionSnapshot {
		t.Helper()
		select {
		case snap := <-snaps:
			return snap
		case <-time.After(time.Second):
			t.Fatal("no snapshot observed")
			return SessionSnapshot{}
		}
	}

	rigDeal(s, SuitDinari, nil,
		[]models.Card{card(SuitKupe, 1), card(SuitBati, 2)},
		[]models.Card{card(SuitKupe, 4), card(SuitBati, 5)},
	)
	require.NoError(t, s.PlayCard(users[0].ID, card(SuitKupe, 1)))
	require.NoError(t, s.PlayCard(users[1].ID, card(SuitKupe, 4)))

	// One snapshot for the opening deal, one for the resolved round. The
	// observer runs detached, so order is asserted by content.
	byRounds := map[int]SessionSnapshot{}
	for i := 0; i < 2; i++ {
		snap := recv()
		byRounds[snap.RoundsDone] = snap
	}

	opening, ok := byRounds[0]
	require.True(t, ok, "the opening deal is persisted as soon as it starts")
	assert.Equal(t, s.ID, opening.RoomID)
	assert.Equal(t, PhasePlaying, opening.Phase)
	assert.Equal(t, 1, opening.DealNumber)

	resolved, ok := byRounds[1]
	require.True(t, ok, "each resolved round is persisted")
	assert.Equal(t, PhasePlaying, resolved.Phase)
	assert.Len(t, resolved.Won[0], 2, "the snapshot carries the round's outcome")
}

func TestDeclareMeldWrongVariant(t *testing.T) {
	s, users, _ := newTestSession(t, VariantBriskula, SessionConfig{})
	_, err := s.DeclareMeld(users[0].ID, MeldThreeAces)
	assert.ErrorIs(t, err, ErrWrongVariant)

	s2, users2, _ := newTestSession(t, VariantTreseta, SessionConfig{})
	_, err = s2.DeclareMeld(users2[0].ID, MeldThreeAces)
	assert.ErrorIs(t, err, ErrWrongVariant, "melds disabled means no declarations")
}

func TestGraceExpiryForfeitsMatch(t *testing.T) {
	s, users, mb := newTestSession(t, VariantBriskula, SessionConfig{GracePeriod: 40 * time.Millisecond})

	s.HandleDisconnect(users[1].ID)
	ev := mb.lastOfType(EventPlayerLeft)
	require.NotNil(t, ev)
	assert.Equal(t, false, ev.Payload["permanent"])

	time.Sleep(120 * time.Millisecond)

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhaseInterrupted, s.Phase)
	assert.Equal(t, 0, s.Winner, "the remaining side wins by forfeit")
}

func TestReconnectWithinGrace(t *testing.T) {
	s, users, mb := newTestSession(t, VariantBriskula, SessionConfig{GracePeriod: 60 * time.Millisecond})

	s.Mu.Lock()
	expectedHand := append([]models.Card(nil), s.Players[1].Hand...)
	s.Mu.Unlock()

	s.HandleDisconnect(users[1].ID)
	snap, err := s.HandleReconnect(users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.YourSeat)
	assert.Equal(t, expectedHand, snap.Hand, "the seat resumes with its exact hand")

	// The grace timer must be dead: the session survives well past it.
	time.Sleep(150 * time.Millisecond)
	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.NotNil(t, mb.lastOfType(EventPlayerReconnected))
}

func TestLeavePermanently(t *testing.T) {
	s, users, _ := newTestSession(t, VariantBriskula, SessionConfig{GracePeriod: time.Minute})

	terminal := make(chan bool, 1)
	s.Mu.Lock()
	s.OnTerminal = func(_ *MatchSession, immediate bool) { terminal <- immediate }
	s.Mu.Unlock()

	require.NoError(t, s.LeavePermanently(users[0].ID))

	s.Mu.Lock()
	assert.Equal(t, PhaseInterrupted, s.Phase)
	assert.Equal(t, 1, s.Winner)
	s.Mu.Unlock()

	select {
	case immediate := <-terminal:
		assert.True(t, immediate, "permanent abandonment tears the room down right away")
	default:
		t.Fatal("terminal hook did not fire")
	}

	_, err := s.HandleReconnect(users[0].ID)
	assert.ErrorIs(t, err, ErrPermanentlyLeft)
}

func TestWaitingRoomDisconnectFreesSeat(t *testing.T) {
	s := NewMatchSession(VariantBriskula, ModeOneVsOne, SessionConfig{Name: "stol"})
	ana := models.User{ID: uuid.New(), Username: "ana"}
	_, err := s.Join(ana)
	require.NoError(t, err)

	s.HandleDisconnect(ana.ID)

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.Empty(t, s.Players)
	assert.Equal(t, PhaseInterrupted, s.Phase, "an emptied waiting room terminates")
}

func TestSpectators(t *testing.T) {
	s, _, _ := newTestSession(t, VariantBriskula, SessionConfig{})
	ghost := models.User{ID: uuid.New(), Username: "duh"}

	snap := s.AddSpectator(ghost)
	assert.Equal(t, -1, snap.YourSeat)
	assert.Empty(t, snap.Hand, "spectators see no hand")
	assert.Len(t, snap.HandSizes, 2)

	aud := s.Audience()
	assert.Len(t, aud, 3)
	assert.Contains(t, aud, ghost.ID)

	s.RemoveSpectator(ghost.ID)
	assert.Len(t, s.Audience(), 2)
}

func TestTeamOf(t *testing.T) {
	assert.Equal(t, 0, TeamOf(0, ModeOneVsOne))
	assert.Equal(t, 1, TeamOf(1, ModeOneVsOne))
	assert.Equal(t, 0, TeamOf(0, ModeTwoVsTwo))
	assert.Equal(t, 1, TeamOf(1, ModeTwoVsTwo))
	assert.Equal(t, 0, TeamOf(2, ModeTwoVsTwo))
	assert.Equal(t, 1, TeamOf(3, ModeTwoVsTwo))
}

func TestCheckPassword(t *testing.T) {
	s := NewMatchSession(VariantBriskula, ModeOneVsOne, SessionConfig{Name: "stol", Password: "tajna"})
	assert.ErrorIs(t, s.CheckPassword("kriva"), ErrWrongPassword)
	assert.NoError(t, s.CheckPassword("tajna"))

	open := NewMatchSession(VariantBriskula, ModeOneVsOne, SessionConfig{Name: "stol"})
	assert.NoError(t, open.CheckPassword(""))
	assert.NoError(t, open.CheckPassword("anything"))
}
