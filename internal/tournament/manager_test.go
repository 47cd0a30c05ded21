// internal/tournament/manager_test.go
package tournament

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartasi/internal/models"
)

func newTestManager(t *testing.T, names ...string) (*Manager, []models.User) {
	t.Helper()
	m := NewManager()
	m.CreateSession = func(*Match) (uuid.UUID, error) {
		return uuid.New(), nil
	}
	users := make([]models.User, len(names))
	for i, n := range names {
		users[i] = models.User{ID: uuid.New(), Username: n}
		require.NoError(t, m.Register(users[i]))
	}
	return m, users
}

func pendingMatchOf(t *testing.T, m *Manager, playerID uuid.UUID) MatchView {
	t.Helper()
	view := m.View()
	for _, round := range view.Rounds {
		for _, mv := range round {
			if mv.Status != StatusPending {
				continue
			}
			if (mv.SeatA != nil && mv.SeatA.ID == playerID) || (mv.SeatB != nil && mv.SeatB.ID == playerID) {
				return mv
			}
		}
	}
	t.Fatalf("no pending match for %s", playerID)
	return MatchView{}
}

func TestRegistrationRules(t *testing.T) {
	m, users := newTestManager(t, "ana")
	assert.ErrorIs(t, m.Register(users[0]), ErrAlreadyRegistered)
	assert.ErrorIs(t, m.Start(), ErrTooFewPlayers)

	require.NoError(t, m.Register(models.User{ID: uuid.New(), Username: "bruno"}))
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrAlreadyStarted)
	assert.ErrorIs(t, m.Register(models.User{ID: uuid.New(), Username: "late"}), ErrAlreadyStarted)
}

func TestReadyHandshake(t *testing.T) {
	m, users := newTestManager(t, "ana", "bruno")
	require.NoError(t, m.Start())

	mv := pendingMatchOf(t, m, users[0].ID)

	_, _, _, err := m.Ready(mv.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotInMatch)

	count, required, roomID, err := m.Ready(mv.ID, users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, required)
	assert.Equal(t, uuid.Nil, roomID, "one ready seat does not start the match")

	count, _, roomID, err = m.Ready(mv.ID, users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NotEqual(t, uuid.Nil, roomID, "both ready creates the session")

	got, ok := m.MatchBySession(roomID)
	require.True(t, ok)
	assert.Equal(t, StatusPlaying, got.Status)

	_, _, _, err = m.Ready(mv.ID, users[0].ID)
	assert.ErrorIs(t, err, ErrMatchNotPending)
}

func TestDuplicateReadyStartsOneSession(t *testing.T) {
	m, users := newTestManager(t, "ana", "bruno")

	creates := 0
	started := make(chan struct{})
	release := make(chan struct{})
	m.CreateSession = func(*Match) (uuid.UUID, error) {
		creates++
		close(started)
		<-release
		return uuid.New(), nil
	}
	require.NoError(t, m.Start())

	mv := pendingMatchOf(t, m, users[0].ID)
	_, _, _, err := m.Ready(mv.ID, users[0].ID)
	require.NoError(t, err)

	done := make(chan uuid.UUID, 1)
	go func() {
		_, _, roomID, err := m.Ready(mv.ID, users[1].ID)
		assert.NoError(t, err)
		done <- roomID
	}()

	// While the factory is still building the first room, a ready echo
	// must not start a second one for the same pairing.
	<-started
	_, _, dupRoom, err := m.Ready(mv.ID, users[1].ID)
	assert.ErrorIs(t, err, ErrMatchNotPending)
	assert.Equal(t, uuid.Nil, dupRoom)

	close(release)
	roomID := <-done
	require.NotEqual(t, uuid.Nil, roomID)
	assert.Equal(t, 1, creates)
}

func TestCreateFailureReturnsMatchToPending(t *testing.T) {
	m, users := newTestManager(t, "ana", "bruno")

	fail := true
	m.CreateSession = func(*Match) (uuid.UUID, error) {
		if fail {
			return uuid.Nil, errors.New("factory down")
		}
		return uuid.New(), nil
	}
	require.NoError(t, m.Start())

	mv := pendingMatchOf(t, m, users[0].ID)
	_, _, _, err := m.Ready(mv.ID, users[0].ID)
	require.NoError(t, err)
	_, _, _, err = m.Ready(mv.ID, users[1].ID)
	require.Error(t, err)

	// The pairing rolled back to pending; the next ready retries the start.
	again := pendingMatchOf(t, m, users[0].ID)
	assert.Equal(t, mv.ID, again.ID)

	fail = false
	_, _, roomID, err := m.Ready(mv.ID, users[1].ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, roomID)
}

func TestResultPropagation(t *testing.T) {
	m, _ := newTestManager(t, "ana", "bruno", "carla", "davor")
	require.NoError(t, m.Start())

	view := m.View()
	require.Len(t, view.Rounds, 2)

	// Finish both first-round matches.
	for _, mv := range view.Rounds[0] {
		require.NoError(t, m.ReportResult(mv.ID, mv.SeatA.ID))
	}

	view = m.View()
	final := view.Rounds[1][0]
	assert.Equal(t, StatusPending, final.Status)
	require.NotNil(t, final.SeatA)
	require.NotNil(t, final.SeatB)

	require.NoError(t, m.ReportResult(final.ID, final.SeatB.ID))
	view = m.View()
	assert.True(t, view.Finished)
	require.NotNil(t, view.Champion)

	// Duplicate reports are idempotent.
	require.NoError(t, m.ReportResult(final.ID, final.SeatB.ID))
}

func TestDeadlineForfeitsToReadySeat(t *testing.T) {
	m, users := newTestManager(t, "ana", "bruno")
	m.ReadyDeadline = 30 * time.Millisecond
	require.NoError(t, m.Start())

	mv := pendingMatchOf(t, m, users[0].ID)
	readyID := mv.SeatB.ID
	_, _, _, err := m.Ready(mv.ID, readyID)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	view := m.View()
	assert.True(t, view.Finished)
	require.NotNil(t, view.Champion)
	assert.Equal(t, readyID, view.Champion.ID, "the seat that showed up advances")
}

func TestDeadlineWithNobodyReady(t *testing.T) {
	m, users := newTestManager(t, "ana", "bruno")
	m.ReadyDeadline = 30 * time.Millisecond
	require.NoError(t, m.Start())

	mv := pendingMatchOf(t, m, users[0].ID)
	seatA := mv.SeatA.ID

	time.Sleep(100 * time.Millisecond)

	view := m.View()
	require.NotNil(t, view.Champion)
	assert.Equal(t, seatA, view.Champion.ID)
}

func TestSessionAbortedRestartsHandshake(t *testing.T) {
	m, users := newTestManager(t, "ana", "bruno")
	require.NoError(t, m.Start())

	mv := pendingMatchOf(t, m, users[0].ID)
	_, _, _, err := m.Ready(mv.ID, users[0].ID)
	require.NoError(t, err)
	_, _, roomID, err := m.Ready(mv.ID, users[1].ID)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, roomID)

	m.SessionAborted(mv.ID)

	again := pendingMatchOf(t, m, users[0].ID)
	assert.Equal(t, mv.ID, again.ID, "the same pairing goes back to pending")
	got, ok := m.MatchBySession(roomID)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestOnUpdateFires(t *testing.T) {
	m, _ := newTestManager(t, "ana", "bruno")
	updates := 0
	m.OnUpdate = func() { updates++ }
	require.NoError(t, m.Start())
	assert.Equal(t, 1, updates)
}
