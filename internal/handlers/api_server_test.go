// internal/handlers/api_server_test.go
package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartasi/internal/events"
	"kartasi/internal/game"
	"kartasi/internal/matchmaking"
	"kartasi/internal/models"
)

func newTestServer() *Server {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	s := NewServer(log, &events.Publisher{})
	s.ResolveDelay = 0
	s.GracePeriod = time.Minute
	return s
}

func TestStatusHandler(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.StatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["liveRooms"])
	assert.NotNil(t, body["connected"])
}

func TestMatchmakingCreatesSession(t *testing.T) {
	s := newTestServer()
	pool := matchmaking.Pool{Mode: game.ModeOneVsOne, Variant: game.VariantBriskula}

	ana := models.User{ID: uuid.New(), Username: "ana"}
	bruno := models.User{ID: uuid.New(), Username: "bruno"}
	s.Queue.Enqueue(ana, pool)
	s.Queue.Enqueue(bruno, pool)

	require.Equal(t, 1, s.Store.Count(), "a full pool cut becomes one room")

	rooms := s.roomsOf(ana.ID)
	require.Len(t, rooms, 1)
	sess, ok := s.Store.Get(rooms[0])
	require.True(t, ok)

	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	assert.Equal(t, game.PhasePlaying, sess.Phase, "matchmade rooms start as soon as both seats fill")
	require.Len(t, sess.Players, 2)
	assert.Equal(t, ana.ID, sess.Players[0].ID, "FIFO order decides seating")
	assert.NotNil(t, sess.OnStateChanged, "live rooms are persisted as they progress")
}

func TestTournamentFlowEndToEnd(t *testing.T) {
	s := newTestServer()

	ana := models.User{ID: uuid.New(), Username: "ana"}
	bruno := models.User{ID: uuid.New(), Username: "bruno"}
	require.NoError(t, s.Tournament.Register(ana))
	require.NoError(t, s.Tournament.Register(bruno))
	require.NoError(t, s.Tournament.Start())

	view := s.Tournament.View()
	require.Len(t, view.Rounds, 1)
	matchID := view.Rounds[0][0].ID

	_, _, _, err := s.Tournament.Ready(matchID, ana.ID)
	require.NoError(t, err)
	_, _, roomID, err := s.Tournament.Ready(matchID, bruno.ID)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, roomID)

	sess, ok := s.Store.Get(roomID)
	require.True(t, ok, "both-ready backs the match with a live room")

	// Abandonment forfeits the session; the result flows into the bracket.
	require.NoError(t, sess.LeavePermanently(ana.ID))
	time.Sleep(100 * time.Millisecond) // terminal hook runs on its own goroutine

	view = s.Tournament.View()
	assert.True(t, view.Finished)
	require.NotNil(t, view.Champion)
	assert.Equal(t, bruno.ID, view.Champion.ID)

	_, ok = s.Store.Get(roomID)
	assert.False(t, ok, "abandoned tournament rooms are torn down immediately")
}

func TestErrCodes(t *testing.T) {
	assert.Equal(t, "not_your_turn", errCode(game.ErrNotYourTurn))
	assert.Equal(t, "illegal_follow", errCode(game.ErrIllegalFollow))
	assert.Equal(t, "permanently_left", errCode(game.ErrPermanentlyLeft))
	assert.Equal(t, "room_deleted", errCode(game.ErrRoomDeleted))
	assert.Equal(t, "bad_request", errCode(assert.AnError))
}
