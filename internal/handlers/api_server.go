// internal/handlers/api_server.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kartasi/internal/cache"
	"kartasi/internal/database"
	"kartasi/internal/events"
	"kartasi/internal/game"
	"kartasi/internal/matchmaking"
	"kartasi/internal/models"
	"kartasi/internal/tournament"
)

// Server ties the transport to the domain: it owns the connection
// registry, injects broadcast closures into sessions, and wires the
// registry's lifecycle hooks to persistence, result publishing and the
// tournament bracket.
type Server struct {
	Log *logrus.Logger

	Store      *game.SessionStore
	Queue      *matchmaking.Queue
	Tournament *tournament.Manager
	Reconnect  *game.ReconnectManager
	Events     *events.Publisher

	// ResolveDelay and GracePeriod are applied to every session this
	// server creates.
	ResolveDelay time.Duration
	GracePeriod  time.Duration

	// TournamentVariant is the rule family tournament matches run under.
	TournamentVariant game.Variant

	mu             sync.Mutex
	clients        map[uuid.UUID]*Client
	audiences      map[uuid.UUID]map[uuid.UUID]bool // roomID -> audience
	tournamentDone bool
}

// NewServer builds a fully wired server: session registry, reconnect
// manager, matchmaking queue and tournament manager, with all their
// cross-cutting hooks connected.
func NewServer(log *logrus.Logger, pub *events.Publisher) *Server {
	s := &Server{
		Log:               log,
		Store:             game.NewSessionStore(),
		Queue:             matchmaking.NewQueue(),
		Tournament:        tournament.NewManager(),
		Events:            pub,
		ResolveDelay:      2 * time.Second,
		GracePeriod:       60 * time.Second,
		TournamentVariant: game.VariantBriskula,
		clients:           make(map[uuid.UUID]*Client),
		audiences:         make(map[uuid.UUID]map[uuid.UUID]bool),
	}
	s.Reconnect = game.NewReconnectManager(s.Store)

	s.Store.OnTerminal = s.handleSessionTerminal
	s.Store.OnDestroyed = s.handleSessionDestroyed
	s.Queue.OnMatched = s.handleMatched
	s.Tournament.CreateSession = s.createTournamentSession
	s.Tournament.OnUpdate = s.broadcastBracket
	return s
}

// attachSession injects the broadcast closures. They touch only the
// server's own lock and the clients' buffered channels, so sessions may
// invoke them while holding their lock.
func (s *Server) attachSession(sess *game.MatchSession) {
	roomID := sess.ID
	sess.BroadcastFn = func(ev game.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.Log.Errorf("marshal event for room %s: %v", roomID, err)
			return
		}
		s.broadcastRoom(roomID, payload)
	}
	sess.BroadcastToPlayerFn = func(playerID uuid.UUID, ev game.Event) {
		s.sendJSON(playerID, ev)
	}
	sess.OnStateChanged = s.handleSessionChanged
}

// handleSessionChanged persists the latest snapshot of a progressing
// session, so a crashed process can revive its live rooms on reconnect.
// Best effort; a missing cache only disables recovery.
func (s *Server) handleSessionChanged(snap game.SessionSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache.SaveSnapshot(ctx, snap)
}

// createSession builds and registers a session with the server's timing
// policy, broadcast wiring included.
func (s *Server) createSession(variant game.Variant, mode game.Mode, cfg game.SessionConfig) *game.MatchSession {
	cfg.ResolveDelay = s.ResolveDelay
	cfg.GracePeriod = s.GracePeriod
	sess := s.Store.Create(variant, mode, cfg)
	s.attachSession(sess)
	return sess
}

// handleMatched seats a freshly cut matchmaking group into a new session.
// Matchmade trešeta rooms play with melds enabled (target 41).
func (s *Server) handleMatched(pool matchmaking.Pool, players []models.User) {
	sess := s.createSession(pool.Variant, pool.Mode, game.SessionConfig{
		MeldsEnabled: pool.Variant == game.VariantTreseta,
	})
	for _, u := range players {
		s.joinRoomAudience(sess.ID, u.ID)
		s.sendJSON(u.ID, map[string]interface{}{
			"type":    "match_found",
			"roomId":  sess.ID,
			"variant": pool.Variant,
			"mode":    pool.Mode,
		})
	}
	for _, u := range players {
		if _, err := sess.Join(u); err != nil {
			s.Log.Errorf("matchmaking: failed to seat %s in room %s: %v", u.ID, sess.ID, err)
		}
	}
}

// createTournamentSession backs a both-ready bracket match with a live
// 1v1 session. Briskula tournament matches run with the last-trick
// tiebreak so a deal cannot end drawn.
func (s *Server) createTournamentSession(m *tournament.Match) (uuid.UUID, error) {
	sess := s.createSession(s.TournamentVariant, game.ModeOneVsOne, game.SessionConfig{
		MeldsEnabled:      s.TournamentVariant == game.VariantTreseta,
		LastTrickTiebreak: s.TournamentVariant == game.VariantBriskula,
	})
	seats := []*tournament.Participant{m.SeatA, m.SeatB}
	for _, p := range seats {
		s.joinRoomAudience(sess.ID, p.ID)
		s.sendJSON(p.ID, map[string]interface{}{
			"type":    "tournament_match_started",
			"matchId": m.ID,
			"roomId":  sess.ID,
		})
	}
	for _, p := range seats {
		if _, err := sess.Join(models.User{ID: p.ID, Username: p.Username}); err != nil {
			s.Log.Errorf("tournament: failed to seat %s in room %s: %v", p.ID, sess.ID, err)
		}
	}
	return sess.ID, nil
}

// handleSessionTerminal persists the final snapshot, records history,
// publishes the result and feeds the tournament bracket. Runs outside
// the session lock.
func (s *Server) handleSessionTerminal(sess *game.MatchSession) {
	snap := sess.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache.SaveSnapshot(ctx, snap)

	ids := make([]uuid.UUID, 0, len(snap.Players))
	for _, p := range snap.Players {
		ids = append(ids, p.ID)
	}
	interrupted := snap.Phase == game.PhaseInterrupted
	database.InsertMatchRecord(ctx, database.MatchRecord{
		RoomID:      snap.RoomID,
		Variant:     string(snap.Variant),
		Mode:        string(snap.Mode),
		Players:     ids,
		WinnerSide:  snap.Winner,
		Totals:      []int{snap.Totals[0], snap.Totals[1]},
		Interrupted: interrupted,
		FinishedAt:  snap.LastUpdated,
	})
	s.Events.PublishMatchResult(events.MatchResult{
		RoomID:      snap.RoomID,
		Variant:     string(snap.Variant),
		Mode:        string(snap.Mode),
		Players:     ids,
		WinnerSide:  snap.Winner,
		Totals:      []int{snap.Totals[0], snap.Totals[1]},
		Interrupted: interrupted,
		FinishedAt:  snap.LastUpdated,
	})

	s.reportToTournament(snap)
}

// reportToTournament propagates a terminal session into the bracket. A
// drawn session produces no winner, so the pairing's handshake restarts
// for a rematch.
func (s *Server) reportToTournament(snap game.SessionSnapshot) {
	m, ok := s.Tournament.MatchBySession(snap.RoomID)
	if !ok {
		return
	}
	if snap.Winner == game.DrawWinner {
		s.Log.Infof("tournament: room %s ended drawn, rematch for %s", snap.RoomID, m.ID)
		s.Tournament.SessionAborted(m.ID)
		return
	}
	var winnerID uuid.UUID
	for _, p := range snap.Players {
		if game.TeamOf(p.Seat, snap.Mode) == snap.Winner {
			winnerID = p.ID
			break
		}
	}
	if err := s.Tournament.ReportResult(m.ID, winnerID); err != nil {
		s.Log.Errorf("tournament: failed to report result for %s: %v", m.ID, err)
		return
	}
	s.publishChampionOnce()
}

// publishChampionOnce emits the tournament-finished event exactly once.
func (s *Server) publishChampionOnce() {
	view := s.Tournament.View()
	if !view.Finished || view.Champion == nil {
		return
	}
	s.mu.Lock()
	done := s.tournamentDone
	s.tournamentDone = true
	s.mu.Unlock()
	if done {
		return
	}
	s.Events.PublishTournamentResult(events.TournamentResult{
		Champion:   view.Champion.ID,
		Username:   view.Champion.Username,
		FinishedAt: time.Now(),
	})
}

// handleSessionDestroyed carves the tombstone, evicts the cached
// snapshot and tells the audience the room is gone.
func (s *Server) handleSessionDestroyed(sess *game.MatchSession) {
	s.Reconnect.NoteDestroyed(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache.DeleteSnapshot(ctx, sess.ID)

	payload, err := json.Marshal(map[string]interface{}{
		"type":   "room_closed",
		"roomId": sess.ID,
	})
	if err == nil {
		s.broadcastRoom(sess.ID, payload)
	}
	s.dropRoomAudience(sess.ID)
}

// broadcastBracket pushes the current bracket to every connected client.
func (s *Server) broadcastBracket() {
	s.broadcastAll(map[string]interface{}{
		"type":    "bracket_update",
		"bracket": s.Tournament.View(),
	})
}

// StatusHandler reports server liveness for dashboards: connected
// identities, live rooms, matchmaking depths and tournament state.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	connected := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		connected = append(connected, c.Username)
	}
	s.mu.Unlock()

	view := s.Tournament.View()
	status := map[string]interface{}{
		"connected":  connected,
		"liveRooms":  s.Store.Count(),
		"queues":     s.Queue.Depths(),
		"tournament": map[string]interface{}{"started": view.Started, "registered": view.Registered, "finished": view.Finished},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.Log.Errorf("status: encode response: %v", err)
	}
}
