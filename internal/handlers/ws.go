// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"kartasi/internal/auth"
	"kartasi/internal/cache"
	"kartasi/internal/game"
	"kartasi/internal/matchmaking"
	"kartasi/internal/middleware"
	"kartasi/internal/models"
)

// ClientMessage is the envelope for every incoming WebSocket message.
// Fields beyond Type are populated per operation.
type ClientMessage struct {
	Type string `json:"type"`

	// register
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`

	// matchmaking / room creation
	Variant  string `json:"variant,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`

	// room operations
	RoomID string       `json:"roomId,omitempty"`
	Card   *models.Card `json:"card,omitempty"`
	Meld   string       `json:"meld,omitempty"`

	// tournament
	MatchID  string `json:"matchId,omitempty"`
	WinnerID string `json:"winnerId,omitempty"`
}

// WSHandler upgrades the connection and runs the register-first protocol:
// the first message must be a register (fresh username or resumable
// token); everything else is rejected until identity is established.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"kartasi"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			s.Log.Warnf("WebSocket accept error: %v", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "internal error during handler exit")

		if conn.Subprotocol() != "kartasi" {
			conn.Close(websocket.StatusCode(BadSubprotocolError), "client must use the 'kartasi' subprotocol")
			return
		}
		middleware.LogWebSocketConnect(s.Log, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		user, err := s.awaitRegister(ctx, conn)
		if err != nil {
			s.Log.Warnf("registration failed for %s: %v", r.RemoteAddr, err)
			conn.Close(websocket.StatusCode(InvalidAuthTokenError), "registration failed")
			return
		}

		client := newClient(user.ID, user.Username, conn, cancel)
		s.addClient(client)
		go client.writePump(ctx)

		readErr := s.readMessages(ctx, conn, client)
		middleware.LogWebSocketDisconnect(s.Log, r.RemoteAddr, readErr)

		// A superseded connection must not disturb the replacement's state.
		if s.removeClient(client) {
			s.dropFromRooms(user.ID)
		}
		client.close()
	}
}

// awaitRegister reads the first message and establishes identity. A token
// resumes an existing identity; a bare username mints a fresh ephemeral
// one. The registered reply carries the token for later resumption.
func (s *Server) awaitRegister(ctx context.Context, conn *websocket.Conn) (models.User, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return models.User{}, err
	}
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.User{}, err
	}
	if msg.Type != "register" {
		return models.User{}, errors.New("first message must be register")
	}

	var user models.User
	switch {
	case msg.Token != "":
		idStr, username, err := auth.VerifyToken(msg.Token)
		if err != nil {
			return models.User{}, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return models.User{}, err
		}
		user = models.User{ID: id, Username: username, IsEphemeral: true}
	case strings.TrimSpace(msg.Username) != "":
		id, _ := uuid.NewRandom()
		user = models.User{ID: id, Username: strings.TrimSpace(msg.Username), IsEphemeral: true}
	default:
		return models.User{}, errors.New("register requires a username or token")
	}

	token, err := auth.CreateToken(user.ID.String(), user.Username)
	if err != nil {
		return models.User{}, err
	}
	reply, err := json.Marshal(map[string]interface{}{
		"type":     "registered",
		"id":       user.ID,
		"username": user.Username,
		"token":    token,
	})
	if err != nil {
		return models.User{}, err
	}
	if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
		return models.User{}, err
	}
	s.Log.Infof("registered %s as %s", user.Username, user.ID)
	return user, nil
}

// readMessages is the per-connection read loop. Replies and broadcasts go
// through the client's outbound channel; the loop itself never writes.
func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, c *Client) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.replyError(c, "", errors.New("invalid JSON"))
			continue
		}
		s.route(c, msg)
	}
}

// route dispatches one client message to the matching operation.
func (s *Server) route(c *Client, msg ClientMessage) {
	user := models.User{ID: c.UserID, Username: c.Username, IsEphemeral: true}

	switch msg.Type {
	case "ping":
		s.sendJSON(c.UserID, map[string]string{"type": "pong"})

	case "find_match":
		pool, err := parsePool(msg)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		position, already := s.Queue.Enqueue(user, pool)
		s.sendJSON(c.UserID, map[string]interface{}{
			"type":           "queued",
			"position":       position,
			"alreadyWaiting": already,
		})

	case "cancel_match":
		canceled := s.Queue.Cancel(c.UserID)
		s.sendJSON(c.UserID, map[string]interface{}{"type": "queue_canceled", "wasQueued": canceled})

	case "create_game":
		s.handleCreateGame(c, user, msg)

	case "join_game":
		s.handleJoinGame(c, user, msg)

	case "delete_game":
		s.handleDeleteGame(c, msg)

	case "get_active_games":
		variant := game.Variant(msg.Variant)
		if variant != game.VariantBriskula && variant != game.VariantTreseta {
			s.replyError(c, msg.Type, errors.New("unknown variant"))
			return
		}
		s.sendJSON(c.UserID, map[string]interface{}{
			"type":  "active_games",
			"rooms": s.Store.ListJoinable(variant),
		})

	case "play_card":
		sess, err := s.sessionOf(msg.RoomID)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		if msg.Card == nil {
			s.replyError(c, msg.Type, errors.New("missing card"))
			return
		}
		if err := sess.PlayCard(c.UserID, *msg.Card); err != nil {
			s.replyError(c, msg.Type, err)
		}

	case "declare_meld":
		sess, err := s.sessionOf(msg.RoomID)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		points, err := sess.DeclareMeld(c.UserID, msg.Meld)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		s.sendJSON(c.UserID, map[string]interface{}{"type": "meld_accepted", "meld": msg.Meld, "points": points})

	case "redeal_ready":
		sess, err := s.sessionOf(msg.RoomID)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		if err := sess.RedealReady(c.UserID); err != nil {
			s.replyError(c, msg.Type, err)
		}

	case "leave_room":
		sess, err := s.sessionOf(msg.RoomID)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		sess.HandleDisconnect(c.UserID)
		s.sendJSON(c.UserID, map[string]interface{}{"type": "left_room", "roomId": sess.ID, "permanent": false})

	case "leave_room_permanently":
		sess, err := s.sessionOf(msg.RoomID)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		if err := sess.LeavePermanently(c.UserID); err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		s.leaveRoomAudience(sess.ID, c.UserID)
		s.sendJSON(c.UserID, map[string]interface{}{"type": "left_room", "roomId": sess.ID, "permanent": true})

	case "reconnect":
		s.handleReconnect(c, msg)

	case "spectate":
		s.handleSpectate(c, user, msg.RoomID)

	case "tournament_register":
		if err := s.Tournament.Register(user); err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		s.sendJSON(c.UserID, map[string]interface{}{"type": "tournament_registered"})

	case "tournament_start":
		if err := s.Tournament.Start(); err != nil {
			s.replyError(c, msg.Type, err)
		}

	case "get_tournament_bracket":
		s.sendJSON(c.UserID, map[string]interface{}{"type": "bracket_update", "bracket": s.Tournament.View()})

	case "tournament_ready":
		matchID, err := uuid.Parse(msg.MatchID)
		if err != nil {
			s.replyError(c, msg.Type, errors.New("invalid matchId"))
			return
		}
		count, required, roomID, err := s.Tournament.Ready(matchID, c.UserID)
		if err != nil {
			s.replyError(c, msg.Type, err)
			return
		}
		reply := map[string]interface{}{"type": "ready_status", "matchId": matchID, "ready": count, "required": required}
		if roomID != uuid.Nil {
			reply["roomId"] = roomID
		}
		s.sendJSON(c.UserID, reply)

	case "report_match_result":
		s.handleReportResult(c, msg)

	case "spectate_tournament_match":
		matchID, err := uuid.Parse(msg.MatchID)
		if err != nil {
			s.replyError(c, msg.Type, errors.New("invalid matchId"))
			return
		}
		roomID, ok := s.tournamentRoom(matchID)
		if !ok {
			s.replyError(c, msg.Type, errors.New("match has no live session"))
			return
		}
		s.handleSpectate(c, user, roomID.String())

	default:
		s.replyError(c, msg.Type, errors.New("unknown message type"))
	}
}

func (s *Server) handleCreateGame(c *Client, user models.User, msg ClientMessage) {
	variant := game.Variant(msg.Variant)
	if variant != game.VariantBriskula && variant != game.VariantTreseta {
		s.replyError(c, msg.Type, errors.New("unknown variant"))
		return
	}
	mode := game.Mode(msg.Mode)
	if mode != game.ModeOneVsOne && mode != game.ModeTwoVsTwo {
		s.replyError(c, msg.Type, errors.New("unknown mode"))
		return
	}
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		s.replyError(c, msg.Type, errors.New("room name required"))
		return
	}
	sess := s.createSession(variant, mode, game.SessionConfig{
		Name:         name,
		Password:     msg.Password,
		MeldsEnabled: variant == game.VariantTreseta,
	})
	s.joinRoomAudience(sess.ID, user.ID)
	seat, err := sess.Join(user)
	if err != nil {
		s.replyError(c, msg.Type, err)
		return
	}
	s.sendJSON(c.UserID, map[string]interface{}{"type": "game_created", "roomId": sess.ID, "seat": seat})
}

func (s *Server) handleJoinGame(c *Client, user models.User, msg ClientMessage) {
	sess, err := s.sessionOf(msg.RoomID)
	if err != nil {
		s.replyError(c, msg.Type, err)
		return
	}
	if err := sess.CheckPassword(msg.Password); err != nil {
		s.replyError(c, msg.Type, err)
		return
	}
	s.joinRoomAudience(sess.ID, user.ID)
	seat, err := sess.Join(user)
	if err != nil {
		s.leaveRoomAudience(sess.ID, user.ID)
		s.replyError(c, msg.Type, err)
		return
	}
	s.sendJSON(c.UserID, map[string]interface{}{"type": "game_joined", "roomId": sess.ID, "seat": seat})
}

// handleDeleteGame destroys a still-waiting room on its creator's request.
// Started matches are only abandoned through leaveRoomPermanently.
func (s *Server) handleDeleteGame(c *Client, msg ClientMessage) {
	sess, err := s.sessionOf(msg.RoomID)
	if err != nil {
		s.replyError(c, msg.Type, err)
		return
	}
	snap := sess.SnapshotFor(-1)
	if snap.Phase != game.PhaseWaiting {
		s.replyError(c, msg.Type, game.ErrNotPlaying)
		return
	}
	seated := false
	for _, p := range snap.Players {
		if p.ID == c.UserID {
			seated = true
			break
		}
	}
	if !seated {
		s.replyError(c, msg.Type, game.ErrPlayerNotFound)
		return
	}
	s.Store.Destroy(sess.ID)
}

func (s *Server) handleReconnect(c *Client, msg ClientMessage) {
	roomID, err := uuid.Parse(msg.RoomID)
	if err != nil {
		s.replyError(c, msg.Type, errors.New("invalid roomId"))
		return
	}
	sess, snap, err := s.Reconnect.Reconnect(roomID, c.UserID)
	if errors.Is(err, game.ErrRoomNotFound) {
		// Not live and no tombstone: the process may have restarted
		// under this room. Try the persisted snapshot before giving up.
		sess, snap, err = s.restoreFromCache(roomID, c.UserID)
	}
	if err != nil {
		s.replyError(c, msg.Type, err)
		return
	}
	s.joinRoomAudience(sess.ID, c.UserID)
	s.sendJSON(c.UserID, map[string]interface{}{"type": "reconnected", "state": snap})
}

// restoreFromCache revives a room from its Redis snapshot and registers
// it with the store so play can continue across a server restart.
func (s *Server) restoreFromCache(roomID, playerID uuid.UUID) (*game.MatchSession, *game.SeatSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, err := cache.LoadSnapshot(ctx, roomID)
	if err != nil || stored == nil {
		return nil, nil, game.ErrRoomNotFound
	}
	if stored.Phase.Terminal() {
		return nil, nil, game.ErrRoomDeleted
	}
	restored := game.RestoreSession(*stored)
	sess := s.Store.Register(restored)
	if sess == restored {
		s.attachSession(sess)
		s.Log.Infof("restored room %s from snapshot", roomID)
	}
	snap, err := sess.HandleReconnect(playerID)
	if err != nil {
		return nil, nil, err
	}
	return sess, snap, nil
}

func (s *Server) handleSpectate(c *Client, user models.User, roomIDStr string) {
	sess, err := s.sessionOf(roomIDStr)
	if err != nil {
		s.replyError(c, "spectate", err)
		return
	}
	snap := sess.AddSpectator(user)
	s.joinRoomAudience(sess.ID, user.ID)
	s.sendJSON(c.UserID, map[string]interface{}{"type": "spectating", "state": snap})
}

// handleReportResult is the manual result path, for operators reconciling
// a match whose automatic report was lost.
func (s *Server) handleReportResult(c *Client, msg ClientMessage) {
	matchID, err := uuid.Parse(msg.MatchID)
	if err != nil {
		s.replyError(c, msg.Type, errors.New("invalid matchId"))
		return
	}
	winnerID, err := uuid.Parse(msg.WinnerID)
	if err != nil {
		s.replyError(c, msg.Type, errors.New("invalid winnerId"))
		return
	}
	if err := s.Tournament.ReportResult(matchID, winnerID); err != nil {
		s.replyError(c, msg.Type, err)
		return
	}
	s.publishChampionOnce()
}

// dropFromRooms applies a connection loss to every room the user was part
// of: seated players get their grace timer, spectators are removed.
func (s *Server) dropFromRooms(userID uuid.UUID) {
	for _, roomID := range s.roomsOf(userID) {
		sess, ok := s.Store.Get(roomID)
		if !ok {
			s.leaveRoomAudience(roomID, userID)
			continue
		}
		snap := sess.SnapshotFor(-1)
		seated := false
		for _, p := range snap.Players {
			if p.ID == userID {
				seated = true
				break
			}
		}
		if seated {
			sess.HandleDisconnect(userID)
		} else {
			sess.RemoveSpectator(userID)
			s.leaveRoomAudience(roomID, userID)
		}
	}
	s.Queue.Cancel(userID)
}

// tournamentRoom resolves a bracket match to its live room id.
func (s *Server) tournamentRoom(matchID uuid.UUID) (uuid.UUID, bool) {
	view := s.Tournament.View()
	for _, round := range view.Rounds {
		for _, m := range round {
			if m.ID == matchID && m.SessionID != nil {
				return *m.SessionID, true
			}
		}
	}
	return uuid.Nil, false
}

func (s *Server) sessionOf(roomIDStr string) (*game.MatchSession, error) {
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		return nil, errors.New("invalid roomId")
	}
	sess, ok := s.Store.Get(roomID)
	if !ok {
		return nil, game.ErrRoomNotFound
	}
	return sess, nil
}

func parsePool(msg ClientMessage) (matchmaking.Pool, error) {
	variant := game.Variant(msg.Variant)
	if variant != game.VariantBriskula && variant != game.VariantTreseta {
		return matchmaking.Pool{}, errors.New("unknown variant")
	}
	mode := game.Mode(msg.Mode)
	if mode != game.ModeOneVsOne && mode != game.ModeTwoVsTwo {
		return matchmaking.Pool{}, errors.New("unknown mode")
	}
	return matchmaking.Pool{Mode: mode, Variant: variant}, nil
}

// replyError sends a structured error frame with a stable machine code.
func (s *Server) replyError(c *Client, op string, err error) {
	s.sendJSON(c.UserID, map[string]interface{}{
		"type":    "error",
		"op":      op,
		"code":    errCode(err),
		"message": err.Error(),
	})
}

// errCode maps domain errors to stable client-facing codes.
func errCode(err error) string {
	switch {
	case errors.Is(err, game.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, game.ErrCardNotInHand):
		return "card_not_in_hand"
	case errors.Is(err, game.ErrIllegalFollow):
		return "illegal_follow"
	case errors.Is(err, game.ErrAlreadyDeclared):
		return "meld_already_declared"
	case errors.Is(err, game.ErrMeldNotHeld):
		return "meld_not_held"
	case errors.Is(err, game.ErrMeldTooLate):
		return "meld_too_late"
	case errors.Is(err, game.ErrUnknownMeld):
		return "unknown_meld"
	case errors.Is(err, game.ErrWrongVariant):
		return "wrong_variant"
	case errors.Is(err, game.ErrRoundInProgress):
		return "round_in_progress"
	case errors.Is(err, game.ErrNotPlaying):
		return "not_playing"
	case errors.Is(err, game.ErrRoomFull):
		return "room_full"
	case errors.Is(err, game.ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, game.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, game.ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, game.ErrRoomDeleted):
		return "room_deleted"
	case errors.Is(err, game.ErrPermanentlyLeft):
		return "permanently_left"
	default:
		return "bad_request"
	}
}
