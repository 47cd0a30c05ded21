// internal/handlers/connections.go
package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Client is one registered WebSocket connection. Outbound messages go
// through a buffered channel drained by a single writer goroutine, so
// writes never interleave and broadcasters never block on a slow socket.
type Client struct {
	UserID   uuid.UUID
	Username string

	conn   *websocket.Conn
	out    chan []byte
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newClient(userID uuid.UUID, username string, conn *websocket.Conn, cancel context.CancelFunc) *Client {
	return &Client{
		UserID:   userID,
		Username: username,
		conn:     conn,
		out:      make(chan []byte, 64),
		cancel:   cancel,
	}
}

// send queues a raw payload for delivery. If the client's buffer is
// full the message is dropped; the next sync_state push lets a laggy
// client recover.
func (c *Client) send(payload []byte) bool {
	select {
	case c.out <- payload:
		return true
	default:
		return false
	}
}

// writePump drains the outbound channel onto the socket. It exits when
// the context is canceled or the channel is closed.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.out)
		c.cancel()
	})
}

// addClient registers a connection under its user ID. A second
// connection for the same user replaces the first; the old socket is
// closed so the client cannot hold two live sessions.
func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	old := s.clients[c.UserID]
	s.clients[c.UserID] = c
	s.mu.Unlock()

	if old != nil {
		old.conn.Close(websocket.StatusPolicyViolation, "connection superseded")
		old.close()
	}
}

// removeClient drops the connection if it is still the registered one
// for its user. Returns true when the caller owned the registration.
func (s *Server) removeClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.UserID] != c {
		return false
	}
	delete(s.clients, c.UserID)
	return true
}

func (s *Server) sendTo(userID uuid.UUID, payload []byte) {
	s.mu.Lock()
	c := s.clients[userID]
	s.mu.Unlock()
	if c != nil {
		if !c.send(payload) {
			s.Log.Warnf("dropping message for slow client %s", userID)
		}
	}
}

// sendJSON marshals v and queues it for one user. Delivery is
// best-effort: an absent or saturated client is skipped.
func (s *Server) sendJSON(userID uuid.UUID, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.Log.Errorf("marshal outbound message: %v", err)
		return
	}
	s.sendTo(userID, payload)
}

// joinRoomAudience records that a user should receive broadcasts for a
// room. Membership survives disconnects so reconnecting players resume
// the stream without rejoining.
func (s *Server) joinRoomAudience(roomID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aud := s.audiences[roomID]
	if aud == nil {
		aud = make(map[uuid.UUID]bool)
		s.audiences[roomID] = aud
	}
	aud[userID] = true
}

func (s *Server) leaveRoomAudience(roomID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if aud := s.audiences[roomID]; aud != nil {
		delete(aud, userID)
		if len(aud) == 0 {
			delete(s.audiences, roomID)
		}
	}
}

func (s *Server) dropRoomAudience(roomID uuid.UUID) {
	s.mu.Lock()
	delete(s.audiences, roomID)
	s.mu.Unlock()
}

// roomsOf lists every room the user is an audience member of.
func (s *Server) roomsOf(userID uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []uuid.UUID
	for roomID, aud := range s.audiences {
		if aud[userID] {
			rooms = append(rooms, roomID)
		}
	}
	return rooms
}

// broadcastRoom fans a payload out to the room's audience. It takes
// only the server lock, so broadcast closures are safe to invoke from
// inside session methods.
func (s *Server) broadcastRoom(roomID uuid.UUID, payload []byte) {
	s.mu.Lock()
	targets := make([]*Client, 0, len(s.audiences[roomID]))
	for userID := range s.audiences[roomID] {
		if c := s.clients[userID]; c != nil {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if !c.send(payload) {
			s.Log.Warnf("dropping broadcast for slow client %s", c.UserID)
		}
	}
}

// broadcastAll sends a payload to every registered client.
func (s *Server) broadcastAll(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.Log.Errorf("marshal broadcast: %v", err)
		return
	}
	s.mu.Lock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.send(payload)
	}
}
