// internal/game/events.go
package game

import (
	"kartasi/internal/models"
)

// EventType enumerates the messages a session broadcasts outward. The
// transport layer decides how they reach clients.
type EventType string

const (
	EventGameStart         EventType = "game_start"
	EventDealStart         EventType = "deal_start"
	EventCardPlayed        EventType = "card_played"
	EventTurnChange        EventType = "turn_change"
	EventRoundFinished     EventType = "round_finished"
	EventDealFinished      EventType = "deal_finished"
	EventMeldAnnounced     EventType = "meld_announced"
	EventPlayerLeft        EventType = "player_left"
	EventPlayerReconnected EventType = "player_reconnected"
	EventRoomUpdate        EventType = "room_update"
	EventSyncState         EventType = "sync_state"
	EventGameEnd           EventType = "game_end"
)

// Event is the broadcast envelope. Seat and Card are set for events about a
// single play; Payload carries everything else; State is only populated on
// private sync messages.
type Event struct {
	Type    EventType              `json:"type"`
	Seat    *int                   `json:"seat,omitempty"`
	Card    *models.Card           `json:"card,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	State   *SeatSnapshot          `json:"state,omitempty"`
}

func seatRef(seat int) *int { return &seat }
