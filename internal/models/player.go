// internal/models/player.go
package models

import (
	"github.com/google/uuid"
)

// Player is one seated participant in a match session. Seat numbering is
// zero-based in seating order; in 2v2 seats 0&2 form one team and 1&3 the
// other (see game.TeamOf).
type Player struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Seat      int       `json:"seat"`
	Hand      []Card    `json:"-"`
	Connected bool      `json:"connected"`

	// RedealReady marks that this seat has confirmed it wants the next
	// deal in a multi-deal match.
	RedealReady bool `json:"-"`
}

// HoldsCard reports whether the player's hand contains the given card.
func (p *Player) HoldsCard(c Card) bool {
	for _, h := range p.Hand {
		if h.Equal(c) {
			return true
		}
	}
	return false
}

// RemoveCard takes the given card out of the player's hand. Returns false
// if the card was not held.
func (p *Player) RemoveCard(c Card) bool {
	for i, h := range p.Hand {
		if h.Equal(c) {
			p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
			return true
		}
	}
	return false
}
