// internal/game/rules.go
package game

import (
	"errors"

	"kartasi/internal/models"
)

// Variant selects which rule family a session runs.
type Variant string

const (
	VariantBriskula Variant = "briskula"
	VariantTreseta  Variant = "treseta"
)

// Mode is the seating configuration.
type Mode string

const (
	ModeOneVsOne Mode = "1v1"
	ModeTwoVsTwo Mode = "2v2"
)

// PlayerCount returns how many seats the mode fills.
func (m Mode) PlayerCount() int {
	if m == ModeTwoVsTwo {
		return 4
	}
	return 2
}

// TeamOf maps a zero-based seat to its side index. In 2v2, seat parity
// decides team membership (0&2 vs 1&3); in 1v1 each seat is its own side.
// This is the single source of truth for the parity convention.
func TeamOf(seat int, mode Mode) int {
	if mode == ModeTwoVsTwo {
		return seat % 2
	}
	return seat
}

// Protocol violations and lifecycle errors surfaced to clients. These are
// rejected locally with session state unchanged; none of them is fatal.
var (
	ErrNotYourTurn     = errors.New("not your turn")
	ErrCardNotInHand   = errors.New("card not in hand")
	ErrIllegalFollow   = errors.New("must follow the lead suit")
	ErrAlreadyDeclared = errors.New("meld already declared this deal")
	ErrMeldNotHeld     = errors.New("declared meld cards not in hand")
	ErrMeldTooLate     = errors.New("melds may only be declared during the first round")
	ErrUnknownMeld     = errors.New("unknown meld")
	ErrWrongVariant    = errors.New("operation not valid for this rule variant")
	ErrRoundInProgress = errors.New("round is being resolved")
	ErrNotPlaying      = errors.New("session is not in a playable phase")
	ErrRoomFull        = errors.New("room is full")
	ErrWrongPassword   = errors.New("wrong room password")
	ErrRoomNotFound    = errors.New("room not found")
	ErrPlayerNotFound  = errors.New("player not found in this room")
	ErrRoomDeleted     = errors.New("room was deleted")
	ErrPermanentlyLeft = errors.New("player permanently left the room")
)

// PlayedCard tags a card with the seat that played it, in submission order.
type PlayedCard struct {
	Seat int         `json:"seat"`
	Card models.Card `json:"card"`
}

// Rules is the strategy a MatchSession delegates variant-specific behavior
// to. The session owns turn order, card ownership and lifecycle; the rules
// decide legality, trick resolution and scoring.
type Rules interface {
	Variant() Variant

	// HandSize is the number of cards dealt to each seat at deal start.
	HandSize() int

	// DrawsAfterTrick reports whether seats replenish from the deck after
	// each resolved round.
	DrawsAfterTrick() bool

	// CheckPlay validates a candidate play beyond turn order and ownership,
	// given the cards already on the table this round.
	CheckPlay(hand []models.Card, played []PlayedCard, c models.Card) error

	// ResolveRound returns the index into played of the winning card.
	// played always holds exactly one card per seat.
	ResolveRound(played []PlayedCard) int

	// DealPoints computes each side's points for a finished deal from the
	// won piles, the side that took the last round, and any declared meld
	// points.
	DealPoints(won map[int][]models.Card, lastTrickSide int, meldPoints map[int]int) map[int]int

	// Target is the cumulative score that ends the match, or 0 for a
	// single-deal match decided by comparing deal points.
	Target() int
}
