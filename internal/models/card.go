// internal/models/card.go
package models

import "fmt"

// Card is an immutable suit/rank pair from the 40-card Triestine deck.
// Point values and relative strength depend on the active rule variant,
// so they live in the rule tables (internal/game), not on the card itself.
type Card struct {
	Suit string `json:"suit"`
	Rank int    `json:"rank"`
}

// Equal reports whether two cards are the same physical card.
func (c Card) Equal(o Card) bool {
	return c.Suit == o.Suit && c.Rank == o.Rank
}

func (c Card) String() string {
	return fmt.Sprintf("%d-%s", c.Rank, c.Suit)
}
