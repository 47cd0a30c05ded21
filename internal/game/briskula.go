// internal/game/briskula.go
package game

import (
	"kartasi/internal/models"
)

// BriskulaRules implements the trump trick-taking variant. The trump suit is
// fixed for the whole deal, drawn face-up at deal time; any card may be
// played regardless of the lead suit.
type BriskulaRules struct {
	TrumpSuit string

	// LastTrickTiebreak awards a 60-60 deal to whichever side took the last
	// round instead of declaring a draw. Off by default.
	LastTrickTiebreak bool
}

func (r *BriskulaRules) Variant() Variant      { return VariantBriskula }
func (r *BriskulaRules) HandSize() int         { return 3 }
func (r *BriskulaRules) DrawsAfterTrick() bool { return true }
func (r *BriskulaRules) Target() int           { return 0 }

// CheckPlay never restricts suit choice: briskula has no follow obligation.
func (r *BriskulaRules) CheckPlay(hand []models.Card, played []PlayedCard, c models.Card) error {
	return nil
}

// ResolveRound picks the winner: trump beats non-trump unconditionally;
// within the same suit (trump or lead) higher strength wins; a card that is
// neither trump nor lead-suited can never win.
func (r *BriskulaRules) ResolveRound(played []PlayedCard) int {
	leadSuit := played[0].Card.Suit
	best := 0
	for i := 1; i < len(played); i++ {
		if briskulaBeats(played[i].Card, played[best].Card, leadSuit, r.TrumpSuit) {
			best = i
		}
	}
	return best
}

// briskulaBeats reports whether challenger beats incumbent given the lead
// and trump suits. Incumbent is assumed to be either trump or lead-suited,
// which holds inductively from the first card played.
func briskulaBeats(challenger, incumbent models.Card, leadSuit, trumpSuit string) bool {
	switch {
	case challenger.Suit == incumbent.Suit:
		return BriskulaStrength(challenger) > BriskulaStrength(incumbent)
	case challenger.Suit == trumpSuit:
		return true
	default:
		// Different suit, not trump: cannot beat a trump or the lead card.
		return false
	}
}

// DealPoints sums fixed card values per side. The whole deck is always
// distributed, so the sides' points sum to BriskulaDeckPoints.
func (r *BriskulaRules) DealPoints(won map[int][]models.Card, lastTrickSide int, meldPoints map[int]int) map[int]int {
	points := make(map[int]int, len(won))
	for side, pile := range won {
		sum := 0
		for _, c := range pile {
			sum += BriskulaPoints(c)
		}
		points[side] = sum
	}
	return points
}

// TiebreakWinner resolves a 60-60 deal: under the last-trick policy flag
// the side that took the final round wins, otherwise the deal is a draw.
func (r *BriskulaRules) TiebreakWinner(lastTrickSide int) int {
	if r.LastTrickTiebreak && lastTrickSide >= 0 {
		return lastTrickSide
	}
	return DrawWinner
}
