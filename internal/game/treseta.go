// internal/game/treseta.go
package game

import (
	"kartasi/internal/models"
)

// Trešeta match targets. The target is fixed at match creation from the
// melds-enabled setting and never re-evaluated mid-match.
const (
	TresetaTargetPlain = 31
	TresetaTargetMelds = 41
)

// TresetaRules implements the follow-suit scoring variant: no trump, full
// hands played down to zero with no draws, aces and card-thirds scored per
// deal, optional akuža melds.
type TresetaRules struct {
	// MeldsEnabled raises the match target from 31 to 41 and allows akuža
	// declarations.
	MeldsEnabled bool
}

func (r *TresetaRules) Variant() Variant      { return VariantTreseta }
func (r *TresetaRules) HandSize() int         { return 10 }
func (r *TresetaRules) DrawsAfterTrick() bool { return false }

func (r *TresetaRules) Target() int {
	if r.MeldsEnabled {
		return TresetaTargetMelds
	}
	return TresetaTargetPlain
}

// CheckPlay enforces the follow obligation: a seat holding at least one card
// of the lead suit must play that suit.
func (r *TresetaRules) CheckPlay(hand []models.Card, played []PlayedCard, c models.Card) error {
	if len(played) == 0 {
		return nil // leading, any card
	}
	leadSuit := played[0].Card.Suit
	if c.Suit == leadSuit {
		return nil
	}
	for _, h := range hand {
		if h.Suit == leadSuit {
			return ErrIllegalFollow
		}
	}
	return nil
}

// ResolveRound picks the strongest card of the lead suit. Off-suit cards can
// never win; with no trump, the lead card wins by default if no one follows.
func (r *TresetaRules) ResolveRound(played []PlayedCard) int {
	leadSuit := played[0].Card.Suit
	best := 0
	for i := 1; i < len(played); i++ {
		c := played[i].Card
		if c.Suit != leadSuit {
			continue
		}
		if TresetaStrength(c) > TresetaStrength(played[best].Card) {
			best = i
		}
	}
	return best
}

// DealPoints scores a finished trešeta deal per side: one point per ace won,
// one point per full group of three non-ace counting cards (duje, trice and
// the figures; the remainder carries no score), one point for taking the
// last round, plus any declared meld points. The per-deal budget works out
// to 11 before melds.
func (r *TresetaRules) DealPoints(won map[int][]models.Card, lastTrickSide int, meldPoints map[int]int) map[int]int {
	points := make(map[int]int, len(won))
	for side, pile := range won {
		aces, thirds := 0, 0
		for _, c := range pile {
			if c.Rank == 1 {
				aces++
			} else if IsTresetaCountingCard(c) {
				thirds++
			}
		}
		points[side] = aces + thirds/3 + meldPoints[side]
	}
	points[lastTrickSide]++
	return points
}

// Akuža meld catalogue. Three-of-a-kind of aces, duje or trice scores 3,
// four-of-a-kind scores 4, and a napolitana (as+duja+trica of one suit)
// scores 3.
const (
	MeldThreeAces  = "three_aces"
	MeldFourAces   = "four_aces"
	MeldThreeTwos  = "three_twos"
	MeldFourTwos   = "four_twos"
	MeldThreeTrice = "three_trice"
	MeldFourTrice  = "four_trice"
	MeldNapolitana = "napolitana"
)

// meldRank maps set melds to the rank they collect.
var meldRank = map[string]struct {
	rank   int
	count  int
	points int
}{
	MeldThreeAces:  {1, 3, 3},
	MeldFourAces:   {1, 4, 4},
	MeldThreeTwos:  {2, 3, 3},
	MeldFourTwos:   {2, 4, 4},
	MeldThreeTrice: {3, 3, 3},
	MeldFourTrice:  {3, 4, 4},
}

// EvaluateMeld validates a declared meld against the declarer's current hand
// and returns its point value.
func EvaluateMeld(hand []models.Card, choice string) (int, error) {
	if choice == MeldNapolitana {
		for _, suit := range Suits {
			if holdsRank(hand, suit, 1) && holdsRank(hand, suit, 2) && holdsRank(hand, suit, 3) {
				return 3, nil
			}
		}
		return 0, ErrMeldNotHeld
	}

	entry, ok := meldRank[choice]
	if !ok {
		return 0, ErrUnknownMeld
	}
	n := 0
	for _, c := range hand {
		if c.Rank == entry.rank {
			n++
		}
	}
	if n < entry.count {
		return 0, ErrMeldNotHeld
	}
	return entry.points, nil
}

func holdsRank(hand []models.Card, suit string, rank int) bool {
	for _, c := range hand {
		if c.Suit == suit && c.Rank == rank {
			return true
		}
	}
	return false
}
