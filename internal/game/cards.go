// internal/game/cards.go
package game

import (
	"math/rand"
	"time"

	"kartasi/internal/models"
)

// Triestine deck suits.
const (
	SuitKupe   = "kupe"   // cups
	SuitBati   = "bati"   // batons
	SuitSpadi  = "spadi"  // swords
	SuitDinari = "dinari" // coins
)

// Suits lists all four suits in dealing order.
var Suits = []string{SuitKupe, SuitBati, SuitSpadi, SuitDinari}

// Ranks in the 40-card deck: 1 (as) through 7, then the three figures
// 11 (fanat), 12 (konj), 13 (kralj).
var Ranks = []int{1, 2, 3, 4, 5, 6, 7, 11, 12, 13}

// BriskulaDeckPoints is the fixed point budget of a briskula deal. Every
// deal's combined score sums to exactly this, so 60-60 is the only tie.
const BriskulaDeckPoints = 120

// briskulaPoints is the per-card point table for the trick-taking variant.
// Ranks absent from the map are worth nothing.
var briskulaPoints = map[int]int{
	1:  11, // as
	3:  10, // trica
	13: 4,  // kralj
	12: 3,  // konj
	11: 2,  // fanat
}

// briskulaStrength orders cards within a suit. Higher beats lower.
var briskulaStrength = map[int]int{
	1: 10, 3: 9, 13: 8, 12: 7, 11: 6, 7: 5, 6: 4, 5: 3, 4: 2, 2: 1,
}

// tresetaStrength orders cards within a suit for the follow-suit variant:
// trica beats duja beats as, then the figures, then the numerals.
var tresetaStrength = map[int]int{
	3: 10, 2: 9, 1: 8, 13: 7, 12: 6, 11: 5, 7: 4, 6: 3, 5: 2, 4: 1,
}

// BriskulaPoints returns the point value of a card under briskula scoring.
func BriskulaPoints(c models.Card) int {
	return briskulaPoints[c.Rank]
}

// BriskulaStrength returns the within-suit strength of a card under briskula.
func BriskulaStrength(c models.Card) int {
	return briskulaStrength[c.Rank]
}

// TresetaStrength returns the within-suit strength of a card under trešeta.
func TresetaStrength(c models.Card) int {
	return tresetaStrength[c.Rank]
}

// IsTresetaCountingCard reports whether a card participates in trešeta deal
// scoring: aces score a full point each, while duje, trice and the figures
// score in groups of three.
func IsTresetaCountingCard(c models.Card) bool {
	switch c.Rank {
	case 1, 2, 3, 11, 12, 13:
		return true
	}
	return false
}

// NewDeck builds a freshly shuffled 40-card deck.
func NewDeck() []models.Card {
	deck := make([]models.Card, 0, 40)
	for _, suit := range Suits {
		for _, rank := range Ranks {
			deck = append(deck, models.Card{Suit: suit, Rank: rank})
		}
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}
