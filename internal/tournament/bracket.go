// internal/tournament/bracket.go
package tournament

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one registered tournament player.
type Participant struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// MatchStatus is the per-match state machine:
// waiting (an input seat still TBD) -> pending (both seats known) ->
// playing (an underlying session exists) -> finished (winner recorded).
type MatchStatus string

const (
	StatusWaiting  MatchStatus = "waiting"
	StatusPending  MatchStatus = "pending"
	StatusPlaying  MatchStatus = "playing"
	StatusFinished MatchStatus = "finished"
)

// Match is one bracket slot pairing. A nil seat in the first round is a
// bye; in later rounds it means the feeding match has not finished yet.
type Match struct {
	ID    uuid.UUID
	Round int
	Slot  int

	SeatA *Participant
	SeatB *Participant

	Winner    *Participant
	Status    MatchStatus
	Deadline  time.Time
	SessionID uuid.UUID

	ready map[uuid.UUID]bool
}

// ReadyCount returns how many of the two seats have signaled readiness.
func (m *Match) ReadyCount() int { return len(m.ready) }

func (m *Match) hasSeat(id uuid.UUID) bool {
	return (m.SeatA != nil && m.SeatA.ID == id) || (m.SeatB != nil && m.SeatB.ID == id)
}

// Bracket is the single-elimination pairing tree. Rounds[0] holds the
// leaves; each later round has half as many matches. Mutation is
// append-only at the leaves and propagative upward.
type Bracket struct {
	Rounds   [][]*Match
	Champion *Participant
	Finished bool
}

// Build constructs a bracket for the given participants, padded to the
// next power of two. First-round pairing is cross-seeded (first vs last),
// which keeps at most one bye per match; bye matches finish immediately.
func Build(participants []Participant) *Bracket {
	size := 2
	for size < len(participants) {
		size *= 2
	}
	seeds := make([]*Participant, size)
	for i := range participants {
		p := participants[i]
		seeds[i] = &p
	}

	numRounds := 0
	for s := size; s > 1; s /= 2 {
		numRounds++
	}

	b := &Bracket{Rounds: make([][]*Match, numRounds)}
	first := make([]*Match, size/2)
	for i := 0; i < size/2; i++ {
		id, _ := uuid.NewRandom()
		m := &Match{
			ID:    id,
			Round: 0,
			Slot:  i,
			SeatA: seeds[i],
			SeatB: seeds[size-1-i],
			ready: make(map[uuid.UUID]bool),
		}
		switch {
		case m.SeatA != nil && m.SeatB != nil:
			m.Status = StatusPending
		case m.SeatA != nil:
			// Bye: the lone seat advances without playing.
			m.Status = StatusFinished
			m.Winner = m.SeatA
		default:
			m.Status = StatusWaiting
		}
		first[i] = m
	}
	b.Rounds[0] = first

	for r := 1; r < numRounds; r++ {
		count := len(b.Rounds[r-1]) / 2
		round := make([]*Match, count)
		for i := 0; i < count; i++ {
			id, _ := uuid.NewRandom()
			round[i] = &Match{
				ID:     id,
				Round:  r,
				Slot:   i,
				Status: StatusWaiting,
				ready:  make(map[uuid.UUID]bool),
			}
		}
		b.Rounds[r] = round
	}

	// Byes resolved at build time propagate right away.
	for _, m := range first {
		if m.Status == StatusFinished {
			b.propagate(m)
		}
	}
	return b
}

// propagate copies a finished match's winner into the correct slot of the
// next round. The sibling slot is untouched. Returns the next-round match
// if it just became fully seated (both seats known).
func (b *Bracket) propagate(m *Match) *Match {
	if m.Round == len(b.Rounds)-1 {
		b.Champion = m.Winner
		b.Finished = true
		return nil
	}
	next := b.Rounds[m.Round+1][m.Slot/2]
	if m.Slot%2 == 0 {
		next.SeatA = m.Winner
	} else {
		next.SeatB = m.Winner
	}
	if next.SeatA != nil && next.SeatB != nil && next.Status == StatusWaiting {
		next.Status = StatusPending
		return next
	}
	return nil
}

// find returns the match with the given id.
func (b *Bracket) find(matchID uuid.UUID) *Match {
	for _, round := range b.Rounds {
		for _, m := range round {
			if m.ID == matchID {
				return m
			}
		}
	}
	return nil
}
