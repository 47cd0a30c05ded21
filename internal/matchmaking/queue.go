// internal/matchmaking/queue.go
package matchmaking

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kartasi/internal/game"
	"kartasi/internal/models"
)

// Ticket is one waiting player.
type Ticket struct {
	Player     models.User
	EnqueuedAt time.Time
}

// Pool identifies one FIFO queue: every (mode, variant) pair waits
// separately.
type Pool struct {
	Mode    game.Mode
	Variant game.Variant
}

// MatchedFunc receives exactly the players cut from a queue, in FIFO order,
// and is expected to seat them into a fresh session. Called outside the
// queue lock.
type MatchedFunc func(pool Pool, players []models.User)

// Queue holds the per-pool FIFO queues. Enqueue is idempotent per player
// across all pools, and the cut into a session is atomic: a full group is
// removed under the lock before anyone else can observe it.
type Queue struct {
	mu      sync.Mutex
	waiting map[Pool][]Ticket
	index   map[uuid.UUID]Pool

	OnMatched MatchedFunc
}

// NewQueue builds an empty matchmaking queue.
func NewQueue() *Queue {
	return &Queue{
		waiting: make(map[Pool][]Ticket),
		index:   make(map[uuid.UUID]Pool),
	}
}

// Enqueue appends the player to the pool's queue unless they are already
// queued anywhere, in which case their current 1-based position is returned
// with alreadyWaiting set. Filling the pool cuts its head into a new match.
func (q *Queue) Enqueue(player models.User, pool Pool) (position int, alreadyWaiting bool) {
	q.mu.Lock()

	if held, ok := q.index[player.ID]; ok {
		pos := q.positionLocked(held, player.ID)
		q.mu.Unlock()
		return pos, true
	}

	q.waiting[pool] = append(q.waiting[pool], Ticket{Player: player, EnqueuedAt: time.Now()})
	q.index[player.ID] = pool
	position = len(q.waiting[pool])

	need := pool.Mode.PlayerCount()
	var matched []models.User
	if len(q.waiting[pool]) >= need {
		cut := q.waiting[pool][:need]
		q.waiting[pool] = append([]Ticket(nil), q.waiting[pool][need:]...)
		for _, t := range cut {
			delete(q.index, t.Player.ID)
			matched = append(matched, t.Player)
		}
	}
	onMatched := q.OnMatched
	q.mu.Unlock()

	if matched != nil {
		logrus.Infof("matchmaking: paired %d players for %s %s", len(matched), pool.Variant, pool.Mode)
		if onMatched != nil {
			onMatched(pool, matched)
		}
	}
	return position, false
}

// Cancel removes a player from whichever queue holds them. No-op when the
// player is not queued.
func (q *Queue) Cancel(playerID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	pool, ok := q.index[playerID]
	if !ok {
		return false
	}
	delete(q.index, playerID)
	line := q.waiting[pool]
	for i, t := range line {
		if t.Player.ID == playerID {
			q.waiting[pool] = append(line[:i], line[i+1:]...)
			break
		}
	}
	return true
}

// Waiting reports whether the player is queued, and where.
func (q *Queue) Waiting(playerID uuid.UUID) (Pool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pool, ok := q.index[playerID]
	return pool, ok
}

// Depths returns the current queue length per pool, keyed as
// "variant/mode", for the status endpoint.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.waiting))
	for pool, line := range q.waiting {
		if len(line) > 0 {
			out[string(pool.Variant)+"/"+string(pool.Mode)] = len(line)
		}
	}
	return out
}

func (q *Queue) positionLocked(pool Pool, playerID uuid.UUID) int {
	for i, t := range q.waiting[pool] {
		if t.Player.ID == playerID {
			return i + 1
		}
	}
	return 0
}
