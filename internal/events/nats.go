// internal/events/nats.go
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects for downstream consumers (leaderboard/ELO services are external
// collaborators; they listen here instead of being called directly).
const (
	SubjectMatchFinished      = "kartasi.match.finished"
	SubjectTournamentFinished = "kartasi.tournament.finished"
)

// MatchResult is the terminal signal published for every concluded room.
type MatchResult struct {
	RoomID      uuid.UUID   `json:"room_id"`
	Variant     string      `json:"variant"`
	Mode        string      `json:"mode"`
	Players     []uuid.UUID `json:"players"`
	WinnerSide  int         `json:"winner_side"` // -1 on a draw
	Totals      []int       `json:"totals"`
	Interrupted bool        `json:"interrupted"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// TournamentResult announces a completed tournament.
type TournamentResult struct {
	Champion   uuid.UUID `json:"champion"`
	Username   string    `json:"username"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher wraps an optional NATS connection. A nil Publisher (or one
// built without NATS_URL set) is a safe no-op, so result publishing never
// gates game correctness.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS_URL if configured. Returns a no-op publisher when the
// variable is unset.
func Connect() (*Publisher, error) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		return &Publisher{}, nil
	}
	nc, err := nats.Connect(url, nats.Name("kartasi-server"), nats.MaxReconnects(-1))
	if err != nil {
		return &Publisher{}, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logrus.Infof("events: connected to NATS at %s", url)
	return &Publisher{nc: nc}, nil
}

// PublishMatchResult fires the match-finished event. Best-effort.
func (p *Publisher) PublishMatchResult(res MatchResult) {
	p.publish(SubjectMatchFinished, res)
}

// PublishTournamentResult fires the tournament-finished event. Best-effort.
func (p *Publisher) PublishTournamentResult(res TournamentResult) {
	p.publish(SubjectTournamentFinished, res)
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.Warnf("events: failed to marshal %s payload: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		logrus.Warnf("events: failed to publish %s: %v", subject, err)
	}
}

// Close drains the connection on shutdown.
func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}
