// internal/database/match.go
package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MatchRecord is one finished (or forfeited) match's history row.
type MatchRecord struct {
	RoomID      uuid.UUID
	Variant     string
	Mode        string
	Players     []uuid.UUID
	WinnerSide  int
	Totals      []int
	Interrupted bool
	FinishedAt  time.Time
}

// InsertMatchRecord stores a terminal match result. Best-effort: with no
// pool configured or on write failure it logs and returns, matching the
// snapshot persistence policy.
func InsertMatchRecord(ctx context.Context, rec MatchRecord) {
	if DB == nil {
		return
	}
	q := `
		INSERT INTO match_history (room_id, variant, mode, players, winner_side, totals, interrupted, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room_id) DO NOTHING
	`
	ids := make([]string, len(rec.Players))
	for i, id := range rec.Players {
		ids[i] = id.String()
	}
	if _, err := DB.Exec(ctx, q,
		rec.RoomID, rec.Variant, rec.Mode, ids, rec.WinnerSide, rec.Totals, rec.Interrupted, rec.FinishedAt,
	); err != nil {
		logrus.Warnf("database: failed to record match %s: %v", rec.RoomID, err)
	}
}
