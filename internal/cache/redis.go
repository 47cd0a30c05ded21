// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"kartasi/internal/game"
)

// Rdb is the global Redis client. Connect it once at application startup;
// when nil, snapshot persistence degrades to in-memory-only operation.
var Rdb *redis.Client

// Snapshot TTLs by lifecycle phase: a live room's snapshot must outlast any
// plausible reconnect window, a terminal room's only needs to cover the
// teardown grace.
const (
	playingTTL  = 2 * time.Hour
	terminalTTL = 2 * time.Minute
)

// ConnectRedis initializes the global Redis client with environment
// variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		Rdb = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

func snapshotKey(roomID uuid.UUID) string {
	return "kartasi:session:" + roomID.String()
}

// SaveSnapshot persists a session snapshot with a phase-dependent TTL.
// Persistence is best-effort: failures are logged, never surfaced to the
// live session.
func SaveSnapshot(ctx context.Context, snap game.SessionSnapshot) {
	if Rdb == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		logrus.Warnf("cache: failed to marshal snapshot for room %s: %v", snap.RoomID, err)
		return
	}
	ttl := playingTTL
	if snap.Phase.Terminal() {
		ttl = terminalTTL
	}
	if err := Rdb.Set(ctx, snapshotKey(snap.RoomID), data, ttl).Err(); err != nil {
		logrus.Warnf("cache: failed to save snapshot for room %s: %v", snap.RoomID, err)
	}
}

// LoadSnapshot fetches a persisted session snapshot, if any.
func LoadSnapshot(ctx context.Context, roomID uuid.UUID) (*game.SessionSnapshot, error) {
	if Rdb == nil {
		return nil, nil
	}
	data, err := Rdb.Get(ctx, snapshotKey(roomID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load snapshot %s: %w", roomID, err)
	}
	var snap game.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cache: decode snapshot %s: %w", roomID, err)
	}
	return &snap, nil
}

// DeleteSnapshot drops a room's snapshot after teardown.
func DeleteSnapshot(ctx context.Context, roomID uuid.UUID) {
	if Rdb == nil {
		return
	}
	if err := Rdb.Del(ctx, snapshotKey(roomID)).Err(); err != nil {
		logrus.Warnf("cache: failed to delete snapshot for room %s: %v", roomID, err)
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
