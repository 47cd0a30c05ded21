// internal/database/db.go
package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DB is the global Postgres pool. When nil (unconfigured or unreachable),
// match history recording degrades to a no-op; the live engine never
// depends on it.
var DB *pgxpool.Pool

// ConnectDB initializes the pool from POSTGRES_USER/POSTGRES_PASSWORD/
// PG_HOST/PG_PORT/PG_DATABASE. Returns an error instead of exiting so the
// server can run without history storage.
func ConnectDB() error {
	host := os.Getenv("PG_HOST")
	if host == "" {
		return fmt.Errorf("PG_HOST not configured")
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return fmt.Errorf("unable to create pgx pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("db ping error: %w", err)
	}

	DB = pool
	logrus.Infof("database: connected to %s", host)
	return nil
}
