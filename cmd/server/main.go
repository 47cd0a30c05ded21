// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"kartasi/internal/auth"
	"kartasi/internal/cache"
	"kartasi/internal/database"
	"kartasi/internal/events"
	"kartasi/internal/handlers"
	"kartasi/internal/middleware"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	if err := auth.Init(); err != nil {
		log.Fatalf("auth init failed: %v", err)
	}

	// Persistence and messaging are optional collaborators: the server
	// runs degraded (in-memory only) when they are unreachable.
	if err := database.ConnectDB(); err != nil {
		logger.Warnf("running without match history: %v", err)
	}
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("running without snapshot persistence: %v", err)
	}
	pub, err := events.Connect()
	if err != nil {
		logger.Warnf("running without result publishing: %v", err)
	}
	defer pub.Close()

	srv := handlers.NewServer(logger, pub)
	if d := envDuration("RESOLVE_DELAY_MS", srv.ResolveDelay); d >= 0 {
		srv.ResolveDelay = d
	}
	if d := envDuration("GRACE_PERIOD_MS", srv.GracePeriod); d > 0 {
		srv.GracePeriod = d
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(srv.WSHandler()))
	mux.Handle("/status", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.StatusHandler)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// envDuration reads a millisecond count from the environment, falling back
// to def when unset or unparsable.
func envDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	ms, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
