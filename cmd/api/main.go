// Main API binary: loads configuration, wires dependencies and serves the
// HTTP + websocket endpoints.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcelojr/crowdpulse/internal/app/httpapi"
	"github.com/marcelojr/crowdpulse/internal/app/polling"
	"github.com/marcelojr/crowdpulse/internal/app/realtime"
	"github.com/marcelojr/crowdpulse/internal/domain"
	"github.com/marcelojr/crowdpulse/internal/platform/abuse"
	"github.com/marcelojr/crowdpulse/internal/platform/clock"
	"github.com/marcelojr/crowdpulse/internal/platform/config"
	"github.com/marcelojr/crowdpulse/internal/platform/health"
	"github.com/marcelojr/crowdpulse/internal/platform/ids"
	"github.com/marcelojr/crowdpulse/internal/platform/logger"
	"github.com/marcelojr/crowdpulse/internal/platform/migrations"
	postgresstorage "github.com/marcelojr/crowdpulse/internal/platform/storage/postgres"
	redisstorage "github.com/marcelojr/crowdpulse/internal/platform/storage/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	db, err := postgresstorage.Open(ctx, cfg.PostgresDSN())
	if err != nil {
		logger.Fatal("postgres connection failed", "err", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres sql.DB unwrap failed", "err", err)
	}
	defer sqlDB.Close()

	if cfg.AutoMigrate {
		// Automatic migrations stay opt-out so production can pin schema changes.
		if err := migrations.Run(db); err != nil {
			logger.Fatal("auto migration failed", "err", err)
		}
	}

	// Redis backs the rate limiter and the cross-process broadcast relay.
	redisClient, err := redisstorage.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("redis connection failed", "err", err)
	}
	defer redisClient.Close()

	sessionRepo := postgresstorage.NewSessionRepository(db)
	questionRepo := postgresstorage.NewQuestionRepository(db)
	eventRepo := postgresstorage.NewVoteEventRepository(db)
	clockSystem := clock.NewSystemClock()
	idGen := ids.NewGenerator()

	var guard domain.AbuseGuard = abuse.NewNoop()
	if cfg.RateLimitEnabled {
		window := time.Duration(cfg.RateLimitWindowSeconds) * time.Second
		guard = abuse.NewRedisRateLimiter(redisClient, cfg.RateLimitMaxVotes, window, cfg.RateLimitKeyPrefix)
	}

	var relay *redisstorage.Relay
	var hubRelay realtime.Relay
	if cfg.RelayEnabled {
		relay = redisstorage.NewRelay(redisClient, cfg.RelayChannelPrefix)
		hubRelay = relay
	}

	hub := realtime.NewHub(hubRelay, logger.L())
	service := polling.NewService(
		sessionRepo,
		questionRepo,
		eventRepo,
		hub,
		guard,
		clockSystem,
		idGen,
	)
	hub.SetSnapshot(service)

	if relay != nil {
		go func() {
			// Broadcasts mirrored by sibling processes land in the local rooms.
			err := relay.Listen(ctx, hub.DeliverRelayed)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("broadcast relay stopped", "err", err)
			}
		}()
	}

	mux := http.NewServeMux()
	checker := health.NewChecker(sqlDB, redisClient)

	api := httpapi.New(service, logger.L())
	api.Register(mux)
	mux.HandleFunc("GET /ws", realtime.ServeWS(hub, service, logger.L()))
	mux.HandleFunc("GET /readyz", checker.ReadyHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	logger.Info("api listening", "addr", cfg.HTTPAddress)
	if err := http.ListenAndServe(cfg.HTTPAddress, mux); err != nil {
		logger.Fatal("server error", "err", err)
	}
}
