// Package main provides the room server binary: the websocket coordination
// core for live game rooms.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/parlorgames/parlor/internal/config"
	"github.com/parlorgames/parlor/internal/observability"
	"github.com/parlorgames/parlor/internal/room"
	"github.com/parlorgames/parlor/internal/server"
	"github.com/parlorgames/parlor/internal/storage/postgres"
	"github.com/parlorgames/parlor/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	store := postgres.NewGameStore(pool)
	coord := room.NewCoordinator(store, cfg.Store.CallTimeout, cfg.Socket.SendBuffer, logger)
	socket := ws.NewServer(cfg.Socket, coord, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("roomsocket", socket)
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	logger.Info("room server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("socket_addr", cfg.Socket.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
