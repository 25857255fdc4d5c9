package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kimseongmin3790/gclip-relay/internal/api"
	"github.com/Kimseongmin3790/gclip-relay/internal/config"
	"github.com/Kimseongmin3790/gclip-relay/internal/database"
	"github.com/Kimseongmin3790/gclip-relay/internal/events"
	"github.com/Kimseongmin3790/gclip-relay/internal/server"
	"github.com/Kimseongmin3790/gclip-relay/internal/stats"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.New(os.Stderr, "[gclip] ", log.LstdFlags)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal("config: ", err)
	}

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var guard server.Guard = server.NopGuard{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Printf("redis ping: %v; fan-out claims will fall back to the database", err)
		}
		guard = server.NewRedisGuard(rdb)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer := server.NewChatServer(logger, dbConn, statsUpdater, guard, server.Options{
		HistoryLimit:    cfg.Relay.HistoryLimit,
		DBTimeout:       cfg.Relay.DBTimeout,
		RoomIdleTimeout: cfg.Relay.RoomIdleTimeout,
		DedupTTL:        cfg.Relay.DedupTTL,
	})
	go chatServer.Run()

	app := api.NewRelayApp(mux, logger, chatServer, dbConn, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := events.NewConsumer(logger, cfg.Kafka, chatServer.Notifier(), cfg.Relay.DBTimeout)
		if err != nil {
			logger.Fatal("kafka: ", err)
		}
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		logger.Println("shutting down chat server...")
		if err := chatServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Println("exit:", err)
		os.Exit(1)
	}

	logger.Println("shutdown complete")
}
