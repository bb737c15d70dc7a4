package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/config"
	"github.com/dukerupert/giftroulette/internal/database"
	"github.com/dukerupert/giftroulette/internal/handler"
	"github.com/dukerupert/giftroulette/internal/logging"
	"github.com/dukerupert/giftroulette/internal/middleware"
	"github.com/dukerupert/giftroulette/internal/model"
	"github.com/dukerupert/giftroulette/internal/roulette"
	"github.com/dukerupert/giftroulette/internal/server"
	"github.com/dukerupert/giftroulette/internal/store"
	ws "github.com/dukerupert/giftroulette/internal/websocket"
)

const sessionMaxIdle = 24 * time.Hour

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-passphrase" {
		h, err := middleware.HashPassphrase(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash passphrase: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	cat := catalog.Default()
	storeOpts := []store.Option{
		store.WithPollInterval(cfg.Store.PollInterval),
		store.WithLogger(logger.With("component", "store")),
	}
	primary, closer, openErr := openStore(cfg, cat, storeOpts)
	if closer != nil {
		defer closer.Close()
	}

	hub := ws.NewHub(logger)
	var engine *roulette.Engine
	engine = roulette.New(primary, cat,
		roulette.WithStartupTimeout(cfg.StartupTimeout),
		roulette.WithMarker(store.NewSpinMarker(cfg.Offline.MarkerPath)),
		roulette.WithWishPhone(cfg.Wish.Phone),
		roulette.WithLogger(logger),
		roulette.OnSnapshot(func(snap model.Snapshot) {
			hub.Broadcast(handler.GiftStatesMessage(engine, snap))
		}),
		roulette.OnSpin(func(rec model.SpinRecord) {
			hub.Broadcast(handler.SpinStateMessage(engine, rec))
		}),
	)

	startCtx := context.Background()
	if openErr != nil {
		err = engine.StartOffline(startCtx, openErr)
	} else {
		err = engine.Start(startCtx)
	}
	if err != nil {
		logger.Error("start roulette", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := server.New(engine, hub, cfg.Auth.PassphraseHash, logger)

	// No WriteTimeout: WebSocket connections stay open.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limits := srv.RateLimiter().Cleanup()
				sessions := engine.PruneSessions(sessionMaxIdle)
				logger.Debug("cleanup", "rate_limit_keys", limits, "sessions", sessions)
			case <-cleanupDone:
				return
			}
		}
	}()

	go func() {
		logger.Info("gift roulette running",
			"addr", "http://localhost:"+cfg.Port,
			"store", cfg.Store.Driver,
			"offline", engine.Offline(),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(cleanupDone)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// openStore builds the shared store for the configured driver. The returned
// closer releases the underlying connection and may be set even when err is.
func openStore(cfg *config.Config, cat *catalog.Catalog, opts []store.Option) (roulette.GiftStateStore, io.Closer, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.OpenPostgres(cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, store.WithListener(cfg.Store.PostgresURL))
		return store.NewGiftStateStore(db, database.Postgres, cat, opts...), db, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		return store.NewRedisGiftStateStore(client, cat, opts...), client, nil
	default:
		db, err := database.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store.NewGiftStateStore(db, database.SQLite, cat, opts...), db, nil
	}
}

