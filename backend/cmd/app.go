package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/room-relay/backend/config"
	"github.com/adwski/room-relay/backend/metrics"
	httpServer "github.com/adwski/room-relay/backend/server/http"
	websocketServer "github.com/adwski/room-relay/backend/server/websocket"
	"github.com/adwski/room-relay/backend/service"
	store "github.com/adwski/room-relay/backend/storage/memory"
	"github.com/adwski/room-relay/backend/words"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	names := words.NewDefault()
	if cfg.WordList != "" {
		if names, err = words.NewFromFile(cfg.WordList); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.WordList).Msg("failed to load word list")
		}
	}
	logger.Debug().Int("words", names.Size()).Msg("room name generator ready")

	registry := store.NewRegistry(store.Config{
		Logger:       &logger,
		Names:        names,
		NameAttempts: cfg.NameAttempts,
	})
	m := metrics.New(registry)
	svc := service.NewService(service.Config{
		Registry: registry,
		Logger:   &logger,
	})
	origins := httpServer.NewCORS(cfg.AllowedOrigins)

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Stats:      registry,
		Metrics:    m.Handler(),
		CORS:       origins,
		ListenAddr: cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		RoomService:    svc,
		Metrics:        m,
		Origins:        origins,
		ListenAddr:     cfg.WSListenAddr,
		MaxMessageSize: cfg.MaxMessageSize,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
