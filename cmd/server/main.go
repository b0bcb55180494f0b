package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/auth"
	"github.com/teamspace/huddle/internal/config"
	"github.com/teamspace/huddle/internal/history"
	"github.com/teamspace/huddle/internal/httpapi"
	"github.com/teamspace/huddle/internal/presence"
	"github.com/teamspace/huddle/internal/room"
	signalws "github.com/teamspace/huddle/internal/signal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var sink room.SummarySink
	if cfg.HistoryDSN != "" {
		h, err := history.Open(cfg.HistoryDSN)
		if err != nil {
			log.Error().Err(err).Msg("history store unavailable, summaries disabled")
		} else {
			sink = h
		}
	}

	rooms := room.NewStore(room.Options{
		ReconnectGrace:  cfg.ReconnectGrace,
		EmptyGrace:      cfg.EmptyGrace,
		MaxParticipants: cfg.MaxParticipants,
		History:         sink,
	})
	registry := presence.NewRegistry()
	ctl := signalws.NewController(registry, rooms, cfg.SendBuffer, cfg.ReadLimit)
	rooms.SetEndNotifier(ctl.OnRoomEnded)

	tokens := auth.NewTokenManager(cfg.Secret, cfg.TokenTTL)
	r := httpapi.SetupRouter(ctx, cfg, rooms, ctl, tokens)
	addr := fmt.Sprintf(":%d", cfg.Port)

	go rooms.RunJanitor(ctx, cfg.JanitorInterval)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle meeting server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
