package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"xquote/internal/infrastructure/config"
	"xquote/internal/infrastructure/logger"
	"xquote/internal/infrastructure/svc"
	"xquote/internal/interfaces/console"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	symbol := flag.String("symbol", "", "trading pair to track on start (overrides app.initial_symbol)")
	flag.Parse()

	logger.Setup("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	trk := sc.Tracker()
	view := console.NewView(trk, sc.Sink, sc.Whitelist().IDs())
	selector := console.NewSelector(os.Stdin, os.Stdout, cfg.Symbols.Watchlist, trk)

	runDone := make(chan error, 1)
	go func() { runDone <- trk.Run(ctx) }()

	viewDone := make(chan struct{})
	go func() {
		defer close(viewDone)
		_ = view.Run(ctx)
	}()

	log.Info().
		Str("config", *configPath).
		Str("server", cfg.Server.BaseURL).
		Int("watchlist", len(cfg.Symbols.Watchlist)).
		Msg("xquote started")

	initial := cfg.App.InitialSymbol
	if s := strings.TrimSpace(*symbol); s != "" {
		initial = s
	}
	if initial != "" {
		_ = selector.Submit(ctx, initial)
	}

	// stdin 关闭或输入 quit 时退出
	go func() {
		if err := selector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("selector exited")
		}
		stop()
	}()

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("tracker exited")
	}
	<-viewDone
}
