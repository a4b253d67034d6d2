package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soundscribe/cvasr/internal/asr"
	"github.com/soundscribe/cvasr/internal/config"
	"github.com/soundscribe/cvasr/internal/metrics"
	"github.com/soundscribe/cvasr/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			lvl = l
		}
	}
	log.Logger = log.Level(lvl)

	var (
		configPath string
		addr       string
		modelPath  string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.StringVar(&modelPath, "model", "", "Speech model path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if modelPath != "" {
		cfg.Server.ModelPath = modelPath
	}
	if err := cfg.Server.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid server config")
	}

	engine, err := asr.NewEngine(cfg.Server.ModelPath, cfg.Server.Language)
	if err != nil {
		log.Fatal().Err(err).Str("model", cfg.Server.ModelPath).Msg("load speech engine")
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(engine, metrics.New()).Router(),
		// uploads plus inference can run for minutes
		ReadTimeout:  15 * time.Minute,
		WriteTimeout: 15 * time.Minute,
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("asr server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
