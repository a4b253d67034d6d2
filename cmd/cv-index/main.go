package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/soundscribe/cvasr/internal/config"
	"github.com/soundscribe/cvasr/internal/manifest"
	"github.com/soundscribe/cvasr/internal/search"
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
		configPath   string
		manifestPath string
		recreate     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&manifestPath, "manifest", "", "Decoded manifest CSV path (overrides config)")
	flag.BoolVar(&recreate, "recreate", false, "Delete and recreate the index when it already exists")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if manifestPath != "" {
		cfg.Decode.ManifestPath = manifestPath
	}
	if err := cfg.Elastic.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid elastic config")
	}

	m, err := manifest.Load(cfg.Decode.ManifestPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load manifest")
	}
	docs := search.DocumentsFromManifest(m)
	log.Info().Int("documents", len(docs)).Msg("manifest prepared for indexing")

	ix, err := search.New(search.Config{
		EndpointURL:     cfg.Elastic.EndpointURL,
		Username:        cfg.Elastic.Username,
		Password:        cfg.Elastic.Password,
		CACertPath:      cfg.Elastic.CACertPath,
		CertFingerprint: cfg.Elastic.CertFingerprint,
		Index:           cfg.Elastic.IndexName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to elasticsearch")
	}

	ctx := context.Background()
	if err := ix.EnsureIndex(ctx, recreate); err != nil {
		if errors.Is(err, search.ErrIndexExists) {
			log.Fatal().Err(err).Msg("pass -recreate to delete and recreate the index")
		}
		log.Fatal().Err(err).Msg("ensure index")
	}

	stats, err := ix.Bulk(ctx, docs)
	if err != nil {
		log.Fatal().Err(err).Msg("bulk load")
	}
	if stats.NumFailed > 0 {
		log.Warn().Uint64("failed", stats.NumFailed).Msg("some documents were rejected")
	}

	count, err := ix.Refresh(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("refresh index")
	}
	log.Info().
		Uint64("indexed", stats.NumFlushed).
		Int64("count", count).
		Str("index", cfg.Elastic.IndexName).
		Msg("data successfully indexed")
}
