package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/soundscribe/cvasr/internal/config"
	"github.com/soundscribe/cvasr/internal/manifest"
	"github.com/soundscribe/cvasr/internal/transcribe"
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
		audioDir     string
		inferenceURL string
		pingURL      string
		strict       bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&manifestPath, "manifest", "", "Manifest CSV path (overrides config)")
	flag.StringVar(&audioDir, "audio-dir", "", "Directory holding the .mp3 files (overrides config)")
	flag.StringVar(&inferenceURL, "inference-url", "", "Transcription endpoint URL (overrides config)")
	flag.StringVar(&pingURL, "ping-url", "", "Health probe URL (overrides config)")
	flag.BoolVar(&strict, "strict", false, "Exit non-zero when any file fails to transcribe")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if manifestPath != "" {
		cfg.Decode.ManifestPath = manifestPath
	}
	if audioDir != "" {
		cfg.Decode.AudioDir = audioDir
	}
	if inferenceURL != "" {
		cfg.Decode.InferenceURL = inferenceURL
	}
	if pingURL != "" {
		cfg.Decode.PingURL = pingURL
	}
	if strict {
		cfg.Decode.Strict = true
	}
	if err := cfg.Decode.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid decode config")
	}

	failures, err := run(cfg.Decode)
	if err != nil {
		log.Fatal().Err(err).Msg("batch run failed")
	}
	os.Exit(exitCode(failures, cfg.Decode.Strict))
}

// exitCode maps the failure count to the process exit status. Per-file
// failures are tolerated unless strict mode is on.
func exitCode(failures int, strict bool) int {
	if failures > 0 && strict {
		return 1
	}
	return 0
}

func run(cfg config.DecodeConfig) (failures int, err error) {
	start := time.Now()

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return 0, err
	}
	log.Info().Int("rows", m.Len()).Str("manifest", cfg.ManifestPath).Msg("manifest loaded")

	if err := m.CheckAudioFiles(cfg.AudioDir); err != nil {
		return 0, err
	}
	log.Info().Str("dir", cfg.AudioDir).Msg("no missing .mp3 files")

	client, err := transcribe.NewClient(transcribe.Config{
		InferenceURL:   cfg.InferenceURL,
		PingURL:        cfg.PingURL,
		TCPLimit:       cfg.TCPLimit,
		SemaphoreLimit: cfg.SemaphoreLimit,
		Timeout:        time.Duration(cfg.TimeoutSec) * time.Second,
	})
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		return 0, err
	}
	log.Info().Str("url", cfg.PingURL).Msg("health check ok")

	bar := progressbar.NewOptions(m.Len(),
		progressbar.OptionSetDescription("Transcribing .mp3 files"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
	results := client.TranscribeAll(ctx, cfg.AudioDir, m.FileRefs(), func(transcribe.Result) {
		_ = bar.Add(1)
	})
	log.Info().Int("tasks", len(results)).Msg("completed transcription tasks")

	for i, res := range results {
		if res.Failed() {
			failures++
			m.SetResult(i, res.Sentinel(), res.Sentinel())
			continue
		}
		m.SetResult(i, res.Transcription, fmt.Sprintf("%.2f", res.Duration))
	}

	if err := m.Write(cfg.ManifestPath); err != nil {
		return failures, err
	}
	log.Info().
		Int("succeeded", m.Len()-failures).
		Int("failed", failures).
		Dur("elapsed", time.Since(start)).
		Str("manifest", cfg.ManifestPath).
		Msg("results written")
	return failures, nil
}
