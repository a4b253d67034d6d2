//go:build whisper_cpp

package asr

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"
)

type cppEngine struct {
	model    whisperpkg.Model
	threads  uint
	language string
	mu       sync.Mutex // the model is not safe for concurrent contexts
}

func NewEngine(modelPath, language string) (Engine, error) {
	threads := uint(runtime.NumCPU())
	if v := os.Getenv("WHISPER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			threads = uint(n)
		}
	}
	if language == "" {
		language = "auto"
	}

	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	log.Info().Str("model", modelPath).Str("language", language).Uint("threads", threads).
		Msg("whisper: model loaded")

	return &cppEngine{model: m, threads: threads, language: language}, nil
}

func (e *cppEngine) Close() error {
	if e.model != nil {
		e.model.Close()
	}
	return nil
}

func (e *cppEngine) Transcribe(samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	ctx.SetThreads(e.threads)
	_ = ctx.SetLanguage(e.language)
	ctx.SetSplitOnWord(true)
	ctx.SetMaxSegmentLength(0)
	ctx.SetMaxTokensPerSegment(0)
	ctx.SetAudioCtx(0)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("whisper: error reading segment")
			}
			break
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}
	return strings.Join(segments, " "), nil
}
