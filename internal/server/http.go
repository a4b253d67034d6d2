// Package server implements the HTTP surface of the ASR service: a liveness
// endpoint, the transcription endpoint, a streaming websocket, and metrics.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/soundscribe/cvasr/internal/asr"
	"github.com/soundscribe/cvasr/internal/audio"
	"github.com/soundscribe/cvasr/internal/metrics"
)

// maxUploadBytes caps a single /asr upload. Common Voice clips are a few
// hundred KB; 50 MB leaves room for long recordings.
const maxUploadBytes = 50 << 20

type Server struct {
	engine   asr.Engine
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func New(engine asr.Engine, m *metrics.Metrics) *Server {
	return &Server{
		engine:  engine,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// Router returns the service mux.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/asr", s.handleASR)
	mux.HandleFunc("/ws/transcribe", s.handleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, format string, a ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, a...)})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.metrics.RequestsTotal.WithLabelValues("ping").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleASR(w http.ResponseWriter, r *http.Request) {
	s.metrics.RequestsTotal.WithLabelValues("asr").Inc()
	if r.Method != http.MethodPost {
		s.metrics.RequestFailures.WithLabelValues("asr", "405").Inc()
		writeDetail(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
		return
	}

	reqID := uuid.NewString()
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.metrics.RequestFailures.WithLabelValues("asr", "400").Inc()
		writeDetail(w, http.StatusBadRequest, "missing form field 'file'")
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		s.metrics.RequestFailures.WithLabelValues("asr", "400").Inc()
		writeDetail(w, http.StatusBadRequest, "read upload: %v", err)
		return
	}

	samples, rate, err := audio.Decode(blob)
	if err != nil {
		log.Warn().Str("req", reqID).Str("file", header.Filename).Err(err).Msg("reject upload")
		s.metrics.RequestFailures.WithLabelValues("asr", "400").Inc()
		writeDetail(w, http.StatusBadRequest, "unsupported or undecodable audio file")
		return
	}
	duration := audio.Duration(len(samples), rate)
	samples = audio.Resample(samples, rate, audio.EngineSampleRate)

	inferStart := time.Now()
	text, err := s.engine.Transcribe(samples)
	if err != nil {
		log.Error().Str("req", reqID).Str("file", header.Filename).Err(err).Msg("inference failed")
		s.metrics.RequestFailures.WithLabelValues("asr", "500").Inc()
		writeDetail(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	s.metrics.InferenceDuration.Observe(time.Since(inferStart).Seconds())
	s.metrics.AudioSeconds.Add(duration)

	log.Info().
		Str("req", reqID).
		Str("file", header.Filename).
		Float64("audio_seconds", duration).
		Dur("elapsed", time.Since(start)).
		Msg("transcribed")

	writeJSON(w, http.StatusOK, map[string]string{
		"transcription": text,
		"duration":      fmt.Sprintf("%.2f seconds", duration),
	})
}
