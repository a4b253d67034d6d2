package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/soundscribe/cvasr/internal/audio"
)

const wsReadDeadline = 60 * time.Second

type wsControl struct {
	Type string `json:"type"`
}

type wsTranscript struct {
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

type wsError struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// handleWS runs a streaming transcription session. Binary frames carry
// PCM16LE mono at 16 kHz and are appended to the session buffer; a
// {"type":"flush"} text frame finalizes the buffer through the engine and
// sends back one transcript message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	s.metrics.ActiveWebsockets.Inc()
	defer s.metrics.ActiveWebsockets.Dec()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	var samples []float32
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("ws read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		switch msgType {
		case websocket.BinaryMessage:
			pcm, err := audio.DecodePCM16(data)
			if err != nil {
				_ = conn.WriteJSON(wsError{Type: "error", Detail: err.Error()})
				continue
			}
			samples = append(samples, pcm...)

		case websocket.TextMessage:
			var ctl wsControl
			if err := json.Unmarshal(data, &ctl); err != nil || ctl.Type != "flush" {
				_ = conn.WriteJSON(wsError{Type: "error", Detail: "expected {\"type\":\"flush\"}"})
				continue
			}
			text, err := s.engine.Transcribe(samples)
			if err != nil {
				log.Error().Err(err).Msg("ws inference failed")
				_ = conn.WriteJSON(wsError{Type: "error", Detail: fmt.Sprintf("transcription failed: %v", err)})
				samples = samples[:0]
				continue
			}
			duration := audio.Duration(len(samples), audio.EngineSampleRate)
			s.metrics.AudioSeconds.Add(duration)
			_ = conn.WriteJSON(wsTranscript{Type: "transcript", Text: text, Duration: duration})
			samples = samples[:0]
		}
	}
}
