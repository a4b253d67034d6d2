// Package asr wraps the speech-recognition model behind a small interface so
// the HTTP server can be built and tested without the native inference
// library (build tag: whisper_cpp).
package asr

// Engine transcribes mono float32 PCM sampled at 16 kHz.
type Engine interface {
	// Transcribe runs a full pass over the samples and returns the text.
	Transcribe(samples []float32) (string, error)
	Close() error
}
