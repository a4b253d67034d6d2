// Package transcribe implements the HTTP client side of the transcription
// pipeline: a liveness probe against the remote endpoint and a
// semaphore-bounded concurrent dispatcher that posts one audio file per
// request and collects per-file results without aborting the batch on
// individual failures.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrEndpointDown is returned by Ping when the remote endpoint is not
// reachable or does not acknowledge the probe.
var ErrEndpointDown = errors.New("transcription endpoint unavailable")

// Config contains transcription client configuration.
type Config struct {
	InferenceURL   string
	PingURL        string
	TCPLimit       int           // transport-level connection ceiling
	SemaphoreLimit int           // application-level in-flight ceiling
	Timeout        time.Duration // per-request total timeout
	PingTimeout    time.Duration // health check deadline, much shorter than Timeout
}

// Client issues transcription requests against a remote ASR endpoint.
//
// Two independent limits bound the fan-out: the transport caps simultaneous
// connections to the host, and a counting semaphore caps logically in-flight
// requests. The semaphore is the primary admission control; the endpoint is
// a single inference process and saturates long before the connection pool
// does.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
}

// Result is the outcome of one file's transcription request. Either
// Transcription/Duration are set, or Err is non-nil.
type Result struct {
	FileRef       string
	Transcription string
	Duration      float64
	Err           error
}

// Failed reports whether the request did not produce a transcription.
func (r Result) Failed() bool { return r.Err != nil }

// Sentinel returns the marker written into the output manifest for a failed
// row, e.g. "Error: 500" or "Error: timeout".
func (r Result) Sentinel() string {
	if r.Err == nil {
		return ""
	}
	var se statusError
	if errors.As(r.Err, &se) {
		return fmt.Sprintf("Error: %d", se.status)
	}
	if errors.Is(r.Err, context.DeadlineExceeded) || os.IsTimeout(r.Err) {
		return "Error: timeout"
	}
	return "Error: request failed"
}

type statusError struct {
	status int
	detail string
}

func (e statusError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("http %d: %s", e.status, e.detail)
	}
	return fmt.Sprintf("http %d", e.status)
}

// NewClient creates a transcription client. Zero limits fall back to the
// documented defaults (100 connections, 50 in flight, 600s timeout).
func NewClient(config Config) (*Client, error) {
	if config.InferenceURL == "" {
		return nil, fmt.Errorf("inference URL cannot be empty")
	}
	if config.PingURL == "" {
		return nil, fmt.Errorf("ping URL cannot be empty")
	}
	if config.TCPLimit <= 0 {
		config.TCPLimit = 100
	}
	if config.SemaphoreLimit <= 0 {
		config.SemaphoreLimit = 50
	}
	if config.Timeout <= 0 {
		config.Timeout = 600 * time.Second
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 10 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxConnsPerHost:     config.TCPLimit,
			MaxIdleConns:        config.TCPLimit,
			MaxIdleConnsPerHost: config.SemaphoreLimit,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.SemaphoreLimit),
	}, nil
}

// Ping sends one liveness probe. It passes only on HTTP 200 with the
// expected acknowledgement body; any other outcome wraps ErrEndpointDown.
// This is a fail-fast gate, not a retry loop, so it runs under its own
// short deadline rather than the long per-file request timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.PingURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: probe returned status %d", ErrEndpointDown, resp.StatusCode)
	}
	var ack struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil || ack.Message != "pong" {
		return fmt.Errorf("%w: unexpected probe payload", ErrEndpointDown)
	}
	return nil
}

// Transcribe posts one audio file and returns its result. Admission is
// controlled by the client's semaphore; the call blocks until a slot frees
// up or ctx is done. Errors are captured in the Result, never panics or
// propagation that could take down sibling requests.
func (c *Client) Transcribe(ctx context.Context, fileRef string, audio []byte) Result {
	if err := c.acquire(ctx); err != nil {
		return Result{FileRef: fileRef, Err: err}
	}
	defer c.release()

	return c.post(ctx, fileRef, audio)
}

// acquire blocks until a semaphore slot frees up or ctx is done. It is the
// single admission point for every transcription request.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.semaphore }

func (c *Client) post(ctx context.Context, fileRef string, audio []byte) Result {
	text, duration, err := c.doRequest(ctx, fileRef, audio)
	if err != nil {
		log.Error().Str("file", fileRef).Err(err).Msg("transcription request failed")
		return Result{FileRef: fileRef, Err: err}
	}
	return Result{FileRef: fileRef, Transcription: text, Duration: duration}
}

func (c *Client) doRequest(ctx context.Context, fileRef string, audio []byte) (string, float64, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fw, err := writer.CreateFormFile("file", filepath.Base(fileRef))
	if err != nil {
		return "", 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", 0, fmt.Errorf("write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", 0, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.InferenceURL, &buf)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := ""
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &e) == nil {
			detail = e.Detail
		}
		return "", 0, statusError{status: resp.StatusCode, detail: detail}
	}

	var tr struct {
		Transcription string `json:"transcription"`
		Duration      string `json:"duration"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parse response: %w", err)
	}
	duration, err := parseDuration(tr.Duration)
	if err != nil {
		return "", 0, fmt.Errorf("parse duration %q: %w", tr.Duration, err)
	}
	return tr.Transcription, duration, nil
}

// parseDuration strips the " seconds" suffix the endpoint attaches.
func parseDuration(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "seconds"))
	return strconv.ParseFloat(s, 64)
}

// TranscribeAll dispatches one request per file reference, reading each
// file's bytes from audioDir. Requests launch without waiting on prior
// completions, bounded only by the semaphore; completion order is arbitrary
// but the returned slice is aligned with refs, so each goroutine writes only
// its own slot and no locking is needed. onResult, when non-nil, is called
// once per completed request from the request's goroutine.
func (c *Client) TranscribeAll(ctx context.Context, audioDir string, refs []string, onResult func(Result)) []Result {
	results := make([]Result, len(refs))
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			results[i] = c.transcribeFromDir(ctx, audioDir, ref)
			if onResult != nil {
				onResult(results[i])
			}
		}(i, ref)
	}
	wg.Wait()
	return results
}

// transcribeFromDir reads and posts one file. The read happens under the
// semaphore so at most SemaphoreLimit files are held in memory at once.
func (c *Client) transcribeFromDir(ctx context.Context, audioDir, ref string) Result {
	if err := c.acquire(ctx); err != nil {
		return Result{FileRef: ref, Err: err}
	}
	defer c.release()

	audio, err := os.ReadFile(filepath.Join(audioDir, filepath.Base(ref)))
	if err != nil {
		log.Error().Str("file", ref).Err(err).Msg("read audio file failed")
		return Result{FileRef: ref, Err: err}
	}
	return c.post(ctx, ref, audio)
}
