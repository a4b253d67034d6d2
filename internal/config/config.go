package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config bundles the configuration for all three commands. Each command only
// validates the section it uses.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Decode  DecodeConfig  `yaml:"decode"`
	Elastic ElasticConfig `yaml:"elastic"`
}

// ServerConfig configures the ASR HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

// DecodeConfig configures the batch transcription client.
type DecodeConfig struct {
	InferenceURL   string `yaml:"inference_url"`
	PingURL        string `yaml:"ping_url"`
	AudioDir       string `yaml:"audio_dir"`
	ManifestPath   string `yaml:"manifest_path"`
	TCPLimit       int    `yaml:"tcp_limit"`       // max simultaneous connections to the endpoint
	SemaphoreLimit int    `yaml:"semaphore_limit"` // max logically in-flight requests
	TimeoutSec     int    `yaml:"timeout"`         // per-request total timeout, seconds
	Strict         bool   `yaml:"strict"`          // non-zero exit when any file fails
}

// ElasticConfig configures the search indexer.
type ElasticConfig struct {
	EndpointURL     string `yaml:"endpoint_url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	CACertPath      string `yaml:"ca_cert_path"`
	CertFingerprint string `yaml:"cert_fingerprint"`
	IndexName       string `yaml:"index_name"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8001",
			ModelPath: "./models/ggml-base.en.bin",
			Language:  "en",
		},
		Decode: DecodeConfig{
			InferenceURL:   "http://localhost:8001/asr",
			PingURL:        "http://localhost:8001/ping",
			AudioDir:       "./cv-valid-dev",
			ManifestPath:   "./cv-valid-dev.csv",
			TCPLimit:       100,
			SemaphoreLimit: 50,
			TimeoutSec:     600,
		},
		Elastic: ElasticConfig{
			EndpointURL: "https://localhost:9200",
			IndexName:   "cv-transcriptions",
		},
	}
}

// Load reads the YAML config at path, layered over Default. An empty path
// yields the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getenv("ASR_SERVER_ADDR", c.Server.Addr)
	c.Server.ModelPath = getenv("ASR_MODEL_PATH", c.Server.ModelPath)
	c.Decode.InferenceURL = getenv("ASR_INFERENCE_URL", c.Decode.InferenceURL)
	c.Decode.PingURL = getenv("ASR_PING_URL", c.Decode.PingURL)
	c.Decode.TCPLimit = getenvInt("ASR_TCP_LIMIT", c.Decode.TCPLimit)
	c.Decode.SemaphoreLimit = getenvInt("ASR_SEMAPHORE_LIMIT", c.Decode.SemaphoreLimit)
	c.Decode.TimeoutSec = getenvInt("ASR_TIMEOUT", c.Decode.TimeoutSec)
	c.Elastic.Username = getenv("ELASTIC_USERNAME", c.Elastic.Username)
	c.Elastic.Password = getenv("ELASTIC_PASSWORD", c.Elastic.Password)
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}
	return nil
}

// Validate validates batch client configuration.
func (d *DecodeConfig) Validate() error {
	if d.InferenceURL == "" {
		return fmt.Errorf("inference_url cannot be empty")
	}
	if d.PingURL == "" {
		return fmt.Errorf("ping_url cannot be empty")
	}
	if d.TCPLimit < 1 {
		return fmt.Errorf("tcp_limit must be at least 1, got %d", d.TCPLimit)
	}
	if d.SemaphoreLimit < 1 {
		return fmt.Errorf("semaphore_limit must be at least 1, got %d", d.SemaphoreLimit)
	}
	if d.SemaphoreLimit > d.TCPLimit {
		return fmt.Errorf("semaphore_limit (%d) must not exceed tcp_limit (%d)", d.SemaphoreLimit, d.TCPLimit)
	}
	if d.TimeoutSec < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.TimeoutSec)
	}
	return nil
}

// Validate validates indexer configuration.
func (e *ElasticConfig) Validate() error {
	if e.EndpointURL == "" {
		return fmt.Errorf("endpoint_url cannot be empty")
	}
	if e.IndexName == "" {
		return fmt.Errorf("index_name cannot be empty")
	}
	return nil
}
