package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Budgets   BudgetConfig    `yaml:"budgets"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Session   SessionConfig   `yaml:"session"`
	Providers ProviderConfig  `yaml:"providers"`
	Languages []string        `yaml:"languages"`
	StoragePath string        `yaml:"storage_path"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SegmenterConfig struct {
	// PauseThreshold is the silence duration that finalizes an utterance.
	PauseThreshold time.Duration `yaml:"pause_threshold"`
	// MaxUtterance forces emission during a long monologue.
	MaxUtterance time.Duration `yaml:"max_utterance"`
	// ChunkQueueSize bounds the ingest channel per direction.
	ChunkQueueSize int `yaml:"chunk_queue_size"`
}

type BudgetConfig struct {
	Transcribe time.Duration `yaml:"transcribe"`
	Translate  time.Duration `yaml:"translate"`
	Synthesize time.Duration `yaml:"synthesize"`
	Total      time.Duration `yaml:"total"`
}

type PipelineConfig struct {
	// StageQueueSize bounds the channel between consecutive stages.
	StageQueueSize int `yaml:"stage_queue_size"`
	// ResultQueueSize bounds the per-session result delivery channel.
	ResultQueueSize int `yaml:"result_queue_size"`
	// MaxInFlight caps utterances admitted but not yet emitted per direction.
	MaxInFlight int `yaml:"max_in_flight"`
	// NoiseThreshold triggers the noise-reduction pre-pass before transcription.
	NoiseThreshold float64 `yaml:"noise_threshold"`
	// VoiceThreshold is the RMS level above which a chunk counts as voiced.
	VoiceThreshold float64 `yaml:"voice_threshold"`
	// CacheSize caps the translation cache entry count (0 disables it).
	CacheSize int `yaml:"cache_size"`
}

type SessionConfig struct {
	// IdleTimeout force-ends a session that stops sending chunks.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// ReapInterval is how often the manager scans for idle sessions.
	ReapInterval time.Duration `yaml:"reap_interval"`
	// DrainTimeout bounds how long EndSession waits for in-flight work.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type ProviderConfig struct {
	Transcribers []string `yaml:"transcribers"`
	Translators  []string `yaml:"translators"`
	Synthesizers []string `yaml:"synthesizers"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Segmenter: SegmenterConfig{
			PauseThreshold: 2000 * time.Millisecond,
			MaxUtterance:   15 * time.Second,
			ChunkQueueSize: 256,
		},
		Budgets: BudgetConfig{
			Transcribe: 2 * time.Second,
			Translate:  1 * time.Second,
			Synthesize: 2 * time.Second,
			Total:      5 * time.Second,
		},
		Pipeline: PipelineConfig{
			StageQueueSize:  16,
			ResultQueueSize: 64,
			MaxInFlight:     32,
			NoiseThreshold:  0.6,
			VoiceThreshold:  0.02,
			CacheSize:       1024,
		},
		Session: SessionConfig{
			IdleTimeout:  2 * time.Minute,
			ReapInterval: 15 * time.Second,
			DrainTimeout: 30 * time.Second,
		},
		Providers: ProviderConfig{
			Transcribers: []string{"stub-transcriber"},
			Translators:  []string{"stub-translator"},
			Synthesizers: []string{"stub-synthesizer"},
		},
		Languages:   []string{"en", "es", "fr", "de", "hi", "ja", "zh"},
		StoragePath: "./data",
	}
}

// Load reads configuration in layers: built-in defaults, then an
// optional yaml file, then a .env file for provider credentials.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	guess := []string{
		os.Getenv("CONFIG_FILE"),
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
	for _, p := range guess {
		if p == "" {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		break
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Budgets.Total < c.Budgets.Transcribe ||
		c.Budgets.Total < c.Budgets.Translate ||
		c.Budgets.Total < c.Budgets.Synthesize {
		return fmt.Errorf("end-to-end budget %s is smaller than a stage budget", c.Budgets.Total)
	}
	if c.Segmenter.PauseThreshold <= 0 {
		return fmt.Errorf("pause threshold must be positive")
	}
	if c.Segmenter.ChunkQueueSize <= 0 || c.Pipeline.StageQueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one supported language is required")
	}
	return nil
}

// Supports reports whether lang is a configured language code.
func (c *Config) Supports(lang string) bool {
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
