package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr      string `yaml:"addr" validate:"required"`
	APIKeyEnv string `yaml:"api_key_env" validate:"required"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type" validate:"oneof=hashing openai"`
	Dimension int                   `yaml:"dimension" validate:"gt=0"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	TargetSize   int `yaml:"target_size" validate:"gt=0"`
	MinChunkSize int `yaml:"min_chunk_size" validate:"gte=0,ltfield=TargetSize"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" validate:"oneof=flat qdrant"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port" validate:"gte=0,lte=65535"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// GoogleTranslatorConfig configures the Google Translate web endpoint.
type GoogleTranslatorConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// OpenAITranslatorConfig configures chat-completion translation.
type OpenAITranslatorConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// TranslatorConfig selects the translation provider.
type TranslatorConfig struct {
	Type   string                  `yaml:"type" validate:"oneof=google openai none"`
	Google *GoogleTranslatorConfig `yaml:"google,omitempty"`
	OpenAI *OpenAITranslatorConfig `yaml:"openai,omitempty"`
}

// SummarizerConfig configures the corpus summary.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences" validate:"gte=0"`
}

// HistoryConfig configures the ingestion ledger.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	File   string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DataDir     string            `yaml:"data_dir" validate:"required"`
	Server      ServerConfig      `yaml:"server"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Translator  TranslatorConfig  `yaml:"translator"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	History     HistoryConfig     `yaml:"history"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Seconds converts a *_secs field into a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment references like ${VAR} are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/medrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/medrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Resolve loads path when given, otherwise falls back to LoadDefault.
func Resolve(path string) (*AppConfig, string, error) {
	if path == "" {
		return LoadDefault()
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared in struct tags.
func Validate(cfg *AppConfig) error {
	return validate.Struct(cfg)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "medrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		DataDir:     "data",
		Server:      ServerConfig{Addr: ":8000", APIKeyEnv: "API_KEY"},
		Embedder:    EmbedderConfig{Type: "hashing", Dimension: 384},
		Chunker:     ChunkerConfig{TargetSize: 300, MinChunkSize: 50},
		VectorStore: VectorStoreConfig{Type: "flat"},
		Translator:  TranslatorConfig{Type: "google"},
		Summarizer:  SummarizerConfig{MaxSentences: 5},
		History:     HistoryConfig{Enabled: true, Path: filepath.Join("data", "history.db")},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Chunker.TargetSize == 0 {
		cfg.Chunker.TargetSize = 300
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.Host == "" {
			cfg.VectorStore.Qdrant.Host = "localhost"
		}
		if cfg.VectorStore.Qdrant.Port == 0 {
			cfg.VectorStore.Qdrant.Port = 6334
		}
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "medrag"
		}
	}
	switch cfg.Translator.Type {
	case "google":
		if cfg.Translator.Google == nil {
			cfg.Translator.Google = &GoogleTranslatorConfig{}
		}
		if cfg.Translator.Google.BaseURL == "" {
			cfg.Translator.Google.BaseURL = "https://translate.googleapis.com"
		}
		if cfg.Translator.Google.TimeoutSecs == 0 {
			cfg.Translator.Google.TimeoutSecs = 15
		}
	case "openai":
		if cfg.Translator.OpenAI == nil {
			cfg.Translator.OpenAI = &OpenAITranslatorConfig{}
		}
		if cfg.Translator.OpenAI.BaseURL == "" {
			cfg.Translator.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Translator.OpenAI.APIKeyEnv == "" {
			cfg.Translator.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Translator.OpenAI.Model == "" {
			cfg.Translator.OpenAI.Model = "gpt-4o-mini"
		}
		if cfg.Translator.OpenAI.TimeoutSecs == 0 {
			cfg.Translator.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
