// Package config loads service configuration from an optional YAML file,
// .env files and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Vector store backends.
const (
	BackendChromem = "chromem"
	BackendChroma  = "chroma"
	BackendQdrant  = "qdrant"
)

// Embedding providers.
const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"
	EmbedderONNX   = "onnx"
)

// Config is the full service configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	Debug    bool   `yaml:"debug"`
	Language string `yaml:"language"`
	BotName  string `yaml:"bot_name"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	Redis     RedisConfig     `yaml:"redis"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Memory    MemoryConfig    `yaml:"memory"`
	Server    ServerConfig    `yaml:"server"`
}

// AnthropicConfig selects the models for each kind of generation.
type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	ChatModel    string `yaml:"chat_model"`
	SummaryModel string `yaml:"summary_model"` // query rewriting and compaction
	FactModel    string `yaml:"fact_model"`
}

// RedisConfig configures the recency buffer.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	BufferSize   int           `yaml:"buffer_size"`
	BufferTTL    time.Duration `yaml:"buffer_ttl"`
	TurnMaxChars int           `yaml:"turn_max_chars"`
}

// VectorConfig selects and configures the semantic store.
type VectorConfig struct {
	Backend      string `yaml:"backend"`
	ChromemPath  string `yaml:"chromem_path"`
	ChromaURL    string `yaml:"chroma_url"`
	ChromaToken  string `yaml:"chroma_token"`
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OpenAIKey     string `yaml:"openai_api_key"`
	OllamaURL     string `yaml:"ollama_url"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
}

// MemoryConfig configures long-term memory compaction.
type MemoryConfig struct {
	CompactionThreshold int `yaml:"compaction_threshold"`
	CompactionScanLimit int `yaml:"compaction_scan_limit"`
}

// ServerConfig configures the HTTP surface and background work.
type ServerConfig struct {
	MaxMessageChars int `yaml:"max_message_chars"`
	Workers         int `yaml:"workers"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Language: "Vietnamese",
		BotName:  "Companion",
		Anthropic: AnthropicConfig{
			ChatModel:    "claude-sonnet-4-20250514",
			SummaryModel: "claude-3-5-haiku-latest",
			FactModel:    "claude-sonnet-4-20250514",
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			BufferSize:   20,
			BufferTTL:    time.Hour,
			TurnMaxChars: 800,
		},
		Vector: VectorConfig{
			Backend:    BackendChromem,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Embedder: EmbedderConfig{
			Provider:  EmbedderHash,
			OllamaURL: "http://localhost:11434/api",
		},
		Memory: MemoryConfig{
			CompactionThreshold: 50,
			CompactionScanLimit: 100,
		},
		Server: ServerConfig{
			MaxMessageChars: 800,
			Workers:         3,
		},
	}
}

// Load builds the configuration. path is an optional YAML file (environment
// references in it are expanded); envFiles default to ".env" and missing
// ones are skipped. Environment variables override both.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot start the service.
func (c *Config) Validate() error {
	var errs []error
	if c.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("ANTHROPIC_API_KEY is required"))
	}
	switch c.Vector.Backend {
	case BackendChromem:
	case BackendChroma:
		if c.Vector.ChromaURL == "" {
			errs = append(errs, errors.New("CHROMA_URL is required for the chroma backend"))
		}
	case BackendQdrant:
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.Vector.Backend))
	}
	switch c.Embedder.Provider {
	case EmbedderHash, EmbedderOllama:
	case EmbedderOpenAI:
		if c.Embedder.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai embedder"))
		}
	case EmbedderONNX:
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			errs = append(errs, errors.New("ONNX_MODEL_PATH and ONNX_TOKENIZER_PATH are required for the onnx embedder"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDER %q", c.Embedder.Provider))
	}
	if c.Redis.BufferSize <= 0 {
		errs = append(errs, errors.New("BUFFER_SIZE must be positive"))
	}
	if c.Memory.CompactionThreshold <= 0 || c.Memory.CompactionScanLimit < c.Memory.CompactionThreshold {
		errs = append(errs, errors.New("COMPACTION_SCAN_LIMIT must be at least COMPACTION_THRESHOLD, which must be positive"))
	}
	return errors.Join(errs...)
}

func applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("LISTEN_ADDR", &c.Listen)
	str("LANGUAGE", &c.Language)
	str("BOT_NAME", &c.BotName)
	if v, ok := os.LookupEnv("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEBUG: %w", err))
		}
		c.Debug = b
	}

	str("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	str("ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)
	str("CHAT_MODEL", &c.Anthropic.ChatModel)
	str("SUMMARY_MODEL", &c.Anthropic.SummaryModel)
	str("FACT_MODEL", &c.Anthropic.FactModel)

	str("REDIS_URL", &c.Redis.URL)
	num("BUFFER_SIZE", &c.Redis.BufferSize)
	num("TURN_MAX_CHARS", &c.Redis.TurnMaxChars)
	if v, ok := os.LookupEnv("BUFFER_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BUFFER_TTL: %w", err))
		}
		c.Redis.BufferTTL = d
	}

	str("VECTOR_BACKEND", &c.Vector.Backend)
	str("CHROMEM_PATH", &c.Vector.ChromemPath)
	str("CHROMA_URL", &c.Vector.ChromaURL)
	str("CHROMA_TOKEN", &c.Vector.ChromaToken)
	str("QDRANT_HOST", &c.Vector.QdrantHost)
	num("QDRANT_PORT", &c.Vector.QdrantPort)
	str("QDRANT_API_KEY", &c.Vector.QdrantAPIKey)

	str("EMBEDDER", &c.Embedder.Provider)
	str("EMBEDDING_MODEL", &c.Embedder.Model)
	str("OPENAI_API_KEY", &c.Embedder.OpenAIKey)
	str("OLLAMA_URL", &c.Embedder.OllamaURL)
	str("ONNX_MODEL_PATH", &c.Embedder.ModelPath)
	str("ONNX_TOKENIZER_PATH", &c.Embedder.TokenizerPath)
	str("ONNX_LIBRARY_PATH", &c.Embedder.LibraryPath)

	num("COMPACTION_THRESHOLD", &c.Memory.CompactionThreshold)
	num("COMPACTION_SCAN_LIMIT", &c.Memory.CompactionScanLimit)
	num("MAX_MESSAGE_CHARS", &c.Server.MaxMessageChars)
	num("WORKERS", &c.Server.Workers)

	return errors.Join(errs...)
}
