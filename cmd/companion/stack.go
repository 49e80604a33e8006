package main

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/mock"
	"github.com/becomeliminal/nim-companion/memory/store/chroma"
	chromemstore "github.com/becomeliminal/nim-companion/memory/store/chromem"
	"github.com/becomeliminal/nim-companion/memory/store/qdrant"
)

// hashDimensions sizes the offline hash embedder.
const hashDimensions = 256

const (
	defaultOpenAIModel = string(chromem.EmbeddingModelOpenAI3Small)
	defaultOllamaModel = "nomic-embed-text"
)

// newEmbedder builds the configured embedding provider.
func newEmbedder(ctx context.Context, c config.EmbedderConfig, logger *zap.Logger) (memory.Embedder, error) {
	switch c.Provider {
	case config.EmbedderHash, "":
		logger.Warn("using the hash embedder, similarity is lexical only")
		return mock.New(hashDimensions), nil

	case config.EmbedderOpenAI:
		model := c.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		fn := chromem.NewEmbeddingFuncOpenAI(c.OpenAIKey, chromem.EmbeddingModelOpenAI(model))
		e, err := chromemstore.NewFuncEmbedder(ctx, fn)
		if err != nil {
			return nil, fmt.Errorf("creating openai embedder: %w", err)
		}
		logger.Info("using openai embedder", zap.String("model", model), zap.Int("dimensions", e.Dimensions()))
		return e, nil

	case config.EmbedderOllama:
		model := c.Model
		if model == "" {
			model = defaultOllamaModel
		}
		fn := chromem.NewEmbeddingFuncOllama(model, c.OllamaURL)
		e, err := chromemstore.NewFuncEmbedder(ctx, fn)
		if err != nil {
			return nil, fmt.Errorf("creating ollama embedder: %w", err)
		}
		logger.Info("using ollama embedder", zap.String("model", model), zap.Int("dimensions", e.Dimensions()))
		return e, nil

	case config.EmbedderONNX:
		return newONNXEmbedder(c, logger)

	default:
		return nil, fmt.Errorf("unknown embedder %q", c.Provider)
	}
}

// newStore builds the configured semantic store on top of embedder.
func newStore(c config.VectorConfig, embedder memory.Embedder, logger *zap.Logger) (memory.Store, error) {
	switch c.Backend {
	case config.BackendChromem, "":
		store, err := chromemstore.New(chromemstore.Config{Path: c.ChromemPath}, chromemstore.EmbeddingFunc(embedder), logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem store: %w", err)
		}
		if c.ChromemPath == "" {
			logger.Info("using in-memory chromem store")
		} else {
			logger.Info("using persistent chromem store", zap.String("path", c.ChromemPath))
		}
		return store, nil

	case config.BackendChroma:
		store, err := chroma.New(chroma.Config{URL: c.ChromaURL, Token: c.ChromaToken}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chroma store: %w", err)
		}
		logger.Info("using chroma store", zap.String("url", c.ChromaURL))
		return store, nil

	case config.BackendQdrant:
		store, err := qdrant.New(qdrant.Config{
			Host:   c.QdrantHost,
			Port:   c.QdrantPort,
			APIKey: c.QdrantAPIKey,
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant store: %w", err)
		}
		logger.Info("using qdrant store", zap.String("host", c.QdrantHost), zap.Int("port", c.QdrantPort))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown vector backend %q", c.Backend)
	}
}

// newAnthropicClient builds the language model client.
func newAnthropicClient(c config.AnthropicConfig) *anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(c.APIKey)}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &client
}
