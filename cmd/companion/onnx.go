//go:build onnx

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/onnx"
)

func newONNXEmbedder(c config.EmbedderConfig, logger *zap.Logger) (memory.Embedder, error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:     c.ModelPath,
		TokenizerPath: c.TokenizerPath,
		LibraryPath:   c.LibraryPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating onnx embedder: %w", err)
	}
	logger.Info("using onnx embedder", zap.String("model", c.ModelPath))
	return e, nil
}
