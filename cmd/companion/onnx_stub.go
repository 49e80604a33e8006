//go:build !onnx

package main

import (
	"errors"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
)

func newONNXEmbedder(config.EmbedderConfig, *zap.Logger) (memory.Embedder, error) {
	return nil, errors.New("onnx embedder not available: rebuild with -tags onnx")
}
