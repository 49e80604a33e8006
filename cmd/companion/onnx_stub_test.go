//go:build !onnx

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
)

func TestNewEmbedder_ONNXRequiresBuildTag(t *testing.T) {
	_, err := newEmbedder(context.Background(), config.EmbedderConfig{Provider: config.EmbedderONNX}, zap.NewNop())
	assert.ErrorContains(t, err, "-tags onnx")
}
