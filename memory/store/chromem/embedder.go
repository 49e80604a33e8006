package chromem

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-companion/memory"
)

// FuncEmbedder adapts a chromem embedding func (OpenAI, Ollama, ...) to
// memory.Embedder so the remote stores can share it.
type FuncEmbedder struct {
	fn   chromem.EmbeddingFunc
	dims int
}

var _ memory.Embedder = (*FuncEmbedder)(nil)

// NewFuncEmbedder wraps fn, embedding one probe text to learn the vector size.
func NewFuncEmbedder(ctx context.Context, fn chromem.EmbeddingFunc) (*FuncEmbedder, error) {
	vec, err := fn(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("probe embedding dimensions: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("probe embedding dimensions: empty vector")
	}
	return &FuncEmbedder{fn: fn, dims: len(vec)}, nil
}

// Embed converts text to an embedding.
func (e *FuncEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.fn(ctx, text)
}

// Dimensions returns the probed vector size.
func (e *FuncEmbedder) Dimensions() int {
	return e.dims
}
