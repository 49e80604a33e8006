package memory

import (
	"context"

	"github.com/becomeliminal/nim-companion/core"
)

// Store is the semantic storage backend interface.
// Implementations: chromem (embedded), chroma (REST), qdrant (gRPC).
//
// Every collection is addressed through the same three operations. Search
// returns documents by descending similarity and never fails on zero
// matches; DeleteWhere matching nothing is a no-op.
type Store interface {
	// Add stores a document. Implementations assign an ID when doc.ID is empty.
	Add(ctx context.Context, collection core.Collection, doc core.Document) error

	// Search returns up to k documents matching filter, most similar first.
	Search(ctx context.Context, collection core.Collection, query string, k int, filter core.Filter) ([]core.Document, error)

	// DeleteWhere removes every document matching filter.
	DeleteWhere(ctx context.Context, collection core.Collection, filter core.Filter) error

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local), and the chromem-go
// OpenAI/Ollama embedding functions.
//
// Note: Embedder is an implementation detail of Store backends.
// The engine never sees it.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Buffer is the bounded recency buffer of recent turns.
type Buffer interface {
	// Append stores a turn at the tail, trims to the most recent entries
	// and refreshes the expiry.
	Append(ctx context.Context, id string, role core.Role, text string) error

	// Read renders the retained turns as "Role: text" lines. A missing or
	// expired buffer yields "" and no error.
	Read(ctx context.Context, id string) (string, error)
}

// Generator produces text from a prompt. The engine's language model client
// implements it; memory uses it for compaction summaries.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Scheduler runs work off the request path.
type Scheduler interface {
	// Enqueue submits fn. It reports false when the task was dropped.
	Enqueue(name string, fn func(ctx context.Context) error) bool
}
