package chromem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

// ErrEmptyFilter is returned by DeleteWhere when no filter clause is given.
var ErrEmptyFilter = errors.New("delete requires at least one filter clause")

// Config configures the chromem store.
type Config struct {
	// Path persists collections under this directory. Empty keeps
	// everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
type ChromemStore struct {
	db          *chromem.DB
	embed       chromem.EmbeddingFunc
	collections map[core.Collection]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

var _ memory.Store = (*ChromemStore)(nil)

// New creates a chromem-based store that embeds documents and queries with embed.
func New(cfg Config, embed chromem.EmbeddingFunc, logger *zap.Logger) (*ChromemStore, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db := chromem.NewDB()
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open persistent db: %w", err)
		}
	}

	return &ChromemStore{
		db:          db,
		embed:       embed,
		collections: make(map[core.Collection]*chromem.Collection),
		logger:      logger.Named("chromem"),
	}, nil
}

// EmbeddingFunc adapts a memory.Embedder to chromem's embedding func.
func EmbeddingFunc(e memory.Embedder) chromem.EmbeddingFunc {
	return e.Embed
}

// getOrCreateCollection returns the chromem collection backing name.
func (s *ChromemStore) getOrCreateCollection(name core.Collection) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(string(name), nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}

	s.collections[name] = col
	return col, nil
}

// Add stores a document, embedding its content. A document with the same ID
// is replaced.
func (s *ChromemStore) Add(ctx context.Context, collection core.Collection, doc core.Document) error {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return err
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: copyMeta(doc.Metadata),
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.logger.Debug("stored document",
		zap.String("collection", string(collection)),
		zap.String("id", doc.ID),
	)
	return nil
}

// Search returns up to k documents matching filter, most similar first.
func (s *ChromemStore) Search(ctx context.Context, collection core.Collection, query string, k int, filter core.Filter) ([]core.Document, error) {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem-go requires 0 < nResults <= collection size
	count := col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	// The collection can shrink between Count and Query; retry with
	// smaller limits if necessary.
	var results []chromem.Result
	for limit := k; limit >= 1; limit-- {
		results, err = col.Query(ctx, query, limit, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	docs := make([]core.Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, core.Document{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: copyMeta(r.Metadata),
		})
	}

	s.logger.Debug("queried collection",
		zap.String("collection", string(collection)),
		zap.Int("limit", k),
		zap.Int("results", len(docs)),
	)
	return docs, nil
}

// DeleteWhere removes every document matching filter.
func (s *ChromemStore) DeleteWhere(ctx context.Context, collection core.Collection, filter core.Filter) error {
	if len(filter) == 0 {
		return ErrEmptyFilter
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, map[string]string(filter), nil); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go writes through on every add, nothing to flush
	return nil
}

func copyMeta(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// isInsufficientDocsError checks if error is due to insufficient documents.
func isInsufficientDocsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
