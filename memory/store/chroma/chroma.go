// Package chroma provides a semantic store backed by a Chroma server's REST API.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

const apiPrefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"

// Config holds configuration for the Chroma store.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// Token is sent in the X-Chroma-Token header when set.
	Token string

	// Timeout bounds each HTTP request. Default: 60s
	Timeout time.Duration
}

// ChromaStore implements memory.Store against Chroma. Embeddings are computed
// client-side so every backend ranks with the same embedder.
type ChromaStore struct {
	baseURL    string
	token      string
	embedder   memory.Embedder
	httpClient *http.Client
	logger     *zap.Logger

	mu  sync.Mutex
	ids map[core.Collection]string
}

var _ memory.Store = (*ChromaStore)(nil)

// New creates a Chroma store. Collections are created lazily on first use.
func New(c Config, embedder memory.Embedder, logger *zap.Logger) (*ChromaStore, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChromaStore{
		baseURL:    strings.TrimRight(c.URL, "/"),
		token:      c.Token,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: c.Timeout},
		logger:     logger.Named("chroma"),
		ids:        make(map[core.Collection]string),
	}, nil
}

// collectionID resolves (and creates if missing) the Chroma collection ID.
func (s *ChromaStore) collectionID(ctx context.Context, name core.Collection) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[name]; ok {
		return id, nil
	}

	// Try to get existing collection first
	var collection chromaCollection
	status, err := s.do(ctx, http.MethodGet, apiPrefix+"/"+string(name), nil, &collection)
	if err != nil {
		if status != http.StatusNotFound {
			return "", fmt.Errorf("getting collection %q: %w", name, err)
		}

		// Collection doesn't exist, create it
		body := map[string]string{"name": string(name)}
		if _, err := s.do(ctx, http.MethodPost, apiPrefix, body, &collection); err != nil {
			return "", fmt.Errorf("creating collection %q: %w", name, err)
		}
		s.logger.Info("created collection", zap.String("collection", string(name)))
	}

	s.ids[name] = collection.ID
	return collection.ID, nil
}

// Add stores a document with its embedding, replacing any document with the
// same ID.
func (s *ChromaStore) Add(ctx context.Context, collection core.Collection, doc core.Document) error {
	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return err
	}

	embedding, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document: %w", err)
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	req := chromaAddRequest{
		IDs:        []string{doc.ID},
		Embeddings: [][]float32{embedding},
		Metadatas:  []map[string]string{doc.Metadata},
		Documents:  []string{doc.Content},
	}
	if _, err := s.do(ctx, http.MethodPost, apiPrefix+"/"+id+"/upsert", req, nil); err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	s.logger.Debug("added document", zap.String("collection", string(collection)))
	return nil
}

// Search returns up to k documents matching filter, most similar first.
func (s *ChromaStore) Search(ctx context.Context, collection core.Collection, query string, k int, filter core.Filter) ([]core.Document, error) {
	if k <= 0 {
		return nil, nil
	}

	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        k,
		Where:           Where(filter),
		Include:         []string{"documents", "metadatas", "distances"},
	}

	var resp chromaQueryResponse
	if _, err := s.do(ctx, http.MethodPost, apiPrefix+"/"+id+"/query", req, &resp); err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}

	// We only query with one embedding
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	docs := make([]core.Document, 0, len(resp.IDs[0]))
	for i, docID := range resp.IDs[0] {
		d := core.Document{ID: docID, Metadata: map[string]string{}}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			d.Content = *resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			for key, v := range resp.Metadatas[0][i] {
				d.Metadata[key] = fmt.Sprint(v)
			}
		}
		docs = append(docs, d)
	}

	s.logger.Debug("queried collection",
		zap.String("collection", string(collection)),
		zap.Int("results", len(docs)),
	)
	return docs, nil
}

// DeleteWhere removes every document matching filter.
func (s *ChromaStore) DeleteWhere(ctx context.Context, collection core.Collection, filter core.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("delete requires at least one filter clause")
	}

	id, err := s.collectionID(ctx, collection)
	if err != nil {
		return err
	}

	if _, err := s.do(ctx, http.MethodPost, apiPrefix+"/"+id+"/delete", chromaDeleteRequest{Where: Where(filter)}, nil); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Close releases resources held by the store.
func (s *ChromaStore) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

// Where converts a filter to Chroma's where syntax. One clause is a plain
// equality map; several are combined under $and in key order.
func Where(filter core.Filter) map[string]any {
	switch len(filter) {
	case 0:
		return nil
	case 1:
		for k, v := range filter {
			return map[string]any{k: v}
		}
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, map[string]any{k: filter[k]})
	}
	return map[string]any{"$and": clauses}
}

// do sends a JSON request and decodes a JSON response into out. The status
// code is returned even when err is non-nil.
func (s *ChromaStore) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("X-Chroma-Token", s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
