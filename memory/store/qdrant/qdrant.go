// Package qdrant provides a semantic store backed by Qdrant over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

// Payload keys reserved by the store. Metadata keys share the payload.
const (
	payloadContent = "content"
	payloadDocID   = "doc_id"
)

// Config holds configuration for the Qdrant store.
type Config struct {
	// Host is the Qdrant host. Default: "localhost"
	Host string

	// Port is the gRPC port. Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud.
	APIKey string

	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool

	// CollectionPrefix is prepended to every collection name.
	CollectionPrefix string
}

// QdrantStore implements memory.Store on Qdrant. Each core.Collection maps to
// a Qdrant collection sized to the embedder's dimensions.
type QdrantStore struct {
	client   *qdrant.Client
	embedder memory.Embedder
	prefix   string
	logger   *zap.Logger

	mu    sync.Mutex
	ready map[core.Collection]bool
}

var _ memory.Store = (*QdrantStore)(nil)

// New connects to Qdrant. Collections are created lazily on first use.
func New(c Config, embedder memory.Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        c.Host,
		Port:        c.Port,
		APIKey:      c.APIKey,
		UseTLS:      c.UseTLS,
		GrpcOptions: []grpc.DialOption{grpc.WithUserAgent("nim-companion")},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	return &QdrantStore{
		client:   client,
		embedder: embedder,
		prefix:   c.CollectionPrefix,
		logger:   logger.Named("qdrant"),
		ready:    make(map[core.Collection]bool),
	}, nil
}

func (s *QdrantStore) name(collection core.Collection) string {
	return s.prefix + string(collection)
}

// ensureCollection creates the collection if it does not exist yet.
func (s *QdrantStore) ensureCollection(ctx context.Context, collection core.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready[collection] {
		return nil
	}

	name := s.name(collection)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.embedder.Dimensions()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Another process may have created it between the check and here
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		s.logger.Info("created collection", zap.String("collection", name))
	}

	s.ready[collection] = true
	return nil
}

// Add stores a document with its embedding.
func (s *QdrantStore) Add(ctx context.Context, collection core.Collection, doc core.Document) error {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.name(collection),
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(doc.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payloadOf(doc)),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

// Search returns up to k documents matching filter, most similar first.
func (s *QdrantStore) Search(ctx context.Context, collection core.Collection, query string, k int, filter core.Filter) ([]core.Document, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.name(collection),
		Query:          qdrant.NewQuery(vec...),
		Filter:         Filter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	docs := make([]core.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, documentOf(p.GetId().GetUuid(), p.GetPayload()))
	}
	return docs, nil
}

// DeleteWhere removes every document matching filter.
func (s *QdrantStore) DeleteWhere(ctx context.Context, collection core.Collection, filter core.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("delete requires at least one filter clause")
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.name(collection),
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(Filter(filter)),
	})
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Filter converts a filter to a Qdrant filter of keyword matches, all of
// which must hold. Clauses are ordered by key.
func Filter(filter core.Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, qdrant.NewMatch(k, filter[k]))
	}
	return &qdrant.Filter{Must: must}
}

// pointID maps a document ID to a Qdrant point UUID. Non-UUID IDs are hashed.
func pointID(docID string) string {
	if _, err := uuid.Parse(docID); err == nil {
		return docID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

func payloadOf(doc core.Document) map[string]any {
	payload := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload[payloadContent] = doc.Content
	payload[payloadDocID] = doc.ID
	return payload
}

func documentOf(id string, payload map[string]*qdrant.Value) core.Document {
	doc := core.Document{ID: id, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadContent:
			doc.Content = v.GetStringValue()
		case payloadDocID:
			doc.ID = v.GetStringValue()
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}
