package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/observability"
)

// Manager owns the semantic-store backed tiers: profile snapshots, persona
// overrides, server knowledge and long-term history.
//
// The recency buffer is separate (see memory/buffer) because it lives in a
// key-value store rather than the semantic store.
type Manager struct {
	store     Store
	generator Generator
	scheduler Scheduler
	config    *Config
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler runs compaction checks through s. Without a scheduler the
// check runs inline at the end of Record.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithMetrics records tier activity on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager. The generator is used for compaction summaries.
func NewManager(store Store, generator Generator, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	m := &Manager{
		store:     store,
		generator: generator,
		config:    config,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("memory")
	return m
}

// SyncProfile reconciles the observed profile against the stored snapshot and
// returns the effective profile.
//
// No snapshot: observed is inserted. Different snapshot: it is replaced.
// Identical snapshot: nothing is written. On error the caller should fall
// back to observed.
func (m *Manager) SyncProfile(ctx context.Context, id, observed string) (string, error) {
	if err := core.ValidateIdentifier(id); err != nil {
		return observed, err
	}

	filter := core.Filter{core.MetaUserID: id, core.MetaType: core.TypeProfile}
	existing, err := m.store.Search(ctx, core.CollectionProfile, "lookup", 1, filter)
	if err != nil {
		return observed, fmt.Errorf("lookup profile: %w", err)
	}

	doc := singleRecord("profile:"+id, observed, map[string]string{
		core.MetaUserID: id,
		core.MetaType:   core.TypeProfile,
	})

	if len(existing) == 0 {
		m.logger.Info("new profile", zap.String("user_id", id))
		if err := m.store.Add(ctx, core.CollectionProfile, doc); err != nil {
			return observed, fmt.Errorf("insert profile: %w", err)
		}
		m.metrics.ProfileSync("insert")
		return observed, nil
	}

	stored := existing[0].Content
	if stored == observed {
		m.metrics.ProfileSync("unchanged")
		return stored, nil
	}

	m.logger.Info("profile changed, replacing snapshot", zap.String("user_id", id))
	if err := m.replace(ctx, core.CollectionProfile, filter, doc); err != nil {
		return observed, fmt.Errorf("replace profile: %w", err)
	}
	m.metrics.ProfileSync("replace")
	return observed, nil
}

// Persona returns the persona override for id. ok is false when none is set.
func (m *Manager) Persona(ctx context.Context, id string) (persona string, ok bool, err error) {
	if err := core.ValidateIdentifier(id); err != nil {
		return "", false, err
	}

	filter := core.Filter{core.MetaUserID: id, core.MetaType: core.TypePersona}
	docs, err := m.store.Search(ctx, core.CollectionPersona, "user-persona", 1, filter)
	if err != nil {
		return "", false, fmt.Errorf("lookup persona: %w", err)
	}
	if len(docs) == 0 {
		return "", false, nil
	}
	return docs[0].Content, true, nil
}

// SetPersona replaces the persona override for id.
func (m *Manager) SetPersona(ctx context.Context, id, persona string) error {
	if err := core.ValidateIdentifier(id); err != nil {
		return err
	}

	filter := core.Filter{core.MetaUserID: id, core.MetaType: core.TypePersona}
	doc := singleRecord("persona:"+id, persona, map[string]string{
		core.MetaUserID: id,
		core.MetaType:   core.TypePersona,
	})
	if err := m.replace(ctx, core.CollectionPersona, filter, doc); err != nil {
		return fmt.Errorf("replace persona: %w", err)
	}
	m.logger.Info("persona set", zap.String("user_id", id))
	return nil
}

// ReplaceKnowledge replaces the server knowledge document for scopeID.
func (m *Manager) ReplaceKnowledge(ctx context.Context, scopeID, content string) error {
	if err := core.ValidateIdentifier(scopeID); err != nil {
		return err
	}

	filter := core.Filter{core.MetaScopeID: scopeID}
	doc := singleRecord("knowledge:"+scopeID, content, map[string]string{
		core.MetaScopeID: scopeID,
		core.MetaType:    core.TypeKnowledge,
	})
	if err := m.replace(ctx, core.CollectionKnowledge, filter, doc); err != nil {
		return fmt.Errorf("replace knowledge: %w", err)
	}
	m.logger.Info("server knowledge refreshed", zap.String("scope_id", scopeID))
	return nil
}

// SearchKnowledge searches server knowledge across all scopes.
func (m *Manager) SearchKnowledge(ctx context.Context, query string, k int) ([]string, error) {
	docs, err := m.store.Search(ctx, core.CollectionKnowledge, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	return contents(docs), nil
}

// SearchHistory searches id's long-term memory records.
func (m *Manager) SearchHistory(ctx context.Context, id, query string, k int) ([]string, error) {
	if err := core.ValidateIdentifier(id); err != nil {
		return nil, err
	}

	docs, err := m.store.Search(ctx, core.CollectionHistory, query, k, core.Filter{core.MetaUserID: id})
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	return contents(docs), nil
}

// replace deletes every document matching filter, then upserts doc.
// A failed delete is logged and the write still happens, so the newest
// content always lands; the next replace cleans up any leftover.
func (m *Manager) replace(ctx context.Context, collection core.Collection, filter core.Filter, doc core.Document) error {
	if err := m.store.DeleteWhere(ctx, collection, filter); err != nil {
		m.logger.Warn("delete before insert failed",
			zap.String("collection", string(collection)),
			zap.Error(err),
		)
	}
	return m.store.Add(ctx, collection, doc)
}

func contents(docs []core.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Content)
	}
	return out
}

// Config holds Manager configuration.
type Config struct {
	// CompactionThreshold is the record count at which history is compacted.
	// Default: 50
	CompactionThreshold int

	// CompactionScanLimit caps how many records are read when counting.
	// Default: 100
	CompactionScanLimit int

	// Language is the language summaries are written in.
	// Default: "Vietnamese"
	Language string
}

// DefaultConfig returns the defaults used when no Config is given.
var DefaultConfig = &Config{
	CompactionThreshold: 50,
	CompactionScanLimit: 100,
	Language:            "Vietnamese",
}
