package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/observability"
)

// knowledgeFallbackQuery is searched when the optimized query is blank.
const knowledgeFallbackQuery = "info"

// Assembler gathers every context tier for one reply.
type Assembler struct {
	memory    *memory.Manager
	buffer    memory.Buffer
	optimizer *Optimizer
	config    *Config
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(m *memory.Manager, buffer memory.Buffer, optimizer *Optimizer, config *Config, metrics *observability.Metrics, logger *zap.Logger) *Assembler {
	if config == nil {
		config = DefaultConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		memory:    m,
		buffer:    buffer,
		optimizer: optimizer,
		config:    config,
		metrics:   metrics,
		logger:    logger.Named("assembler"),
	}
}

// Assemble builds the chat context for message.
//
// Profile sync, the optimize-then-knowledge chain, persona lookup, buffer
// read and history search run concurrently. Knowledge is searched with the
// optimized query, history with the raw message. Profile sync, optimization
// and persona lookup fall back to defaults; the other reads fail the call.
func (a *Assembler) Assemble(ctx context.Context, id, observedProfile, message string) (*ChatContext, error) {
	ctx, span := observability.Tracer().Start(ctx, "engine.Assemble")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", id))

	out := &ChatContext{Message: message}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The sync writes (delete then insert), so a failing sibling read
		// must not cancel it between the two.
		profile, err := a.memory.SyncProfile(context.WithoutCancel(ctx), id, observedProfile)
		if err != nil {
			a.logger.Warn("profile sync failed, using observed profile", zap.String("user_id", id), zap.Error(err))
			a.metrics.Fallback("profile")
		}
		out.Profile = profile
		return nil
	})

	g.Go(func() error {
		query := a.optimizer.Optimize(gctx, message)
		if strings.TrimSpace(query) == "" {
			query = knowledgeFallbackQuery
		}
		docs, err := a.memory.SearchKnowledge(gctx, query, a.config.KnowledgeResults)
		if err != nil {
			return err
		}
		out.Server = strings.Join(docs, "\n---\n")
		return nil
	})

	g.Go(func() error {
		persona, ok, err := a.memory.Persona(gctx, id)
		switch {
		case err != nil:
			a.logger.Warn("persona lookup failed, using default", zap.String("user_id", id), zap.Error(err))
			a.metrics.Fallback("persona")
			persona = a.config.DefaultPersona
		case !ok:
			persona = a.config.DefaultPersona
		}
		out.Persona = persona
		return nil
	})

	g.Go(func() error {
		recent, err := a.buffer.Read(gctx, id)
		if err != nil {
			return fmt.Errorf("read recency buffer: %w", err)
		}
		out.ShortTerm = recent
		return nil
	})

	g.Go(func() error {
		docs, err := a.memory.SearchHistory(gctx, id, message, a.config.HistoryResults)
		if err != nil {
			return err
		}
		out.LongTerm = strings.Join(docs, "\n")
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}
