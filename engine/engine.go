// Package engine composes the memory tiers and the language model into the
// companion's conversational operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/observability"
)

// FallbackComment is returned by Comment when generation fails.
const FallbackComment = "This topic has me stumped, bro... 🤐"

// KnowledgeUpdated confirms a successful RefreshServerKnowledge.
const KnowledgeUpdated = "✅ Database Updated!"

// Config holds Engine configuration.
type Config struct {
	// BotName is how the assistant introduces itself.
	BotName string

	// Language is the language replies and stored summaries are written in.
	Language string

	// DefaultPersona is used when an identifier has no persona override.
	DefaultPersona string

	// KnowledgeResults is how many server knowledge documents are retrieved.
	KnowledgeResults int

	// HistoryResults is how many long-term memory records are retrieved.
	HistoryResults int
}

// DefaultConfig returns the defaults used when no Config is given.
var DefaultConfig = &Config{
	BotName:          "Companion",
	Language:         "Vietnamese",
	DefaultPersona:   "Default (Friendly)",
	KnowledgeResults: 3,
	HistoryResults:   5,
}

// Engine is the conversational orchestrator.
type Engine struct {
	generator memory.Generator
	memory    *memory.Manager
	buffer    memory.Buffer
	assembler *Assembler
	scheduler memory.Scheduler
	config    *Config
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithScheduler runs post-reply persistence on s. Without one it runs
// inline before Converse returns.
func WithScheduler(s memory.Scheduler) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine. generator produces replies, personas and
// knowledge summaries; optimizer rewrites retrieval queries.
func New(generator memory.Generator, m *memory.Manager, buffer memory.Buffer, optimizer *Optimizer, config *Config, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig
	}
	e := &Engine{
		generator: generator,
		memory:    m,
		buffer:    buffer,
		config:    config,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	e.assembler = NewAssembler(m, buffer, optimizer, config, e.metrics, e.logger)
	return e
}

// Converse answers message for id.
//
// The reply is returned as soon as it is parsed; an empty reply is an
// ErrGeneration failure and nothing is persisted. Appending both turns to the
// recency buffer and recording the memory directive happen afterwards as
// separate background tasks; their failures never reach the caller.
func (e *Engine) Converse(ctx context.Context, id, observedProfile, message string) (core.Reply, error) {
	if err := core.ValidateIdentifier(id); err != nil {
		return core.Reply{}, err
	}

	ctx, span := observability.Tracer().Start(ctx, "engine.Converse")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", id))
	start := time.Now()

	chat, err := e.assembler.Assemble(ctx, id, observedProfile, message)
	if err != nil {
		e.metrics.Conversation("failed", time.Since(start))
		span.RecordError(err)
		return core.Reply{}, fmt.Errorf("assemble context: %w", err)
	}

	raw, err := e.generator.Generate(ctx, mainChatPrompt(chat, e.config.BotName, e.config.Language))
	if err != nil {
		if !errors.Is(err, ErrGeneration) {
			err = fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		e.metrics.Conversation("failed", time.Since(start))
		span.RecordError(err)
		return core.Reply{}, err
	}

	parsed := Parse(raw)
	if strings.TrimSpace(parsed.Reply) == "" {
		err := fmt.Errorf("%w: empty reply", ErrGeneration)
		e.metrics.Conversation("failed", time.Since(start))
		span.RecordError(err)
		return core.Reply{}, err
	}
	e.metrics.Conversation("ok", time.Since(start))
	e.logger.Debug("reply generated",
		zap.String("user_id", id),
		zap.Int("reply_len", len(parsed.Reply)),
		zap.Bool("has_memory", !memory.IsIgnored(parsed.Memory)),
	)

	e.background(ctx, "buffer:"+id, func(ctx context.Context) error {
		return errors.Join(
			e.buffer.Append(ctx, id, core.RoleUser, message),
			e.buffer.Append(ctx, id, core.RoleAssistant, parsed.Reply),
		)
	})
	e.background(ctx, "memory:"+id, func(ctx context.Context) error {
		return e.memory.Record(ctx, id, parsed.Memory)
	})

	return core.Reply{Text: parsed.Reply, Reaction: parsed.Reaction}, nil
}

// background runs fn on the scheduler, or inline when none is set.
func (e *Engine) background(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if e.scheduler == nil {
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("post-reply task failed", zap.String("task", name), zap.Error(err))
		}
		return
	}
	if !e.scheduler.Enqueue(name, fn) {
		e.logger.Warn("post-reply task dropped", zap.String("task", name))
	}
}

// GetPersona returns the persona override for id; ok is false when none is set.
func (e *Engine) GetPersona(ctx context.Context, id string) (string, bool, error) {
	return e.memory.Persona(ctx, id)
}

// SetPersona derives a persona description for displayName from rawInput
// and stores it as id's override. It returns the stored description.
func (e *Engine) SetPersona(ctx context.Context, id, displayName, rawInput string) (string, error) {
	if err := core.ValidateIdentifier(id); err != nil {
		return "", err
	}

	out, err := e.generator.Generate(ctx, analyzePersonaPrompt(displayName, rawInput, e.config.Language))
	if err != nil {
		return "", fmt.Errorf("analyze persona: %w", err)
	}
	persona := strings.TrimSpace(out)
	if persona == "" {
		return "", fmt.Errorf("analyze persona: %w: empty description", ErrGeneration)
	}

	if err := e.memory.SetPersona(ctx, id, persona); err != nil {
		return "", err
	}
	e.logger.Info("persona updated", zap.String("user_id", id), zap.String("display_name", displayName))
	return persona, nil
}

// RefreshServerKnowledge cleans rawText into structured notes and replaces
// the knowledge document for scopeID. It returns a confirmation message.
func (e *Engine) RefreshServerKnowledge(ctx context.Context, scopeID, rawText string) (string, error) {
	if err := core.ValidateIdentifier(scopeID); err != nil {
		return "", err
	}

	out, err := e.generator.Generate(ctx, cleanAndSummarizePrompt(rawText, e.config.Language))
	if err != nil {
		return "", fmt.Errorf("clean server knowledge: %w", err)
	}
	cleaned := strings.TrimSpace(out)
	if cleaned == "" {
		return "", fmt.Errorf("clean server knowledge: %w: empty summary", ErrGeneration)
	}

	if err := e.memory.ReplaceKnowledge(ctx, scopeID, cleaned); err != nil {
		return "", err
	}
	return KnowledgeUpdated, nil
}

// Comment writes a short reply to a forum post in the given tone
// (ToneRoast, ToneDeep, or anything else for friendly). It never fails;
// generation errors yield FallbackComment.
func (e *Engine) Comment(ctx context.Context, title, content, persona, tone string) string {
	out, err := e.generator.Generate(ctx, forumCommentPrompt(e.config.BotName, title, content, persona, tone))
	if err != nil {
		e.logger.Warn("comment generation failed", zap.Error(err))
		e.metrics.Fallback("comment")
		return FallbackComment
	}
	comment := strings.TrimSpace(out)
	if comment == "" {
		return FallbackComment
	}
	return comment
}
