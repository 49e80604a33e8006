package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/buffer"
)

// Fact is one daily knowledge post.
type Fact struct {
	Topic   string
	Content string
}

// FactGenerator writes daily knowledge posts that avoid recently used topics.
type FactGenerator struct {
	generator memory.Generator
	topics    *buffer.TopicLog
	language  string
	logger    *zap.Logger
}

// NewFactGenerator creates a FactGenerator.
func NewFactGenerator(generator memory.Generator, topics *buffer.TopicLog, language string, logger *zap.Logger) *FactGenerator {
	if language == "" {
		language = DefaultConfig.Language
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactGenerator{
		generator: generator,
		topics:    topics,
		language:  language,
		logger:    logger.Named("facts"),
	}
}

// Generate produces a new fact and records its topic. It returns nil when
// the model fails or answers without both tags.
func (f *FactGenerator) Generate(ctx context.Context) *Fact {
	past, err := f.topics.Joined(ctx, "none")
	if err != nil {
		f.logger.Warn("reading past topics failed", zap.Error(err))
		past = "none"
	}

	raw, err := f.generator.Generate(ctx, dailyFactPrompt(past, f.language))
	if err != nil {
		f.logger.Error("fact generation failed", zap.Error(err))
		return nil
	}

	topic, okTopic := extract(topicTag, raw)
	content, okContent := extract(contentTag, raw)
	if !okTopic || !okContent {
		f.logger.Error("fact response is missing <topic> or <content>")
		return nil
	}

	if err := f.topics.Add(ctx, topic); err != nil {
		f.logger.Warn("recording topic failed", zap.String("topic", topic), zap.Error(err))
	}
	f.logger.Info("fact generated", zap.String("topic", topic))
	return &Fact{Topic: topic, Content: content}
}
