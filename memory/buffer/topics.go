package buffer

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const topicsKey = "daily_facts_topics"

// DefaultTopicLimit is how many published topics are remembered.
const DefaultTopicLimit = 50

// TopicLog remembers recently published daily-fact topics, newest first.
type TopicLog struct {
	client redis.UniversalClient
	limit  int
}

// NewTopicLog creates a topic log keeping the newest limit topics.
func NewTopicLog(client redis.UniversalClient, limit int) *TopicLog {
	if limit <= 0 {
		limit = DefaultTopicLimit
	}
	return &TopicLog{client: client, limit: limit}
}

// Add records a published topic.
func (l *TopicLog) Add(ctx context.Context, topic string) error {
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, topicsKey, topic)
		pipe.LTrim(ctx, topicsKey, 0, int64(l.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record topic: %w", err)
	}
	return nil
}

// Recent returns the remembered topics, newest first.
func (l *TopicLog) Recent(ctx context.Context) ([]string, error) {
	topics, err := l.client.LRange(ctx, topicsKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read topics: %w", err)
	}
	return topics, nil
}

// Joined returns the topics as one comma-separated line, or fallback when
// none are recorded.
func (l *TopicLog) Joined(ctx context.Context, fallback string) (string, error) {
	topics, err := l.Recent(ctx)
	if err != nil {
		return "", err
	}
	if len(topics) == 0 {
		return fallback, nil
	}
	return strings.Join(topics, ", "), nil
}
