package memory

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/observability"
)

// compactionQuery is the fixed query used to list an identifier's records.
// Ranking does not matter, only the capped count and the content.
const compactionQuery = "history"

// IsIgnored reports whether a memory directive means "persist nothing".
func IsIgnored(summary string) bool {
	s := strings.TrimSpace(summary)
	return s == "" || strings.Contains(s, core.IgnoreMemory)
}

// Record appends a long-term memory record for id and schedules the
// compaction check. Ignored directives are a no-op.
func (m *Manager) Record(ctx context.Context, id, summary string) error {
	if err := core.ValidateIdentifier(id); err != nil {
		return err
	}
	if IsIgnored(summary) {
		m.logger.Debug("memory directive ignored", zap.String("user_id", id))
		m.metrics.MemoryRecord("ignored")
		return nil
	}

	rec := NewRecord(id, strings.TrimSpace(summary))
	if err := m.store.Add(ctx, core.CollectionHistory, rec.Document()); err != nil {
		m.metrics.MemoryRecord("failed")
		return fmt.Errorf("add memory record: %w", err)
	}
	m.metrics.MemoryRecord("stored")

	check := func(ctx context.Context) error {
		_, err := m.Compact(ctx, id)
		return err
	}
	if m.scheduler == nil {
		if err := check(ctx); err != nil {
			m.logger.Error("compaction failed", zap.String("user_id", id), zap.Error(err))
		}
		return nil
	}
	if !m.scheduler.Enqueue("compact:"+id, check) {
		m.logger.Warn("compaction check dropped", zap.String("user_id", id))
	}
	return nil
}

// Compact folds id's history into one summary record once the record count
// reaches the threshold. It reports whether compaction happened.
//
// Compaction is not locked per identifier; see the package doc for the
// accepted race.
func (m *Manager) Compact(ctx context.Context, id string) (bool, error) {
	ctx, span := observability.Tracer().Start(ctx, "memory.Compact")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", id))

	docs, err := m.store.Search(ctx, core.CollectionHistory, compactionQuery,
		m.config.CompactionScanLimit, core.Filter{core.MetaUserID: id})
	if err != nil {
		m.metrics.Compaction("failed")
		return false, fmt.Errorf("count history: %w", err)
	}
	span.SetAttributes(attribute.Int("records", len(docs)))

	if len(docs) < m.config.CompactionThreshold {
		return false, nil
	}

	m.logger.Info("history over threshold, summarizing",
		zap.String("user_id", id),
		zap.Int("count", len(docs)),
		zap.Int("threshold", m.config.CompactionThreshold),
	)

	summary, err := m.generator.Generate(ctx, summarizeHistoryPrompt(joinContents(docs), m.config.Language))
	if err != nil {
		m.metrics.Compaction("failed")
		return false, fmt.Errorf("summarize history: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		m.metrics.Compaction("failed")
		return false, fmt.Errorf("summarize history: empty summary")
	}

	if err := m.store.DeleteWhere(ctx, core.CollectionHistory, core.Filter{core.MetaUserID: id}); err != nil {
		m.metrics.Compaction("failed")
		return false, fmt.Errorf("delete history: %w", err)
	}
	if err := m.store.Add(ctx, core.CollectionHistory, NewSummaryRecord(id, summary).Document()); err != nil {
		m.metrics.Compaction("failed")
		return false, fmt.Errorf("insert summary: %w", err)
	}

	m.metrics.Compaction("ok")
	m.logger.Info("history summarized and reset", zap.String("user_id", id))
	return true, nil
}

func joinContents(docs []core.Document) string {
	var sb strings.Builder
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Content)
	}
	return sb.String()
}

func summarizeHistoryPrompt(history, language string) string {
	return fmt.Sprintf("Summarize user facts and core context from this history into one concise %s paragraph. Ignore small talk.\nHISTORY:\n%s",
		language, history)
}
