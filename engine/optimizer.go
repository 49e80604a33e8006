package engine

import (
	"context"
	"strings"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/observability"
)

// Optimizer rewrites a message into retrieval keywords. Results are cached
// per message text; repeated greetings and questions skip the model call.
type Optimizer struct {
	generator memory.Generator
	cache     *ristretto.Cache
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewOptimizer creates an optimizer with a cache bounded to maxCost bytes of
// keywords. A maxCost of 0 disables caching.
func NewOptimizer(generator memory.Generator, maxCost int64, metrics *observability.Metrics, logger *zap.Logger) (*Optimizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Optimizer{
		generator: generator,
		metrics:   metrics,
		logger:    logger.Named("optimizer"),
	}
	if maxCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: max(maxCost/10, 100),
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		o.cache = cache
	}
	return o, nil
}

// Optimize returns retrieval keywords for text. It never fails: a model error
// or an empty rewrite yields text unchanged.
func (o *Optimizer) Optimize(ctx context.Context, text string) string {
	key := strings.TrimSpace(text)
	if key == "" {
		return text
	}

	if o.cache != nil {
		if v, ok := o.cache.Get(key); ok {
			return v.(string)
		}
	}

	out, err := o.generator.Generate(ctx, optimizeQueryPrompt(text))
	if err != nil {
		o.logger.Warn("query optimization failed, using raw message", zap.Error(err))
		o.metrics.Fallback("optimize")
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}

	if o.cache != nil {
		o.cache.Set(key, out, int64(len(out)))
	}
	return out
}

// Close stops the cache's background goroutines.
func (o *Optimizer) Close() {
	if o.cache != nil {
		o.cache.Close()
	}
}
