package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizer_ReturnsKeywords(t *testing.T) {
	gen := &scriptedGenerator{keywords: "  server rules  "}
	opt, err := NewOptimizer(gen, 0, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "server rules", opt.Optimize(context.Background(), "what are the rules here?"))
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], `"what are the rules here?"`)
}

func TestOptimizer_FallsBack(t *testing.T) {
	ctx := context.Background()

	empty, err := NewOptimizer(&scriptedGenerator{keywords: " \n"}, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", empty.Optimize(ctx, "hello"))

	failing, err := NewOptimizer(&scriptedGenerator{optimizeErr: errors.New("timeout")}, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", failing.Optimize(ctx, "hello"))

	gen := &scriptedGenerator{keywords: "x"}
	blank, err := NewOptimizer(gen, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "  ", blank.Optimize(ctx, "  "))
	assert.Empty(t, gen.prompts, "blank input skips the model")
}

func TestOptimizer_CachesResults(t *testing.T) {
	gen := &scriptedGenerator{keywords: "cats"}
	opt, err := NewOptimizer(gen, 1<<20, nil, nil)
	require.NoError(t, err)
	defer opt.Close()
	ctx := context.Background()

	assert.Equal(t, "cats", opt.Optimize(ctx, "do you like cats?"))
	opt.cache.Wait()
	assert.Equal(t, "cats", opt.Optimize(ctx, "do you like cats?"))

	assert.Len(t, gen.prompts, 1)
}
