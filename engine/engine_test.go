package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/buffer"
	"github.com/becomeliminal/nim-companion/memory/embedder/mock"
	"github.com/becomeliminal/nim-companion/memory/store/chromem"
)

// scriptedGenerator answers by prompt kind and records every prompt.
type scriptedGenerator struct {
	mu sync.Mutex

	chat    string
	chatErr error

	keywords    string
	optimizeErr error

	other    string
	otherErr error

	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)

	switch {
	case strings.HasPrefix(prompt, "Rewrite for Vector Search"):
		return g.keywords, g.optimizeErr
	case strings.HasPrefix(prompt, "Role: Discord Assistant"):
		return g.chat, g.chatErr
	default:
		return g.other, g.otherErr
	}
}

func (g *scriptedGenerator) chatPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, p := range g.prompts {
		if strings.HasPrefix(p, "Role: Discord Assistant") {
			out = append(out, p)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	gen    *scriptedGenerator
	store  memory.Store
	buffer *buffer.RedisBuffer
	redis  *miniredis.Miniredis
}

func newHarness(t *testing.T, gen *scriptedGenerator, opts ...Option) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store, err := chromem.New(chromem.Config{}, chromem.EmbeddingFunc(mock.New(64)), nil)
	require.NoError(t, err)

	buf := buffer.New(client, buffer.DefaultConfig(), nil)
	mgr := memory.NewManager(store, gen, nil)
	opt, err := NewOptimizer(gen, 0, nil, nil)
	require.NoError(t, err)

	return &harness{
		engine: New(gen, mgr, buf, opt, nil, opts...),
		gen:    gen,
		store:  store,
		buffer: buf,
		redis:  mr,
	}
}

func (h *harness) docs(t *testing.T, col core.Collection, id string) []core.Document {
	t.Helper()
	docs, err := h.store.Search(context.Background(), col, "lookup", 100, core.Filter{core.MetaUserID: id})
	require.NoError(t, err)
	return docs
}

func TestConverse_NewIdentifierInsertsProfile(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chat: "<reply>Hello Alice</reply><react></react><memory>IGNORE</memory>"})

	reply, err := h.engine.Converse(context.Background(), "u1", "Name: Alice", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)

	profiles := h.docs(t, core.CollectionProfile, "u1")
	require.Len(t, profiles, 1)
	assert.Equal(t, "Name: Alice", profiles[0].Content)
}

func TestConverse_SameProfileTwiceKeepsOneSnapshot(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chat: "<reply>Hi</reply><react></react><memory>IGNORE</memory>"})
	ctx := context.Background()

	_, err := h.engine.Converse(ctx, "u1", "Name: Alice", "hi")
	require.NoError(t, err)
	_, err = h.engine.Converse(ctx, "u1", "Name: Alice", "hello again")
	require.NoError(t, err)

	assert.Len(t, h.docs(t, core.CollectionProfile, "u1"), 1)
}

func TestConverse_IgnoredMemoryStoresNothing(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chat: "<reply>Hi</reply><react></react><memory>IGNORE</memory>"})

	reply, err := h.engine.Converse(context.Background(), "u1", "Name: Alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.Reply{Text: "Hi", Reaction: ""}, reply)

	assert.Empty(t, h.docs(t, core.CollectionHistory, "u1"))
}

func TestConverse_MemoryDirectiveStoresRecord(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chat: "<reply>Ok</reply><react>😂</react><memory>User likes cats</memory>"})

	reply, err := h.engine.Converse(context.Background(), "u1", "Name: Alice", "I love cats")
	require.NoError(t, err)
	assert.Equal(t, core.Reply{Text: "Ok", Reaction: "😂"}, reply)

	history := h.docs(t, core.CollectionHistory, "u1")
	require.Len(t, history, 1)
	assert.Equal(t, "User likes cats", history[0].Content)
}

func TestConverse_AppendsBothTurnsToBuffer(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chat: "<reply>Hi there</reply><memory>IGNORE</memory>"})
	ctx := context.Background()

	_, err := h.engine.Converse(ctx, "u1", "Name: Alice", "hi")
	require.NoError(t, err)

	recent, err := h.buffer.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "User: hi\nBot: Hi there", recent)

	// The next prompt carries the short-term window
	_, err = h.engine.Converse(ctx, "u1", "Name: Alice", "how are you")
	require.NoError(t, err)
	prompts := h.gen.chatPrompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Short-term: User: hi\nBot: Hi there")
}

func TestConverse_PromptCarriesContext(t *testing.T) {
	gen := &scriptedGenerator{chat: "<reply>Hi</reply>", other: "Rules: be kind"}
	h := newHarness(t, gen)
	ctx := context.Background()

	_, err := h.engine.RefreshServerKnowledge(ctx, "g1", "raw rules dump")
	require.NoError(t, err)

	_, err = h.engine.Converse(ctx, "u1", "Name: Alice", "what are the rules?")
	require.NoError(t, err)

	prompts := gen.chatPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "User: Name: Alice")
	assert.Contains(t, prompts[0], "Persona: Default (Friendly)")
	assert.Contains(t, prompts[0], "Server: Rules: be kind")
	assert.Contains(t, prompts[0], "[Req]: what are the rules?")
}

func TestConverse_OptimizerFailureFallsBack(t *testing.T) {
	gen := &scriptedGenerator{chat: "<reply>Hi</reply>", optimizeErr: errors.New("rate limited")}
	h := newHarness(t, gen)

	reply, err := h.engine.Converse(context.Background(), "u1", "Name: Alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hi", reply.Text)
}

func TestConverse_GenerationFailure(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chatErr: errors.New("overloaded")})
	ctx := context.Background()

	_, err := h.engine.Converse(ctx, "u1", "Name: Alice", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)

	recent, err := h.buffer.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, recent, "nothing is persisted when generation fails")
}

func TestConverse_BufferFailureFailsRequest(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{chat: "<reply>Hi</reply>"})
	h.redis.Close()

	_, err := h.engine.Converse(context.Background(), "u1", "Name: Alice", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read recency buffer")
	assert.Empty(t, h.gen.chatPrompts())
}

func TestConverse_EmptyIdentifier(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{})
	_, err := h.engine.Converse(context.Background(), "", "Name: Alice", "hi")
	assert.ErrorIs(t, err, core.ErrEmptyIdentifier)
}

func TestConverse_WithPool(t *testing.T) {
	pool, err := NewPool(&PoolConfig{NumWorkers: 2})
	require.NoError(t, err)
	defer pool.Close()

	h := newHarness(t, &scriptedGenerator{chat: "<reply>Ok</reply><memory>User likes cats</memory>"}, WithScheduler(pool))
	ctx := context.Background()

	_, err = h.engine.Converse(ctx, "u1", "Name: Alice", "I love cats")
	require.NoError(t, err)
	pool.Wait()

	assert.Len(t, h.docs(t, core.CollectionHistory, "u1"), 1)
	recent, err := h.buffer.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "User: I love cats\nBot: Ok", recent)
}

func TestPersona(t *testing.T) {
	gen := &scriptedGenerator{chat: "<reply>Yes boss</reply>", other: "  Bot calls User: Boss  "}
	h := newHarness(t, gen)
	ctx := context.Background()

	_, ok, err := h.engine.GetPersona(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	persona, err := h.engine.SetPersona(ctx, "u1", "Alice", "call her boss")
	require.NoError(t, err)
	assert.Equal(t, "Bot calls User: Boss", persona)

	got, ok, err := h.engine.GetPersona(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bot calls User: Boss", got)

	_, err = h.engine.Converse(ctx, "u1", "Name: Alice", "hi")
	require.NoError(t, err)
	assert.Contains(t, gen.chatPrompts()[0], "Persona: Bot calls User: Boss")
}

func TestSetPersona_GenerationFailureStoresNothing(t *testing.T) {
	h := newHarness(t, &scriptedGenerator{otherErr: errors.New("down")})
	ctx := context.Background()

	_, err := h.engine.SetPersona(ctx, "u1", "Alice", "call her boss")
	require.Error(t, err)

	_, ok, err := h.engine.GetPersona(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshServerKnowledge(t *testing.T) {
	gen := &scriptedGenerator{other: "Rules v2"}
	h := newHarness(t, gen)
	ctx := context.Background()

	msg, err := h.engine.RefreshServerKnowledge(ctx, "g1", "old")
	require.NoError(t, err)
	assert.Equal(t, KnowledgeUpdated, msg)
	_, err = h.engine.RefreshServerKnowledge(ctx, "g1", "new")
	require.NoError(t, err)

	docs, err := h.store.Search(ctx, core.CollectionKnowledge, "rules", 10, core.Filter{core.MetaScopeID: "g1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Rules v2", docs[0].Content)

	gen.other = ""
	_, err = h.engine.RefreshServerKnowledge(ctx, "g1", "blank")
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestComment(t *testing.T) {
	gen := &scriptedGenerator{other: " Nice post! "}
	h := newHarness(t, gen)
	ctx := context.Background()

	assert.Equal(t, "Nice post!", h.engine.Comment(ctx, "My day", "It rained", "shy", ToneDeep))
	assert.Contains(t, gen.prompts[len(gen.prompts)-1], toneInstruction(ToneDeep))

	gen.otherErr = errors.New("down")
	assert.Equal(t, FallbackComment, h.engine.Comment(ctx, "My day", "It rained", "shy", ToneRoast))
}

func TestConverse_EmptyReplyIsGenerationFailure(t *testing.T) {
	for _, raw := range []string{"", "  \n", "<reply></reply><react>😂</react><memory>User likes cats</memory>"} {
		h := newHarness(t, &scriptedGenerator{chat: raw})
		ctx := context.Background()

		_, err := h.engine.Converse(ctx, "u1", "Name: Alice", "hi")
		assert.ErrorIs(t, err, ErrGeneration, "raw %q", raw)

		recent, err := h.buffer.Read(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, recent)
		assert.Empty(t, h.docs(t, core.CollectionHistory, "u1"))
	}
}
