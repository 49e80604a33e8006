package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/engine"
)

func TestNewCompanionCmd_Subcommands(t *testing.T) {
	cmd := NewCompanionCmd()

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "fact")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
}

func TestLoadConfig_FileAndDebugFlag(t *testing.T) {
	for _, key := range []string{"BOT_NAME", "VECTOR_BACKEND", "DEBUG"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	path := filepath.Join(t.TempDir(), "companion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bot_name: Nim\nvector:\n  backend: qdrant\n"), 0o600))

	cmd := NewCompanionCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--debug"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "Nim", cfg.BotName)
	assert.Equal(t, config.BackendQdrant, cfg.Vector.Backend)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cmd := NewCompanionCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	e, err := newEmbedder(ctx, config.EmbedderConfig{Provider: config.EmbedderHash}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, hashDimensions, e.Dimensions())

	_, err = newEmbedder(ctx, config.EmbedderConfig{Provider: "word2vec"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewStore_Chromem(t *testing.T) {
	ctx := context.Background()
	e, err := newEmbedder(ctx, config.EmbedderConfig{Provider: config.EmbedderHash}, zap.NewNop())
	require.NoError(t, err)

	store, err := newStore(config.VectorConfig{Backend: config.BackendChromem}, e, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Add(ctx, core.CollectionKnowledge, core.Document{
		Content:  "Rules: be kind",
		Metadata: map[string]string{core.MetaScopeID: "g1"},
	}))
	docs, err := store.Search(ctx, core.CollectionKnowledge, "rules", 3, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Rules: be kind", docs[0].Content)
}

func TestNewStore_Errors(t *testing.T) {
	e, err := newEmbedder(context.Background(), config.EmbedderConfig{Provider: config.EmbedderHash}, zap.NewNop())
	require.NoError(t, err)

	_, err = newStore(config.VectorConfig{Backend: "pinecone"}, e, zap.NewNop())
	assert.Error(t, err)

	_, err = newStore(config.VectorConfig{Backend: config.BackendChroma}, e, zap.NewNop())
	assert.Error(t, err, "chroma requires a URL")
}

func TestPrintFact(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printFact(&out, &engine.Fact{Topic: "Octopuses", Content: "They have three hearts."}))
	assert.Equal(t, "Octopuses\n\nThey have three hearts.\n", out.String())

	assert.ErrorIs(t, printFact(&out, nil), errNoFact)
}
