package buffer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/core"
)

// setupTestBuffer creates a miniredis instance and a buffer connected to it.
func setupTestBuffer(t *testing.T, cfg Config) (*RedisBuffer, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := Connect(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return New(client, cfg, nil), mr
}

func TestConnect(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		_, err := Connect(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := Connect(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestRedisBuffer_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	buf, _ := setupTestBuffer(t, DefaultConfig())

	require.NoError(t, buf.Append(ctx, "u1", core.RoleUser, "hi"))
	require.NoError(t, buf.Append(ctx, "u1", core.RoleAssistant, "hello!"))

	out, err := buf.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "User: hi\nBot: hello!", out)
}

func TestRedisBuffer_MissingIsEmpty(t *testing.T) {
	buf, _ := setupTestBuffer(t, DefaultConfig())

	out, err := buf.Read(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRedisBuffer_BoundedFIFO(t *testing.T) {
	ctx := context.Background()
	buf, _ := setupTestBuffer(t, DefaultConfig())

	for i := 0; i < 35; i++ {
		require.NoError(t, buf.Append(ctx, "u1", core.RoleUser, fmt.Sprintf("msg %d", i)))
	}

	turns, err := buf.Turns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, turns, 20)
	assert.Equal(t, "msg 15", turns[0].Content)
	assert.Equal(t, "msg 34", turns[19].Content)
}

func TestRedisBuffer_TTL(t *testing.T) {
	ctx := context.Background()
	buf, mr := setupTestBuffer(t, DefaultConfig())

	require.NoError(t, buf.Append(ctx, "u1", core.RoleUser, "hi"))
	assert.Equal(t, time.Hour, mr.TTL("chat_history:u1"))

	mr.FastForward(time.Hour + time.Second)

	out, err := buf.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRedisBuffer_TruncatesLongText(t *testing.T) {
	ctx := context.Background()
	buf, _ := setupTestBuffer(t, Config{MaxChars: 10})

	require.NoError(t, buf.Append(ctx, "u1", core.RoleUser, strings.Repeat("á", 25)))

	turns, err := buf.Turns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, strings.Repeat("á", 10)+"...(truncated)", turns[0].Content)
}

func TestRedisBuffer_IdentifiersAreIsolated(t *testing.T) {
	ctx := context.Background()
	buf, mr := setupTestBuffer(t, DefaultConfig())

	require.NoError(t, buf.Append(ctx, "u1", core.RoleUser, "from u1"))
	require.NoError(t, buf.Append(ctx, "u2", core.RoleUser, "from u2"))
	mr.Del("chat_history:u1")

	out, err := buf.Read(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "User: from u2", out)
}

func TestRedisBuffer_SkipsMalformedTurns(t *testing.T) {
	ctx := context.Background()
	buf, mr := setupTestBuffer(t, DefaultConfig())

	_, err := mr.RPush("chat_history:u1", "not json")
	require.NoError(t, err)
	require.NoError(t, buf.Append(ctx, "u1", core.RoleUser, "ok"))

	out, err := buf.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "User: ok", out)
}

func TestRedisBuffer_EmptyIdentifier(t *testing.T) {
	buf, _ := setupTestBuffer(t, DefaultConfig())
	assert.ErrorIs(t, buf.Append(context.Background(), "", core.RoleUser, "x"), core.ErrEmptyIdentifier)
}

func TestTopicLog(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := NewTopicLog(client, 3)

	joined, err := log.Joined(ctx, "none yet")
	require.NoError(t, err)
	assert.Equal(t, "none yet", joined)

	for _, topic := range []string{"octopus hearts", "honey", "black holes", "tardigrades"} {
		require.NoError(t, log.Add(ctx, topic))
	}

	topics, err := log.Recent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tardigrades", "black holes", "honey"}, topics)

	joined, err = log.Joined(ctx, "none yet")
	require.NoError(t, err)
	assert.Equal(t, "tardigrades, black holes, honey", joined)
}
