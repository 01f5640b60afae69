package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to COPYBOT_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("COPYBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COPYBOT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSeenSet(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewSeenSet(c, "test-"+uuid.NewString(), time.Minute)

	isNew, err := s.MarkSeen(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.MarkSeen(ctx, "0xabc")
	require.NoError(t, err)
	assert.False(t, isNew)

	require.NoError(t, s.Reset(ctx))
	isNew, err = s.MarkSeen(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRateLimiterWindow(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	key := "test-" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, key, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "zero limit is unlimited")

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(waitCtx, key, 3, time.Second))
}

func TestSignalBusStreamPages(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)
	stream := keyPrefix + "test:" + uuid.NewString()
	t.Cleanup(func() { c.Underlying().Del(context.Background(), stream) })

	msgs, err := sb.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, typ := range []string{"order_placed", "order_filled", "order_cancelled"} {
		require.NoError(t, sb.StreamAppend(ctx, stream, []byte(`{"type":"`+typ+`"}`)))
	}

	first, err := sb.StreamRead(ctx, stream, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.JSONEq(t, `{"type":"order_placed"}`, string(first[0].Payload))

	rest, err := sb.StreamRead(ctx, stream, first[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.JSONEq(t, `{"type":"order_cancelled"}`, string(rest[0].Payload))

	tail, err := sb.StreamRead(ctx, stream, rest[0].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestRangeStart(t *testing.T) {
	assert.Equal(t, "-", rangeStart(""))
	assert.Equal(t, "-", rangeStart("0"))
	assert.Equal(t, "(1700000000000-3", rangeStart("1700000000000-3"))
}

func TestStreamMessagesSkipsForeignEntries(t *testing.T) {
	msgs := streamMessages([]redis.XMessage{
		{ID: "1-0", Values: map[string]any{eventField: `{"a":1}`}},
		{ID: "2-0", Values: map[string]any{"other": "x"}},
		{ID: "3-0", Values: map[string]any{eventField: []byte(`{"b":2}`)}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, "3-0", msgs[1].ID)
	assert.Equal(t, `{"b":2}`, string(msgs[1].Payload))
}

func TestSignalBusPubSub(t *testing.T) {
	c := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(c)
	channel := keyPrefix + "test:" + uuid.NewString()

	ch, err := sb.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, channel, []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	cancel()
	for range ch {
	}
}
