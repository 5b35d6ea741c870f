package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredrousseau/midas-sub000/internal/config"
	"github.com/fredrousseau/midas-sub000/internal/errs"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.Set(ctx, "k1", []byte("v1"), 0))

	val, ok, err := ms.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	_, ok, err = ms.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreTTL(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.Set(ctx, "forever", []byte("v"), 0))
	require.NoError(t, ms.Set(ctx, "brief", []byte("v"), 90*time.Second))

	assert.Equal(t, TTLNone, ms.TTL(ctx, "forever"))
	assert.Equal(t, TTLMissing, ms.TTL(ctx, "absent"))

	remaining := ms.TTL(ctx, "brief")
	assert.Greater(t, remaining, int64(80))
	assert.LessOrEqual(t, remaining, int64(90))
}

func TestMemoryStoreExpiry(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.Set(ctx, "gone", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := ms.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := ms.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.Set(ctx, "app:ohlcv:BTCUSDT:1h", []byte("a"), 0))
	require.NoError(t, ms.Set(ctx, "app:ohlcv:ETHUSDT:1h", []byte("b"), 0))
	require.NoError(t, ms.Set(ctx, "app:stats", []byte("c"), 0))

	keys, err := ms.Keys(ctx, "app:ohlcv:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = ms.Keys(ctx, "app:ohlcv:BTCUSDT:*")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "app:ohlcv:BTCUSDT:1h", keys[0])
}

func TestMemoryStoreDelete(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, ms.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, ms.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, ms.Delete(ctx, "a", "b"))

	_, ok, _ := ms.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = ms.Get(ctx, "b")
	assert.False(t, ok)
}

func TestRedisStoreGetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}

	mock.ExpectGet("missing").RedisNil()

	_, ok, err := rs.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}

	mock.ExpectGet("k").SetVal(`{"start":1}`)

	val, ok, err := rs.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"start":1}`), val)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGetFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))

	_, _, err := rs.Get(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCacheUnavailable)
}

func TestRedisStoreSetFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}

	mock.ExpectSet("k", []byte("v"), time.Minute).SetErr(errors.New("readonly replica"))

	err := rs.Set(context.Background(), "k", []byte("v"), time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCacheUnavailable)
}

func TestRedisStoreDeleteNoKeys(t *testing.T) {
	client, _ := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}

	// no expectation registered: Delete with no keys must not touch Redis
	require.NoError(t, rs.Delete(context.Background()))
}

func TestRedisStoreTTLMapping(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}
	ctx := context.Background()

	mock.ExpectTTL("live").SetVal(120 * time.Second)
	assert.Equal(t, int64(120), rs.TTL(ctx, "live"))

	mock.ExpectTTL("forever").SetVal(-1)
	assert.Equal(t, TTLNone, rs.TTL(ctx, "forever"))

	mock.ExpectTTL("gone").SetVal(-2)
	assert.Equal(t, TTLMissing, rs.TTL(ctx, "gone"))
}

func TestSegmentCacheDegradesOnStoreFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rs := &RedisStore{client: client, log: zerolog.Nop()}
	sc := NewSegmentCache(rs, config.RedisConfig{
		TTLSeconds:    300,
		MaxBarsPerKey: 10_000,
		KeyPrefix:     "midas:cache:",
	}, zerolog.Nop())

	mock.ExpectGet("midas:cache:ohlcv:BTCUSDT:1h").SetErr(errors.New("timeout"))

	end := int64(1_700_000_000_000)
	res := sc.Get(context.Background(), "BTCUSDT", "1h", 50, &end)
	assert.Equal(t, CoverageNone, res.Coverage)
}
