package sessionstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danhigham/tgpulse/internal/sessionstore"
)

func newRedisStore(t *testing.T) (*sessionstore.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return sessionstore.NewRedis(rdb), mr
}

func TestRedis_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	now := time.Now()

	rec := sessionstore.Record{ID: "abc", Data: []byte{1, 2, 3}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.Put(ctx, rec))
	assert.True(t, mr.Exists("tgpulse:session:abc"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("tgpulse:session:abc").Seconds(), 5)

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))

	require.NoError(t, s.Delete(ctx, "abc"))
	_, err = s.Get(ctx, "abc")
	assert.True(t, errors.Is(err, sessionstore.ErrNotFound))
}

func TestRedis_KeyTTLExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	now := time.Now()

	require.NoError(t, s.Put(ctx, sessionstore.Record{ID: "abc", ExpiresAt: now.Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "abc")
	assert.True(t, errors.Is(err, sessionstore.ErrNotFound))
}

func TestRedis_PutExpiredRecordDeletes(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	now := time.Now()

	require.NoError(t, s.Put(ctx, sessionstore.Record{ID: "abc", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.Put(ctx, sessionstore.Record{ID: "abc", ExpiresAt: now.Add(-time.Second)}))
	assert.False(t, mr.Exists("tgpulse:session:abc"))
}

func TestRedis_ClockExpiry(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, sessionstore.Record{ID: "abc", ExpiresAt: now.Add(time.Hour)}))
	now = now.Add(2 * time.Hour)

	_, err := s.Get(ctx, "abc")
	assert.True(t, errors.Is(err, sessionstore.ErrNotFound))
}
