package cache

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/viboost/comment-engine-go/internal/redis"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	// This test requires a running Redis instance on DB 15.
	opts, err := goredis.ParseURL("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available for testing")
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available for testing")
	}
	t.Cleanup(func() { client.Close() })
	client.FlushDB(context.Background())
	return New(&redisclient.Client{Client: client})
}

func TestLockExclusivity(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "schedule_processing:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "schedule_processing:s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition must fail while held")

	require.NoError(t, c.ReleaseLock(ctx, "schedule_processing:s1"))

	ok, err = c.AcquireLock(ctx, "schedule_processing:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released lock is acquirable again")
}

func TestLockExpires(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "expiring", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)

	ok, err = c.AcquireLock(ctx, "expiring", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be reacquirable")
}

func TestCooldown(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	on, err := c.OnCooldown(ctx, "account:a1:video:v1:cooldown")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, c.SetCooldown(ctx, "account:a1:video:v1:cooldown", time.Minute))

	on, err = c.OnCooldown(ctx, "account:a1:video:v1:cooldown")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestMarkers(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	val, err := c.GetMarker(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.SetMarker(ctx, "schedule:s1:video:v1:lastAccount", "acc-7", time.Hour))

	val, err = c.GetMarker(ctx, "schedule:s1:video:v1:lastAccount")
	require.NoError(t, err)
	assert.Equal(t, "acc-7", val)
}

func TestJSONRoundTripAndInvalidate(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	type detail struct {
		ID     string `json:"id"`
		Posted int    `json:"posted"`
	}

	require.NoError(t, c.SetJSON(ctx, "schedule:s1", detail{ID: "s1", Posted: 4}, time.Minute))

	var got detail
	hit, err := c.GetJSON(ctx, "schedule:s1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, detail{ID: "s1", Posted: 4}, got)

	require.NoError(t, c.Invalidate(ctx, "schedule:s1"))

	hit, err = c.GetJSON(ctx, "schedule:s1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInvalidatePattern(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetMarker(ctx, "user:u1:schedules:list:0", "x", time.Minute))
	require.NoError(t, c.SetMarker(ctx, "user:u1:schedules:list:50", "y", time.Minute))
	require.NoError(t, c.SetMarker(ctx, "user:u2:schedules:list:0", "z", time.Minute))

	n, err := c.InvalidatePattern(ctx, "user:u1:schedules:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	val, err := c.GetMarker(ctx, "user:u2:schedules:list:0")
	require.NoError(t, err)
	assert.Equal(t, "z", val)
}
