package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type ledgerView struct {
	Version int    `json:"version"`
	Total   string `json:"total"`
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheRoundtrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := KeyLedgerView(uuid.New())

	var missed ledgerView
	ok, err := c.GetJSON(ctx, key, &missed)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.SetJSON(ctx, key, ledgerView{Version: 3, Total: "57126"}))

	var got ledgerView
	ok, err = c.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, got.Version)
	require.Equal(t, "57126", got.Total)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := KeyLedgerView(uuid.New())

	require.NoError(t, c.SetJSON(ctx, key, ledgerView{Version: 1}))
	require.NoError(t, c.Delete(ctx, key))

	var got ledgerView
	ok, err := c.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheNilClientPermissive(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	ok, err := c.GetJSON(ctx, "any", &ledgerView{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.SetJSON(ctx, "any", ledgerView{}))
	require.NoError(t, c.Delete(ctx, "any"))
}
