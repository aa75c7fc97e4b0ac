package app

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kasira-dev/fees-engine/migrations"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	for base := range ups {
		require.True(t, downs[base], "missing down migration for %s", base)
	}
	for base := range downs {
		require.True(t, ups[base], "missing up migration for %s", base)
	}
}

func TestNewAdminLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lim, err := NewAdminLimiter(client, "2-M")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := lim.Get(ctx, "ops-cli")
	require.NoError(t, err)
	require.False(t, first.Reached)

	_, err = lim.Get(ctx, "ops-cli")
	require.NoError(t, err)

	third, err := lim.Get(ctx, "ops-cli")
	require.NoError(t, err)
	require.True(t, third.Reached)
}

func TestNewAdminLimiterRejectsBadRate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewAdminLimiter(client, "lots")
	require.Error(t, err)
}

func TestNewValidatorPaymentMethod(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	type payload struct {
		Method string `validate:"required,paymentmethod"`
	}

	require.NoError(t, v.Struct(payload{Method: "card"}))
	require.NoError(t, v.Struct(payload{Method: "bank_transfer"}))
	require.NoError(t, v.Struct(payload{Method: "COD"}))
	require.Error(t, v.Struct(payload{Method: ""}))
	require.Error(t, v.Struct(payload{Method: "1card"}))
	require.Error(t, v.Struct(payload{Method: "pay pal"}))
	require.Error(t, v.Struct(payload{Method: strings.Repeat("x", 40)}))
}
