package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitInvalidURL(t *testing.T) {
	err := Init("://invalid-url", "")
	assert.Error(t, err)
}

func TestInit_PasswordOverridesURL(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("vault-pass")
	t.Cleanup(func() { SetClient(nil) })

	require.NoError(t, Init("redis://:stale@"+mr.Addr()+"/0", "vault-pass"))
	require.NotNil(t, GetClient())
	assert.Equal(t, "vault-pass", GetClient().Options().Password)

	ctx := context.Background()
	require.NoError(t, Set(ctx, "k", "v", time.Minute))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	assert.Error(t, Init("redis://:stale@"+mr.Addr()+"/0", ""), "the URL password is used when none is configured")
}

func TestInit_UnreachableServer(t *testing.T) {
	orig := pingClient
	var pinged *goredis.Client
	pingClient = func(_ context.Context, c *goredis.Client) error {
		pinged = c
		return errors.New("dial tcp: refused")
	}
	t.Cleanup(func() {
		pingClient = orig
		SetClient(nil)
	})

	err := Init("redis://127.0.0.1:0", "")
	assert.Error(t, err)
	assert.Same(t, GetClient(), pinged, "Init pings the client it installs")
}

func TestSetClientAndBasicOpsWithUnreachableRedis(t *testing.T) {
	cli := goredis.NewClient(&goredis.Options{
		Addr:         "127.0.0.1:0", // invalid/unreachable
		DialTimeout:  50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
	})
	SetClient(cli)
	assert.NotNil(t, GetClient())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.Error(t, Set(ctx, "k", "v", time.Second))
	_, err := Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, Del(ctx, "k"))
	_, err = SetNX(ctx, "k", "v", time.Second)
	assert.Error(t, err)
}

func TestBasicOpsWithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, Set(ctx, "k", "v", time.Minute))
	v, err := Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	ok, err := SetNX(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Del(ctx, "k"))
	_, err = Get(ctx, "k")
	assert.ErrorIs(t, err, goredis.Nil)
}
