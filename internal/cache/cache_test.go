package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/site"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKVClient struct {
	mock.Mock
}

func (m *MockKVClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *MockKVClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockKVClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func sampleProducts() []models.Product {
	return []models.Product{
		{Name: "Lamp", Price: "₱120", Image: models.StringPtr("https://a/1.jpg"), Sold: "1k sold"},
		{Name: "Fan", Price: "₱99", Image: models.StringPtr("")},
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "webscout:products:shopee", Key(site.Shopee))
	assert.Equal(t, "webscout:products:tiktok", Key(site.TikTok))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, err := c.Get(ctx, site.Shopee)
	assert.ErrorIs(t, err, ErrCacheMiss)

	products := sampleProducts()
	require.NoError(t, c.Put(ctx, site.Shopee, products))

	*products[0].Image = "mutated"
	got, err := c.Get(ctx, site.Shopee)
	require.NoError(t, err)
	assert.Equal(t, "https://a/1.jpg", got[0].ImageURL(), "writer mutations must not leak in")

	got[1].Name = "changed"
	again, err := c.Get(ctx, site.Shopee)
	require.NoError(t, err)
	assert.Equal(t, "Fan", again[1].Name, "reader mutations must not leak back")

	_, err = c.Get(ctx, site.TikTok)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Clear(ctx, site.Shopee))
	_, err = c.Get(ctx, site.Shopee)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryEmptyListIsNotAMiss(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	require.NoError(t, c.Put(ctx, site.TikTok, []models.Product{}))

	got, err := c.Get(ctx, site.TikTok)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisPutGet(t *testing.T) {
	ctx := context.Background()
	client := new(MockKVClient)
	c := NewRedis(client, time.Hour)

	encoded := `[{"name":"Lamp","price":"₱120","image":"https://a/1.jpg","sold":"1k sold"},{"name":"Fan","price":"₱99","image":""}]`
	client.On("Set", ctx, "webscout:products:shopee", mock.MatchedBy(func(v []byte) bool {
		return string(v) == encoded
	}), time.Hour).Return(nil)
	client.On("Get", ctx, "webscout:products:shopee").Return(encoded, nil)

	require.NoError(t, c.Put(ctx, site.Shopee, sampleProducts()))
	got, err := c.Get(ctx, site.Shopee)
	require.NoError(t, err)
	assert.Equal(t, sampleProducts(), got)
	client.AssertExpectations(t)
}

func TestRedisErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		client := new(MockKVClient)
		client.On("Get", ctx, "webscout:products:tiktok").Return("", redis.Nil)
		_, err := NewRedis(client, 0).Get(ctx, site.TikTok)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("connection failure", func(t *testing.T) {
		client := new(MockKVClient)
		client.On("Get", ctx, "webscout:products:tiktok").Return("", errors.New("i/o timeout"))
		_, err := NewRedis(client, 0).Get(ctx, site.TikTok)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("clear", func(t *testing.T) {
		client := new(MockKVClient)
		client.On("Del", ctx, []string{"webscout:products:tiktok"}).Return(nil)
		require.NoError(t, NewRedis(client, 0).Clear(ctx, site.TikTok))
		client.AssertExpectations(t)
	})
}
