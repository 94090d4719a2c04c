package cache

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: mr.Addr(), DB: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.Select(3)
	assert.True(t, mr.Exists("k"))
}

func TestNewAuthenticates(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.Error(t, err)

	client, err := New(context.Background(), Options{Addr: mr.Addr(), Password: "s3cret"})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), Options{Addr: addr})
	require.Error(t, err)

	_, err = New(context.Background(), Options{})
	require.Error(t, err)
}

func TestQueueOptionsMirrorConnection(t *testing.T) {
	q := Options{Addr: "redis:6379", Password: "pw", DB: 2}.Queue()
	assert.Equal(t, "redis:6379", q.Addr)
	assert.Equal(t, "pw", q.Password)
	assert.Equal(t, 2, q.DB)
}
