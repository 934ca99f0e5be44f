// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	Query  string   `json:"query"`
	Titles []string `json:"titles"`
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis[result]) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisFromClient[result](client, "")
}

func TestRedis_RoundTripsTypedValues(t *testing.T) {
	mr, c := setupRedis(t)

	want := result{Query: "ytsearch:lofi", Titles: []string{"a", "b"}}
	c.Set("ytsearch:lofi", want, time.Minute)
	assert.True(t, mr.Exists(DefaultRedisPrefix+"ytsearch:lofi"))

	got, ok := c.Get("ytsearch:lofi")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestRedis_TTL(t *testing.T) {
	mr, c := setupRedis(t)
	c.Set("k", result{Query: "q"}, time.Second)
	mr.FastForward(2 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestRedis_UndecodableIsMiss(t *testing.T) {
	mr, c := setupRedis(t)
	require.NoError(t, mr.Set(DefaultRedisPrefix+"bad", "{not json"))
	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestRedis_ClearKeepsForeignKeys(t *testing.T) {
	mr, c := setupRedis(t)
	require.NoError(t, mr.Set("other:key", "x"))
	c.Set("a", result{}, time.Minute)
	c.Set("b", result{}, time.Minute)
	c.Delete("b")
	assert.False(t, mr.Exists(DefaultRedisPrefix+"b"))

	c.Clear()
	assert.False(t, mr.Exists(DefaultRedisPrefix+"a"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedis_HealthCheck(t *testing.T) {
	mr, c := setupRedis(t)
	require.NoError(t, c.HealthCheck(t.Context()))
	mr.Close()
	assert.Error(t, c.HealthCheck(t.Context()))
}
