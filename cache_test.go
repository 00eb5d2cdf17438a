package playground

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetHonorsTTL(t *testing.T) {
	now := time.Now()
	c := NewCache()
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute + time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	// Expired entries are evicted on read.
	assert.Zero(t, c.Len())
}

func TestCacheGetStaleOutlivesTTL(t *testing.T) {
	now := time.Now()
	c := NewCache()
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Minute)
	now = now.Add(time.Hour)

	assert.True(t, c.IsStale("k"))
	v, ok := c.GetStale("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// Stale applies to present entries only; absent keys are just absent.
	c.Delete("k")
	assert.False(t, c.IsStale("k"))
	_, ok = c.GetStale("k")
	assert.False(t, ok)
}

func TestCacheSetReplacesEntry(t *testing.T) {
	c := NewCache()
	c.Set("k", 1, time.Minute)
	c.Set("k", 2, time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestCacheClear(t *testing.T) {
	c := NewCache()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Clear()
	assert.Zero(t, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
