package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCapacityBound(t *testing.T) {
	c := newLRUCache(3)

	c.set("a", []byte("1"), time.Hour)
	c.set("b", []byte("2"), time.Hour)
	c.set("c", []byte("3"), time.Hour)
	c.set("d", []byte("4"), time.Hour)

	assert.Equal(t, 3, c.size())

	_, ok := c.get("a")
	assert.False(t, ok, "least recently used entry is evicted")

	for _, key := range []string{"b", "c", "d"} {
		_, ok := c.get(key)
		assert.True(t, ok)
	}
}

func TestLRUGetPromotes(t *testing.T) {
	c := newLRUCache(2)

	c.set("a", []byte("1"), time.Hour)
	c.set("b", []byte("2"), time.Hour)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.get("a")
	assert.True(t, ok)

	c.set("c", []byte("3"), time.Hour)

	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("b")
	assert.False(t, ok)
}

func TestLRUExpiry(t *testing.T) {
	c := newLRUCache(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	c.set("k", []byte("v"), time.Minute)

	_, ok := c.get("k")
	assert.True(t, ok)

	current = base.Add(2 * time.Minute)

	_, ok = c.get("k")
	assert.False(t, ok, "expired entry is a miss")
	assert.Equal(t, 0, c.size(), "expired entry is dropped on read")
}

func TestLRUUpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.set("k", []byte("old"), time.Hour)
	c.set("k", []byte("new"), time.Hour)

	val, ok := c.get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), val)
	assert.Equal(t, 1, c.size())
}
