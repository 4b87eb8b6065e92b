package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCacheInsertAndGet(t *testing.T) {
	c := NewFileCache(10, 1024)
	stored, cached := c.Insert("/a.html", []byte("hello"))
	assert.True(t, cached)
	assert.Nil(t, stored)

	entry, ok := c.Get("/a.html")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), entry.Bytes)
}

func TestFileCacheOversizedEntryBypassesCache(t *testing.T) {
	c := NewFileCache(10, 4)
	stored, cached := c.Insert("/big.html", []byte("too big"))
	assert.False(t, cached)
	assert.Equal(t, []byte("too big"), stored)

	_, ok := c.Get("/big.html")
	assert.False(t, ok)
}

func TestFileCacheLRUEviction(t *testing.T) {
	c := NewFileCache(2, 1024)
	c.Insert("/a", []byte("a"))
	c.Insert("/b", []byte("b"))
	c.Get("/a") // touch a, making b least-recently-used
	c.Insert("/c", []byte("c"))

	_, aOK := c.Get("/a")
	_, bOK := c.Get("/b")
	_, cOK := c.Get("/c")
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestFileCacheGetOrReadSingleFlight(t *testing.T) {
	c := NewFileCache(10, 1024)
	calls := 0
	read := func() ([]byte, error) {
		calls++
		return []byte("content"), nil
	}

	e1, err := c.GetOrRead("/x", read)
	require.NoError(t, err)
	e2, err := c.GetOrRead("/x", read)
	require.NoError(t, err)

	assert.Equal(t, e1.Bytes, e2.Bytes)
	assert.Equal(t, 1, calls)
}

func TestFileCacheRemoveAndClear(t *testing.T) {
	c := NewFileCache(10, 1024)
	c.Insert("/a", []byte("a"))
	c.Remove("/a")
	_, ok := c.Get("/a")
	assert.False(t, ok)

	c.Insert("/b", []byte("b"))
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
