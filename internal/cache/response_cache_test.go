package cache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iselk/kvarn/pkg/kerr"
)

func plainCR(body string) *CompressedResponse {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	return NewCompressedResponse(http.StatusOK, h, []byte(body))
}

func TestResponseCacheInsertAndGetSingle(t *testing.T) {
	c := NewResponseCache(10, 1<<20)
	key := PathKey("/index.html")
	c.InsertSingle(key, plainCR("hi"))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.True(t, got.IsSingle())
}

func TestResponseCacheVaryVariantsResolve(t *testing.T) {
	c := NewResponseCache(10, 1<<20)
	key := PathKey("/a")

	err := c.InsertVariant(key, []string{"accept-encoding"}, []string{"gzip"}, plainCR("gzip-body"))
	require.NoError(t, err)
	err = c.InsertVariant(key, []string{"accept-encoding"}, []string{"identity"}, plainCR("identity-body"))
	require.NoError(t, err)

	cached, ok := c.Get(key)
	require.True(t, ok)

	resolved := cached.Resolve(func(axis string) string {
		if axis == "accept-encoding" {
			return "identity"
		}
		return ""
	})
	require.NotNil(t, resolved)
	assert.Equal(t, []byte("identity-body"), resolved.Identity)
}

func TestResponseCacheInsertVariantRejectsIncompatibleEntry(t *testing.T) {
	c := NewResponseCache(10, 1<<20)
	key := PathKey("/a")
	c.InsertSingle(key, plainCR("single"))

	err := c.InsertVariant(key, []string{"accept-encoding"}, []string{"gzip"}, plainCR("gzip-body"))
	assert.Error(t, err)
}

func TestResponseCacheRemoveByPathClearsAllVariants(t *testing.T) {
	c := NewResponseCache(10, 1<<20)
	c.InsertSingle(PathQueryKey("/a", "x=1"), plainCR("one"))
	c.InsertSingle(PathQueryKey("/a", "x=2"), plainCR("two"))
	c.InsertSingle(PathKey("/b"), plainCR("three"))

	c.RemoveByPath("/a")

	assert.Equal(t, 1, c.Len())
}

func TestResponseCacheInsertSingleRejectsOversizedValue(t *testing.T) {
	c := NewResponseCache(10, 4)
	key := PathKey("/big")

	ok := c.InsertSingle(key, plainCR("way too big for four bytes"))
	assert.False(t, ok)

	_, found := c.Get(key)
	assert.False(t, found, "cache must remain untouched when the entry is rejected")
}

func TestResponseCacheInsertVariantRejectsOversizedValue(t *testing.T) {
	c := NewResponseCache(10, 4)
	key := PathKey("/big")

	err := c.InsertVariant(key, []string{"accept-encoding"}, []string{"identity"}, plainCR("way too big for four bytes"))
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.PayloadTooLarge))

	_, found := c.Get(key)
	assert.False(t, found, "cache must remain untouched when the entry is rejected")
}

func TestResponseCacheLRUEviction(t *testing.T) {
	c := NewResponseCache(2, 1<<20)
	c.InsertSingle(PathKey("/a"), plainCR("a"))
	c.InsertSingle(PathKey("/b"), plainCR("b"))
	c.Get(PathKey("/a"))
	c.InsertSingle(PathKey("/c"), plainCR("c"))

	_, aOK := c.Get(PathKey("/a"))
	_, bOK := c.Get(PathKey("/b"))
	assert.True(t, aOK)
	assert.False(t, bOK)
}
