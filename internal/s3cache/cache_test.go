package s3cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissIncrementsMisses(t *testing.T) {
	c := New(0, 0)
	_, ok := c.Get(OpHeadObject, "bucket", "key", "")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestPutThenGetHits(t *testing.T) {
	c := New(0, 0)
	c.Put(OpHeadObject, "bucket", "key", "", "value", 0)

	v, ok := c.Get(OpHeadObject, "bucket", "key", "")
	require.True(t, ok)
	assert.Equal(t, "value", v)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(0, 0)
	c.Put(OpHeadObject, "bucket", "key", "", "value", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(OpHeadObject, "bucket", "key", "")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(2, 0)
	c.Put(OpHeadObject, "b", "a", "", 1, 0)
	c.Put(OpHeadObject, "b", "b", "", 2, 0)
	// touch "a" so "b" becomes the least recently used
	_, _ = c.Get(OpHeadObject, "b", "a", "")
	c.Put(OpHeadObject, "b", "c", "", 3, 0)

	_, ok := c.Get(OpHeadObject, "b", "b", "")
	assert.False(t, ok, "least recently used entry should have been evicted")

	_, ok = c.Get(OpHeadObject, "b", "a", "")
	assert.True(t, ok)
	_, ok = c.Get(OpHeadObject, "b", "c", "")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestInvalidateKeyDropsExactAndDescendants(t *testing.T) {
	c := New(0, 0)
	c.Put(OpGetObject, "b", "dir/file.txt", "", 1, 0)
	c.Put(OpGetObject, "b", "dir/file.txt/oddchild", "", 2, 0)
	c.Put(OpGetObject, "b", "other.txt", "", 3, 0)

	c.InvalidateKey("b", "dir/file.txt")

	_, ok := c.Get(OpGetObject, "b", "dir/file.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(OpGetObject, "b", "dir/file.txt/oddchild", "")
	assert.False(t, ok)
	_, ok = c.Get(OpGetObject, "b", "other.txt", "")
	assert.True(t, ok)
}

func TestInvalidateKeyDropsAncestorListings(t *testing.T) {
	c := New(0, 0)
	c.Put(OpListObjects, "b", "dir", "", []string{"dir/a.txt"}, 0)
	c.Put(OpListObjects, "b", "", "", []string{"dir"}, 0) // bucket-root listing

	c.InvalidateKey("b", "dir/a.txt")

	_, ok := c.Get(OpListObjects, "b", "dir", "")
	assert.False(t, ok, "listing of the parent directory must be invalidated")
	_, ok = c.Get(OpListObjects, "b", "", "")
	assert.False(t, ok, "bucket-root listing must be invalidated")
}

func TestInvalidatePrefixDropsMatchingKeys(t *testing.T) {
	c := New(0, 0)
	c.Put(OpGetObject, "b", "dir/a.txt", "", 1, 0)
	c.Put(OpGetObject, "b", "dir/b.txt", "", 2, 0)
	c.Put(OpGetObject, "b", "other/c.txt", "", 3, 0)

	c.InvalidatePrefix("b", "dir/")

	_, ok := c.Get(OpGetObject, "b", "dir/a.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(OpGetObject, "b", "dir/b.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(OpGetObject, "b", "other/c.txt", "")
	assert.True(t, ok)
}

func TestInvalidateBucketDropsOnlyThatBucket(t *testing.T) {
	c := New(0, 0)
	c.Put(OpGetObject, "b1", "key", "", 1, 0)
	c.Put(OpGetObject, "b2", "key", "", 2, 0)

	c.InvalidateBucket("b1")

	_, ok := c.Get(OpGetObject, "b1", "key", "")
	assert.False(t, ok)
	_, ok = c.Get(OpGetObject, "b2", "key", "")
	assert.True(t, ok)
}

func TestClearDropsEverything(t *testing.T) {
	c := New(0, 0)
	c.Put(OpGetObject, "b", "key", "", 1, 0)
	c.Clear()

	_, ok := c.Get(OpGetObject, "b", "key", "")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestNewFallsBackToDefaults(t *testing.T) {
	c := New(-1, -1)
	assert.Equal(t, DefaultMaxEntries, c.maxEntries)
	assert.Equal(t, DefaultTTL, c.defaultTTL)
}
