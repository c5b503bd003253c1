package redisproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Known-answer tests for the CRC16/XMODEM keyslot function, values taken
// from the Redis Cluster specification's worked examples.
func TestKeySlot_KnownValues(t *testing.T) {
	assert.Equal(t, 12739, KeySlot("123456789"))
	assert.Equal(t, KeySlot("foo"), KeySlot("{foo}"))
}

func TestKeySlot_HashTagRoutesTogether(t *testing.T) {
	a := KeySlot("user:{42}:name")
	b := KeySlot("user:{42}:email")
	assert.Equal(t, a, b)
}

func TestKeySlot_EmptyHashTagIgnored(t *testing.T) {
	// "{}" has no content between braces, so the whole key is hashed.
	a := KeySlot("foo{}bar")
	b := KeySlot("baz{}bar")
	assert.NotEqual(t, a, b)
}

func TestIsSlotless(t *testing.T) {
	assert.True(t, IsSlotless("SWAPDB"))
	assert.False(t, IsSlotless("GET"))
}

func TestSlotsForKeys_CrossSlotDetection(t *testing.T) {
	slots := SlotsForKeys([]string{"a", "b", "c"})
	assert.GreaterOrEqual(t, len(slots), 1)

	sameSlot := SlotsForKeys([]string{"{tag}a", "{tag}b"})
	assert.Len(t, sameSlot, 1)
}
