package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Uniqueness(t *testing.T) {
	ids := make(map[string]bool)
	count := 1000

	for range count {
		id, err := Generate(PrefixSubscriber)
		require.NoError(t, err)
		assert.False(t, ids[id], "ID should be unique: %s", id)
		ids[id] = true
	}

	assert.Len(t, ids, count)
}

func TestGenerate_Format(t *testing.T) {
	id, err := Generate(PrefixSubscriber)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "sub-"))
	// Default NanoID length is 21.
	assert.Len(t, id, len("sub-")+21)
	assert.True(t, HasPrefix(id, PrefixSubscriber))
}

func TestRequest(t *testing.T) {
	id, err := Request()
	require.NoError(t, err)

	assert.True(t, HasPrefix(id, PrefixRequest))
	assert.Len(t, id, len("req-")+requestLength)
	assert.Equal(t, strings.ToLower(id), id)
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("sub-abc", "sub"))
	assert.False(t, HasPrefix("sub-", "sub"))
	assert.False(t, HasPrefix("req-abc", "sub"))
	assert.False(t, HasPrefix("subabc", "sub"))
}
