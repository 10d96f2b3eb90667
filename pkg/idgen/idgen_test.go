package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonyflakeGeneratorUnique(t *testing.T) {
	gen, err := NewSonyflakeGenerator(1)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := gen.NextID()
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestUUIDGeneratorUnique(t *testing.T) {
	gen := NewUUIDGenerator()

	a, err := gen.NextID()
	require.NoError(t, err)
	b, err := gen.NextID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDefaultGenerator(t *testing.T) {
	id, err := NextID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
