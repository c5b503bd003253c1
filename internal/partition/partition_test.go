package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/dflow/internal/meta"
)

func row(id int64) *meta.RowData {
	return &meta.RowData{
		Schema: "s", Table: "t", Type: meta.RowInsert,
		After: map[string]meta.ColValue{"id": meta.NewInt(meta.KindBigInt, id)},
	}
}

func TestShard_SameIDAlwaysSameShard(t *testing.T) {
	p := New(8)
	r1 := row(42)
	r2 := row(42)

	s1, ok1 := p.Shard(r1, []string{"id"})
	s2, ok2 := p.Shard(r2, []string{"id"})
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, s1, s2)
}

func TestShard_NoIDColsIsUnpartitionable(t *testing.T) {
	p := New(8)
	_, ok := p.Shard(row(1), nil)
	assert.False(t, ok)
}

func TestShard_NullIDValueIsUnpartitionable(t *testing.T) {
	p := New(8)
	r := &meta.RowData{
		Schema: "s", Table: "t", Type: meta.RowInsert,
		After: map[string]meta.ColValue{"id": meta.None},
	}
	_, ok := p.Shard(r, []string{"id"})
	assert.False(t, ok)
}

func TestShard_WithinRange(t *testing.T) {
	p := New(4)
	for i := int64(0); i < 50; i++ {
		s, ok := p.Shard(row(i), []string{"id"})
		require.True(t, ok)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 4)
	}
}
