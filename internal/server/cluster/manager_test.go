package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov/crmsync/pkg/api"
)

func TestManager_EnableAndJoin(t *testing.T) {
	m := NewManager("node-1:8080")

	// До enable членство менять нельзя
	assert.ErrorIs(t, m.AddNode("node-2:8080"), ErrNotEnabled)
	assert.ErrorIs(t, m.Finish(), ErrNotEnabled)

	require.NoError(t, m.Enable(api.ShardConfig{Shards: 4, Replicas: 2}))
	require.NoError(t, m.AddNode("node-2:8080"))
	require.NoError(t, m.AddNode("node-3:8080"))
	require.NoError(t, m.Finish())

	membership := m.Membership()
	assert.True(t, membership.Finished)
	require.Len(t, membership.Nodes, 3)
	// Детерминированный порядок
	assert.Equal(t, "node-1:8080", membership.Nodes[0].Addr)
	assert.Equal(t, "node-2:8080", membership.Nodes[1].Addr)
	assert.Equal(t, "node-3:8080", membership.Nodes[2].Addr)
}

func TestManager_Idempotent(t *testing.T) {
	m := NewManager("node-1:8080")
	cfg := api.ShardConfig{Shards: 4, Replicas: 2}

	require.NoError(t, m.Enable(cfg))
	require.NoError(t, m.Enable(cfg))
	require.NoError(t, m.AddNode("node-2:8080"))
	require.NoError(t, m.AddNode("node-2:8080"))
	require.NoError(t, m.Finish())
	require.NoError(t, m.Finish())

	assert.Len(t, m.Membership().Nodes, 2)
}

func TestManager_EnableDifferentShardingFails(t *testing.T) {
	m := NewManager("node-1:8080")

	require.NoError(t, m.Enable(api.ShardConfig{Shards: 4, Replicas: 2}))

	err := m.Enable(api.ShardConfig{Shards: 8, Replicas: 2})
	assert.ErrorIs(t, err, ErrShardingImmutable)
}

func TestManager_EnsureCollection(t *testing.T) {
	m := NewManager("node-1:8080")
	cfg := api.ShardConfig{Shards: 4, Replicas: 2}

	created, err := m.EnsureCollection("documents", cfg)
	require.NoError(t, err)
	assert.True(t, created)

	// Та же конфигурация — no-op
	created, err = m.EnsureCollection("documents", cfg)
	require.NoError(t, err)
	assert.False(t, created)

	// Другая конфигурация — ошибка, не тихое игнорирование
	_, err = m.EnsureCollection("documents", api.ShardConfig{Shards: 2, Replicas: 2})
	require.ErrorIs(t, err, ErrShardingImmutable)
	assert.Contains(t, err.Error(), "documents")
}

func TestManager_EnsureCollection_Validation(t *testing.T) {
	m := NewManager("node-1:8080")

	_, err := m.EnsureCollection("", api.ShardConfig{Shards: 1, Replicas: 1})
	assert.Error(t, err)

	_, err = m.EnsureCollection("documents", api.ShardConfig{})
	assert.Error(t, err)
}
