package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/event/store"
)

func TestMigrateToVersionAppliesDirectEdge(t *testing.T) {
	m := New()
	m.RegisterMigrator("order.created", 1, FieldRename("qty", "quantity"))

	env := store.NewEnvelope("agg-1", "order", "order.created", 1, map[string]any{"qty": 3})
	env.SchemaVersion = 1

	migrated, err := m.MigrateToVersion(env, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, migrated.SchemaVersion)
	assert.Equal(t, 3, migrated.EventData["quantity"])
	_, hasOld := migrated.EventData["qty"]
	assert.False(t, hasOld)
}

func TestMigrateToVersionChainsMultipleEdges(t *testing.T) {
	m := New()
	m.RegisterMigrator("order.created", 1, AddField("currency", "USD"))
	m.RegisterMigrator("order.created", 2, RemoveField("legacy_flag"))

	env := store.NewEnvelope("agg-1", "order", "order.created", 1, map[string]any{"legacy_flag": true})
	env.SchemaVersion = 1

	migrated, err := m.MigrateToVersion(env, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, migrated.SchemaVersion)
	assert.Equal(t, "USD", migrated.EventData["currency"])
	_, hasLegacy := migrated.EventData["legacy_flag"]
	assert.False(t, hasLegacy)
}

func TestMigrateToVersionNoopWhenAlreadyTarget(t *testing.T) {
	m := New()
	env := store.NewEnvelope("agg-1", "order", "order.created", 1, nil)
	env.SchemaVersion = 2

	migrated, err := m.MigrateToVersion(env, 2)
	require.NoError(t, err)
	assert.Same(t, env, migrated)
}

func TestMigrateToVersionFailsWithoutPath(t *testing.T) {
	m := New()
	env := store.NewEnvelope("agg-1", "order", "order.created", 1, nil)
	env.SchemaVersion = 1

	_, err := m.MigrateToVersion(env, 5)
	assert.Error(t, err)
}

func TestMigrateToVersionUsesCacheOnSecondCall(t *testing.T) {
	m := New()
	calls := 0
	m.RegisterMigrator("order.created", 1, func(env *store.Envelope) (*store.Envelope, error) {
		calls++
		return cloneEnvelope(env), nil
	})

	env := store.NewEnvelope("agg-1", "order", "order.created", 1, nil)
	env.SchemaVersion = 1

	_, err := m.MigrateToVersion(env, 2)
	require.NoError(t, err)
	_, err = m.MigrateToVersion(env, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}
