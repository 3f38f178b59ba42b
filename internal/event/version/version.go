// Package version implements schema versioning and migration for stored
// events: a per-event-type migrator graph, BFS shortest-path migration,
// and a small bounded cache memoizing migration results.
package version

import (
	"fmt"
	"sync"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// Migrator transforms an envelope from one schema version to the next.
type Migrator func(env *store.Envelope) (*store.Envelope, error)

type edge struct {
	toVersion int
	migrate   Migrator
}

// Manager holds, per event type, the graph of registered migrators
// between schema versions.
type Manager struct {
	mu     sync.RWMutex
	graphs map[string]map[int][]edge
	cache  *resultCache
}

func New() *Manager {
	return &Manager{
		graphs: make(map[string]map[int][]edge),
		cache:  newResultCache(256),
	}
}

// RegisterMigrator adds a migration edge from fromVersion to
// fromVersion+1 for eventType.
func (m *Manager) RegisterMigrator(eventType string, fromVersion int, migrate Migrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graphs[eventType] == nil {
		m.graphs[eventType] = make(map[int][]edge)
	}
	m.graphs[eventType][fromVersion] = append(m.graphs[eventType][fromVersion], edge{toVersion: fromVersion + 1, migrate: migrate})
}

// MigrateToVersion walks the shortest chain of registered migrators that
// takes env from its current schema version to targetVersion.
func (m *Manager) MigrateToVersion(env *store.Envelope, targetVersion int) (*store.Envelope, error) {
	if env.SchemaVersion == targetVersion {
		return env, nil
	}

	if cached, ok := m.cache.get(env.EventID, targetVersion); ok {
		return cached, nil
	}

	m.mu.RLock()
	graph := make(map[int][]edge, len(m.graphs[env.EventType]))
	for from, edges := range m.graphs[env.EventType] {
		graph[from] = edges
	}
	m.mu.RUnlock()

	path, err := bfsPath(graph, env.SchemaVersion, targetVersion)
	if err != nil {
		return nil, err
	}

	current := env
	for _, e := range path {
		current, err = e.migrate(current)
		if err != nil {
			return nil, flowerrors.NewMigration("event.version", fmt.Sprintf("migrating %s from v%d to v%d", env.EventType, env.SchemaVersion, e.toVersion), err)
		}
		current.SchemaVersion = e.toVersion
	}

	m.cache.put(env.EventID, targetVersion, current)
	return current, nil
}

func bfsPath(graph map[int][]edge, from, to int) ([]edge, error) {
	if from == to {
		return nil, nil
	}

	type queueItem struct {
		version int
		path    []edge
	}

	visited := map[int]bool{from: true}
	queue := []queueItem{{version: from, path: nil}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, e := range graph[item.version] {
			if visited[e.toVersion] {
				continue
			}
			newPath := append(append([]edge{}, item.path...), e)
			if e.toVersion == to {
				return newPath, nil
			}
			visited[e.toVersion] = true
			queue = append(queue, queueItem{version: e.toVersion, path: newPath})
		}
	}

	return nil, flowerrors.NewMigration("event.version", fmt.Sprintf("no migration path from v%d to v%d", from, to), nil)
}
