package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/flowcoreio/enginecore/internal/node"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// SchemaLoader loads node.Schema definitions from a directory of YAML
// files and hot-reloads them as the files change on disk.
type SchemaLoader struct {
	dir     string
	mu      sync.RWMutex
	schemas map[string]*node.Schema
	watcher *fsnotify.Watcher
}

// NewSchemaLoader creates a SchemaLoader rooted at dir.
func NewSchemaLoader(dir string) *SchemaLoader {
	return &SchemaLoader{dir: dir, schemas: make(map[string]*node.Schema)}
}

// LoadAll reads every *.yaml/*.yml file in the loader's directory,
// validating each schema before storing it.
func (l *SchemaLoader) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return flowerrors.NewConfiguration("workflow.SchemaLoader", fmt.Sprintf("reading schema dir %s: %v", l.dir, err))
	}

	loaded := make(map[string]*node.Schema)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := entry.Name()[:len(entry.Name())-len(ext)]
		schema, err := l.loadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return err
		}
		loaded[name] = schema
	}

	l.mu.Lock()
	l.schemas = loaded
	l.mu.Unlock()
	return nil
}

func (l *SchemaLoader) loadFile(path string) (*node.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, flowerrors.NewConfiguration("workflow.SchemaLoader", fmt.Sprintf("reading %s: %v", path, err))
	}
	var schema node.Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, flowerrors.NewConfiguration("workflow.SchemaLoader", fmt.Sprintf("parsing %s: %v", path, err))
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &schema, nil
}

// Get returns the schema registered under name.
func (l *SchemaLoader) Get(name string) (*node.Schema, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.schemas[name]
	return s, ok
}

// Watch starts watching the loader's directory for changes, reloading
// all schemas whenever a file is written, created, or removed. It runs
// until ctx is canceled.
func (l *SchemaLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return flowerrors.NewConfiguration("workflow.SchemaLoader", fmt.Sprintf("creating watcher: %v", err))
	}
	l.watcher = watcher

	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return flowerrors.NewConfiguration("workflow.SchemaLoader", fmt.Sprintf("watching %s: %v", l.dir, err))
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					logging.Info("workflow.SchemaLoader", "schema file changed: %s, reloading", event.Name)
					if err := l.LoadAll(); err != nil {
						logging.Error("workflow.SchemaLoader", err, "reload failed after change to %s", event.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("workflow.SchemaLoader", err, "watcher error")
			}
		}
	}()

	return nil
}
