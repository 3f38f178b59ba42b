// Package container implements the generic dependency injection
// container: named component registrations resolved lazily, with
// singleton caching and cycle detection across declared dependency
// edges.
package container

import (
	"fmt"
	"sync"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// Lifetime controls whether a resolved value is cached and reused.
type Lifetime string

const (
	// Singleton: the factory runs once; subsequent Resolve calls return
	// the cached value.
	Singleton Lifetime = "singleton"
	// Transient: the factory runs on every Resolve call.
	Transient Lifetime = "transient"
)

type registration struct {
	lifetime Lifetime
	deps     []string
	factory  func(c *Container) (any, error)
	cached   any
	built    bool
	mu       sync.Mutex
}

// Container is a name-keyed registry of component factories. Keying is
// by declared string name rather than reflect.Type, so two differently
// configured instances of the same Go type can both be registered.
type Container struct {
	mu            sync.RWMutex
	registrations map[string]*registration
	resolving     map[string]bool
}

func New() *Container {
	return &Container{
		registrations: make(map[string]*registration),
		resolving:     make(map[string]bool),
	}
}

// Register adds a component under name. deps lists the names of other
// registrations this factory calls Resolve on; it is used purely for
// ValidateDependencies, not for ordering (Resolve itself is lazy).
func Register[T any](c *Container, name string, lifetime Lifetime, factory func(c *Container) (T, error), deps []string) error {
	if name == "" {
		return flowerrors.NewConfiguration("container", "registration name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.registrations[name]; exists {
		return flowerrors.NewConfiguration("container", "component "+name+" already registered")
	}
	c.registrations[name] = &registration{
		lifetime: lifetime,
		deps:     deps,
		factory: func(c *Container) (any, error) {
			return factory(c)
		},
	}
	return nil
}

// Resolve builds (or returns the cached) value registered under name,
// type-asserting it to T. Resolving a registration that is already in
// progress on the same call stack is a cycle and returns a RuntimeError.
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T

	c.mu.RLock()
	reg, ok := c.registrations[name]
	c.mu.RUnlock()
	if !ok {
		return zero, flowerrors.NewNotFound("container", "component "+name+" not registered")
	}

	c.mu.Lock()
	if c.resolving[name] {
		c.mu.Unlock()
		return zero, flowerrors.NewRuntime("container", "cycle detected resolving "+name, nil)
	}
	c.resolving[name] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.resolving, name)
		c.mu.Unlock()
	}()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.lifetime == Singleton && reg.built {
		v, ok := reg.cached.(T)
		if !ok {
			return zero, flowerrors.NewRuntime("container", "cached value for "+name+" has wrong type", nil)
		}
		return v, nil
	}

	raw, err := reg.factory(c)
	if err != nil {
		return zero, flowerrors.NewRuntime("container", "building "+name, err)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, flowerrors.NewRuntime("container", "factory for "+name+" returned wrong type", nil)
	}

	if reg.lifetime == Singleton {
		reg.cached = raw
		reg.built = true
	}
	return v, nil
}

// ValidateDependencies performs a DFS over the declared dependency
// edges of every registration and returns an error naming the cycle
// path if one exists.
func (c *Container) ValidateDependencies() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(c.registrations))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		path = append(path, name)

		reg, ok := c.registrations[name]
		if ok {
			for _, dep := range reg.deps {
				switch color[dep] {
				case white:
					if err := visit(dep); err != nil {
						return err
					}
				case gray:
					cycle := append(append([]string{}, path...), dep)
					return flowerrors.NewConfiguration("container", fmt.Sprintf("dependency cycle: %v", cycle))
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	for name := range c.registrations {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
