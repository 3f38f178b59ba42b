// Package registry implements service discovery: a directory of
// ServiceInstance records that service consumers query to find live
// instances of a dependency, plus health bookkeeping fed by the health
// monitor.
package registry

import (
	"sync"
	"time"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// HealthStatus mirrors the health monitor's classification of an
// instance.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ServiceInstance is one discoverable instance of a named service.
type ServiceInstance struct {
	ID            string
	Name          string
	Version       string
	Endpoint      string
	Capabilities  []string
	Metadata      map[string]any
	HealthStatus  HealthStatus
	LoadMetrics   map[string]float64
	RegisteredAt  time.Time
	LastSeen      time.Time
}

// Registry tracks live ServiceInstance records.
type Registry interface {
	Register(instance ServiceInstance) error
	Deregister(instanceID string) error
	List() []ServiceInstance
	GetInstances(serviceName string) []ServiceInstance
	UpdateHealth(instanceID string, status HealthStatus) error
}

type registry struct {
	mu        sync.RWMutex
	instances map[string]ServiceInstance
}

func New() Registry {
	return &registry{instances: make(map[string]ServiceInstance)}
}

func (r *registry) Register(instance ServiceInstance) error {
	if instance.ID == "" || instance.Name == "" {
		return flowerrors.NewValidation("registry", "instance requires id and name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	instance.RegisteredAt = time.Now()
	instance.LastSeen = time.Now()
	if instance.HealthStatus == "" {
		instance.HealthStatus = HealthUnknown
	}
	r.instances[instance.ID] = instance
	return nil
}

func (r *registry) Deregister(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[instanceID]; !ok {
		return flowerrors.NewNotFound("registry", "instance "+instanceID+" not found")
	}
	delete(r.instances, instanceID)
	return nil
}

func (r *registry) List() []ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

func (r *registry) GetInstances(serviceName string) []ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServiceInstance
	for _, inst := range r.instances {
		if inst.Name == serviceName {
			out = append(out, inst)
		}
	}
	return out
}

func (r *registry) UpdateHealth(instanceID string, status HealthStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return flowerrors.NewNotFound("registry", "instance "+instanceID+" not found")
	}
	inst.HealthStatus = status
	inst.LastSeen = time.Now()
	r.instances[instanceID] = inst
	return nil
}

// Discovery resolves a logical service name to the instances currently
// offering it, and lets a service announce itself into the registry.
type Discovery interface {
	Discover(serviceName string) ([]ServiceInstance, error)
	RegisterService(instance ServiceInstance) error
}

type discovery struct {
	registry Registry
}

// NewDiscovery builds a Discovery that proxies straight to reg.
func NewDiscovery(reg Registry) Discovery {
	return &discovery{registry: reg}
}

func (d *discovery) Discover(serviceName string) ([]ServiceInstance, error) {
	instances := d.registry.GetInstances(serviceName)
	if len(instances) == 0 {
		return nil, flowerrors.NewNotFound("registry.discovery", "no instances of "+serviceName)
	}
	return instances, nil
}

func (d *discovery) RegisterService(instance ServiceInstance) error {
	return d.registry.Register(instance)
}
