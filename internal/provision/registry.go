package provision

import (
	"sync"

	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/units"
)

// Registry records fully bootstrapped units in completion order.
type Registry interface {
	Append(id units.UnitID)
	List() []units.UnitID
}

// MemoryRegistry is an in-process Registry; entries do not survive restarts.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids []units.UnitID
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make([]units.UnitID, 0)}
}

func (r *MemoryRegistry) Append(id units.UnitID) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	n := len(r.ids)
	r.mu.Unlock()
	observability.SetRegistrySize(n)
}

// List returns a snapshot copy in append order.
func (r *MemoryRegistry) List() []units.UnitID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]units.UnitID, len(r.ids))
	copy(out, r.ids)
	return out
}
