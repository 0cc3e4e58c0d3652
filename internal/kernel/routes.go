package kernel

import (
	"sync"

	"github.com/flexproc/flexproc/internal/authority"
)

// Kernel maps Envoy route metadata keys to configuration authorities.
// Routes without an entry skip all processing.
type Kernel struct {
	mu sync.RWMutex

	routes map[string]*authority.Authority
}

// NewKernel creates an empty route table.
func NewKernel() *Kernel {
	return &Kernel{
		routes: make(map[string]*authority.Authority),
	}
}

// GetAuthorityForRoute returns the authority for a route key.
// Returns nil when the route carries no policy (not an error condition).
func (k *Kernel) GetAuthorityForRoute(key string) *authority.Authority {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.routes[key]
}

// RegisterRoute attaches an authority to a route key, replacing any
// previous attachment.
func (k *Kernel) RegisterRoute(key string, auth *authority.Authority) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.routes[key] = auth
}

// DumpRoutes returns a copy of the route table for the admin surface.
func (k *Kernel) DumpRoutes() map[string]*authority.Authority {
	k.mu.RLock()
	defer k.mu.RUnlock()

	dump := make(map[string]*authority.Authority, len(k.routes))
	for key, auth := range k.routes {
		dump[key] = auth
	}
	return dump
}
