package mesh

import (
	"sync"

	"github.com/chainvault/chainvault/internal/chain"
)

// OpenFlow is the server's verdict on a session's subscribe request,
// naming how the requested chain may be accessed (spec.md §4.7:
// private chains reject remote subscribers outright, centralized
// chains stream but never accept foreign-signed writes, distributed
// chains accept both).
type OpenFlow int

const (
	FlowDeny OpenFlow = iota
	FlowCentralized
	FlowDistributed
)

// ChainBinding is one chain this node serves over the mesh.
type ChainBinding struct {
	Engine *chain.Engine
	Pipe   chain.EventPipe
	Flow   OpenFlow
}

// Registry maps chain keys to the locally-served engines a Server
// routes mesh sessions to.
type Registry struct {
	mu    sync.RWMutex
	bound map[string]ChainBinding
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bound: make(map[string]ChainBinding)}
}

// Bind registers chainKey for serving under the given flow policy.
func (r *Registry) Bind(chainKey string, binding ChainBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound[chainKey] = binding
}

// Unbind removes chainKey from service.
func (r *Registry) Unbind(chainKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bound, chainKey)
}

// Lookup returns the binding for chainKey, if served.
func (r *Registry) Lookup(chainKey string) (ChainBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bound[chainKey]
	return b, ok
}

// RouteChain resolves the OpenFlow verdict a subscribe request for
// chainKey should receive: FlowDeny if this node doesn't serve it or
// has explicitly marked it private.
func (r *Registry) RouteChain(chainKey string) OpenFlow {
	b, ok := r.Lookup(chainKey)
	if !ok {
		return FlowDeny
	}
	return b.Flow
}
