package trust

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
)

// ErrReplayed is returned when an event's event_hash has already been
// admitted to this chain.
var ErrReplayed = fmt.Errorf("trust: event_hash already seen (replay)")

// AntiReplay rejects events whose event_hash has already been admitted
// to the chain, closing the reinjection path a mesh peer could use to
// rebroadcast a captured event verbatim. Grounded on the nonce/replay
// bookkeeping this stack's crypto package anticipates with
// GenerateNonce, applied here as a durable seen-set over event_hash
// rather than a per-message nonce.
type AntiReplay struct {
	plugin.Base
	mu   sync.RWMutex
	seen map[eventmodel.Hash]struct{}
}

// NewAntiReplay builds an empty AntiReplay plugin.
func NewAntiReplay() *AntiReplay {
	return &AntiReplay{seen: make(map[eventmodel.Hash]struct{})}
}

// Validate only ever Denies (a replayed hash) or Abstains: AntiReplay
// has no opinion on whether an otherwise-fresh event should be
// admitted, that is TrustTree's decision to make.
func (a *AntiReplay) Validate(_ context.Context, _ eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	hash := header.EventHash()
	a.mu.RLock()
	_, exists := a.seen[hash]
	a.mu.RUnlock()
	if exists {
		return plugin.Deny, ErrReplayed
	}
	return plugin.Abstain, nil
}

func (a *AntiReplay) Index(_ context.Context, _ eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) error {
	a.mu.Lock()
	a.seen[header.EventHash()] = struct{}{}
	a.mu.Unlock()
	return nil
}

func (a *AntiReplay) Reset() {
	a.mu.Lock()
	a.seen = make(map[eventmodel.Hash]struct{})
	a.mu.Unlock()
}

func (a *AntiReplay) Clone() plugin.Plugin {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[eventmodel.Hash]struct{}, len(a.seen))
	for k := range a.seen {
		out[k] = struct{}{}
	}
	return &AntiReplay{seen: out}
}

var (
	_ plugin.Plugin     = (*AntiReplay)(nil)
	_ plugin.Resettable = (*AntiReplay)(nil)
	_ plugin.Clonable   = (*AntiReplay)(nil)
)
