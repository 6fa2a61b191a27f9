package chain

import (
	"context"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// EventPipe is the commit entry point a DIO transaction submits
// through (spec.md §4.5/§4.6). A local chain's pipe is the engine
// itself; a mesh-connected chain wraps it with remote transmission
// (the recoverable session pipe in internal/mesh).
type EventPipe interface {
	Feed(ctx context.Context, tx Transaction) ([]eventmodel.StrongEvent, error)
	LoadMany(ctx context.Context, hashes []eventmodel.Hash) ([]eventmodel.StrongEvent, error)
	Lock(ctx context.Context, key string) error
	Unlock(ctx context.Context, key string) error
}

// LocalPipe feeds directly into an Engine with no remote transmission,
// the pipe used by a chain with no mesh session attached.
type LocalPipe struct {
	Engine *Engine
}

func (p *LocalPipe) Feed(ctx context.Context, tx Transaction) ([]eventmodel.StrongEvent, error) {
	return p.Engine.Feed(ctx, tx)
}

func (p *LocalPipe) LoadMany(ctx context.Context, hashes []eventmodel.Hash) ([]eventmodel.StrongEvent, error) {
	out := make([]eventmodel.StrongEvent, 0, len(hashes))
	for _, h := range hashes {
		ev, err := p.Engine.Load(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *LocalPipe) Lock(ctx context.Context, key string) error {
	return p.Engine.lockLocal(key)
}

func (p *LocalPipe) Unlock(ctx context.Context, key string) error {
	return p.Engine.unlockLocal(key)
}

var _ EventPipe = (*LocalPipe)(nil)
