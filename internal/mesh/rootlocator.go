package mesh

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
)

// DHTRootLocator resolves a chain key's root authority by treating the
// key as content to provide/find on the kad-dht, grounded on the
// reference host's FindProviders/Provide pair (internal/p2p/host.go):
// the root authority Provides its own peer record under the chain
// key's derived CID, and every other replica FindProviders for it.
type DHTRootLocator struct {
	host         *Host
	replicaCount int
}

// NewDHTRootLocator builds a locator over host's DHT, collecting up to
// replicaCount providers per chain key for lock-voting quorum
// (DESIGN.md Open Question #1); replicaCount <= 0 falls back to 1.
func NewDHTRootLocator(host *Host, replicaCount int) *DHTRootLocator {
	if replicaCount <= 0 {
		replicaCount = 1
	}
	return &DHTRootLocator{host: host, replicaCount: replicaCount}
}

func chainKeyCID(chainKey string) (cid.Cid, error) {
	mh, err := multihash.Sum([]byte(chainKey), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Announce marks this node as root authority for chainKey.
func (l *DHTRootLocator) Announce(ctx context.Context, chainKey string) error {
	c, err := chainKeyCID(chainKey)
	if err != nil {
		return err
	}
	dht := l.host.DHT()
	if dht == nil {
		return ErrNoRootAuthority
	}
	return dht.Provide(ctx, c, true)
}

// RootFor resolves the peer currently providing chainKey.
func (l *DHTRootLocator) RootFor(ctx context.Context, chainKey string) (peer.ID, error) {
	c, err := chainKeyCID(chainKey)
	if err != nil {
		return "", err
	}
	dht := l.host.DHT()
	if dht == nil {
		return "", ErrNoRootAuthority
	}

	providersCh := dht.FindProvidersAsync(ctx, c, 1)
	for info := range providersCh {
		if info.ID != "" {
			return info.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoRootAuthority, chainKey)
}

// ReplicasFor resolves up to l.replicaCount providers of chainKey, for
// LockCoordinator's multi-server lock-voting quorum (DESIGN.md Open
// Question #1). Order is whatever the DHT query returns them in.
func (l *DHTRootLocator) ReplicasFor(ctx context.Context, chainKey string) ([]peer.ID, error) {
	c, err := chainKeyCID(chainKey)
	if err != nil {
		return nil, err
	}
	dht := l.host.DHT()
	if dht == nil {
		return nil, ErrNoRootAuthority
	}

	ids := make([]peer.ID, 0, l.replicaCount)
	for info := range dht.FindProvidersAsync(ctx, c, l.replicaCount) {
		if info.ID != "" {
			ids = append(ids, info.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRootAuthority, chainKey)
	}
	return ids, nil
}

// StaticRootLocator is a fixed chain-key-to-peer map, used in tests
// and single-bootstrap-peer deployments where DHT lookup is overkill.
// Replicas optionally lists every known root replica per chain key for
// lock-voting quorum; chain keys absent from it fall back to a single
// replica (the Roots entry).
type StaticRootLocator struct {
	Roots    map[string]peer.ID
	Replicas map[string][]peer.ID
}

func (l *StaticRootLocator) RootFor(_ context.Context, chainKey string) (peer.ID, error) {
	id, ok := l.Roots[chainKey]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoRootAuthority, chainKey)
	}
	return id, nil
}

// ReplicasFor returns l.Replicas[chainKey] when set, otherwise the
// single root peer from l.Roots.
func (l *StaticRootLocator) ReplicasFor(_ context.Context, chainKey string) ([]peer.ID, error) {
	if ids, ok := l.Replicas[chainKey]; ok && len(ids) > 0 {
		return ids, nil
	}
	id, ok := l.Roots[chainKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRootAuthority, chainKey)
	}
	return []peer.ID{id}, nil
}

var (
	_ RootLocator = (*DHTRootLocator)(nil)
	_ RootLocator = (*StaticRootLocator)(nil)
)
