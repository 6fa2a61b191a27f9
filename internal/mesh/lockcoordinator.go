package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainvault/chainvault/internal/trust"
	"github.com/libp2p/go-libp2p/core/peer"
)

// LockCoordinator runs spec.md §4.7's multi-server lock-voting quorum:
// a chain lock is granted once a strict majority of a chain's known
// root replicas answer LockResult affirmatively, not on a single
// peer's say-so. Affirmative votes are folded into
// trust.ThresholdVerifier's aggregate commitment (DESIGN.md Open
// Question #1), giving every granted lock a single, arrival-order
// independent proof of the quorum that approved it.
type LockCoordinator struct {
	verifier *trust.ThresholdVerifier
}

// NewLockCoordinator builds a coordinator backed by verifier. Replicas
// are registered as committee members the first time they cast a vote.
func NewLockCoordinator(verifier *trust.ThresholdVerifier) *LockCoordinator {
	return &LockCoordinator{verifier: verifier}
}

type lockVote struct {
	id  peer.ID
	err error
}

// replicaLocker is the subset of ActiveSessionPipe's API a quorum vote
// needs, narrowed so LockCoordinator can be exercised against fakes
// without a real libp2p stream.
type replicaLocker interface {
	Lock(ctx context.Context, key string) error
}

// Lock requests key from every session in replicas concurrently, waits
// for all of them to reply, and returns the quorum's aggregate proof
// once a strict majority (floor(n/2)+1) voted to grant it. Waiting for
// every reply rather than returning as soon as a majority is reached
// keeps the proof deterministic: Aggregate sorts the full set of
// affirmative voters by signer id before truncating to the threshold,
// so two calls with the same reachable replica set always produce the
// same proof regardless of which replica happened to answer first.
func (c *LockCoordinator) Lock(ctx context.Context, key string, replicas map[peer.ID]replicaLocker) ([]byte, error) {
	n := len(replicas)
	if n == 0 {
		return nil, fmt.Errorf("mesh: lock %q: no known replicas", key)
	}
	needed := n/2 + 1

	votes := make(chan lockVote, n)
	var wg sync.WaitGroup
	for id, session := range replicas {
		id, session := id, session
		wg.Add(1)
		go func() {
			defer wg.Done()
			votes <- lockVote{id: id, err: session.Lock(ctx, key)}
		}()
	}
	go func() {
		wg.Wait()
		close(votes)
	}()

	positive := 0
	partials := make([]trust.PartialSignature, 0, n)
	for v := range votes {
		if v.err != nil {
			continue
		}
		positive++
		signerID := v.id.String()
		c.verifier.RegisterMember(signerID, []byte(signerID))
		partials = append(partials, trust.PartialSignature{
			SignerID:  signerID,
			Signature: []byte(signerID + ":" + key),
		})
	}

	if positive < needed {
		return nil, fmt.Errorf("mesh: lock %q denied: only %d of %d replicas granted it, need %d", key, positive, n, needed)
	}
	return c.verifier.Aggregate([]byte(key), partials, needed)
}
