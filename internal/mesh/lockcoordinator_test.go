package mesh

import (
	"context"
	"errors"
	"testing"

	"github.com/chainvault/chainvault/internal/trust"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	err error
}

func (f fakeLocker) Lock(_ context.Context, _ string) error { return f.err }

func TestLockCoordinatorGrantsOnStrictMajority(t *testing.T) {
	c := NewLockCoordinator(trust.NewThresholdVerifier())
	replicas := map[peer.ID]replicaLocker{
		testPeerID(t): fakeLocker{},
		testPeerID(t): fakeLocker{},
		testPeerID(t): fakeLocker{err: errors.New("denied")},
	}

	proof, err := c.Lock(context.Background(), "row-1", replicas)
	require.NoError(t, err)
	assert.NotEmpty(t, proof)
}

func TestLockCoordinatorDeniesWhenMajorityUnreachable(t *testing.T) {
	c := NewLockCoordinator(trust.NewThresholdVerifier())
	replicas := map[peer.ID]replicaLocker{
		testPeerID(t): fakeLocker{err: errors.New("denied")},
		testPeerID(t): fakeLocker{err: errors.New("denied")},
		testPeerID(t): fakeLocker{},
	}

	_, err := c.Lock(context.Background(), "row-1", replicas)
	assert.Error(t, err)
}

func TestLockCoordinatorSingleReplicaQuorumCollapsesToOne(t *testing.T) {
	c := NewLockCoordinator(trust.NewThresholdVerifier())
	replicas := map[peer.ID]replicaLocker{
		testPeerID(t): fakeLocker{},
	}

	proof, err := c.Lock(context.Background(), "row-1", replicas)
	require.NoError(t, err)
	assert.NotEmpty(t, proof)
}

func TestLockCoordinatorRejectsEmptyReplicaSet(t *testing.T) {
	c := NewLockCoordinator(trust.NewThresholdVerifier())
	_, err := c.Lock(context.Background(), "row-1", map[peer.ID]replicaLocker{})
	assert.Error(t, err)
}

func TestLockCoordinatorProofIsAggregateOrderIndependent(t *testing.T) {
	c := NewLockCoordinator(trust.NewThresholdVerifier())
	ids := []peer.ID{testPeerID(t), testPeerID(t), testPeerID(t)}

	replicas := map[peer.ID]replicaLocker{
		ids[0]: fakeLocker{},
		ids[1]: fakeLocker{},
		ids[2]: fakeLocker{},
	}
	proof, err := c.Lock(context.Background(), "row-1", replicas)
	require.NoError(t, err)

	// A second verifier registers the same members in reverse
	// insertion order; Aggregate sorts by SignerID internally so the
	// resulting proof must still match.
	c2 := NewLockCoordinator(trust.NewThresholdVerifier())
	reordered := map[peer.ID]replicaLocker{
		ids[2]: fakeLocker{},
		ids[1]: fakeLocker{},
		ids[0]: fakeLocker{},
	}
	proof2, err := c2.Lock(context.Background(), "row-1", reordered)
	require.NoError(t, err)
	assert.Equal(t, proof, proof2)
}
