package chain

import (
	"context"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPipeFeedAndLoadMany(t *testing.T) {
	e := newTestEngine()
	pipe := &LocalPipe{Engine: e}
	ctx := context.Background()

	committed, err := pipe.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{
		dataEvent("row-1", "a"),
		dataEvent("row-2", "b"),
	}})
	require.NoError(t, err)
	require.Len(t, committed, 2)

	hashes := make([]eventmodel.Hash, len(committed))
	for i, ev := range committed {
		header, err := eventmodel.BuildHeader(ev)
		require.NoError(t, err)
		hashes[i] = header.Raw.EventHash()
	}

	loaded, err := pipe.LoadMany(ctx, hashes)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
}

func TestLocalPipeLoadManyPropagatesMissingHashError(t *testing.T) {
	e := newTestEngine()
	pipe := &LocalPipe{Engine: e}

	_, err := pipe.LoadMany(context.Background(), []eventmodel.Hash{eventmodel.Sum([]byte("nope"))})
	assert.Error(t, err)
}

func TestLocalPipeLockUnlockDelegatesToEngine(t *testing.T) {
	e := newTestEngine()
	pipe := &LocalPipe{Engine: e}
	ctx := context.Background()

	require.NoError(t, pipe.Lock(ctx, "row-1"))
	assert.True(t, e.IsLocked("row-1"))
	require.NoError(t, pipe.Unlock(ctx, "row-1"))
	assert.False(t, e.IsLocked("row-1"))
}
