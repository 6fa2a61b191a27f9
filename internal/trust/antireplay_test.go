package trust

import (
	"context"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAntiReplayRejectsDuplicateEventHash(t *testing.T) {
	a := NewAntiReplay()
	ctx := context.Background()
	ev := eventmodel.StrongEvent{Meta: eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}}, Format: eventmodel.FormatJSON}
	header, err := eventmodel.BuildHeader(ev)
	require.NoError(t, err)

	vote, err := a.Validate(ctx, ev, header.Raw)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, vote)
	require.NoError(t, a.Index(ctx, ev, header.Raw))

	vote, err = a.Validate(ctx, ev, header.Raw)
	assert.Equal(t, plugin.Deny, vote)
	assert.ErrorIs(t, err, ErrReplayed)
}

func TestAntiReplayResetClearsSeenSet(t *testing.T) {
	a := NewAntiReplay()
	ctx := context.Background()
	ev := eventmodel.StrongEvent{Meta: eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}}, Format: eventmodel.FormatJSON}
	header, err := eventmodel.BuildHeader(ev)
	require.NoError(t, err)
	require.NoError(t, a.Index(ctx, ev, header.Raw))

	a.Reset()
	vote, err := a.Validate(ctx, ev, header.Raw)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, vote)
}

func TestAntiReplayCloneIsIndependent(t *testing.T) {
	a := NewAntiReplay()
	ctx := context.Background()
	ev := eventmodel.StrongEvent{Meta: eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}}, Format: eventmodel.FormatJSON}
	header, err := eventmodel.BuildHeader(ev)
	require.NoError(t, err)
	require.NoError(t, a.Index(ctx, ev, header.Raw))

	clone := a.Clone().(*AntiReplay)
	vote, err := clone.Validate(ctx, ev, header.Raw)
	assert.Equal(t, plugin.Deny, vote)
	assert.ErrorIs(t, err, ErrReplayed)

	other := eventmodel.StrongEvent{Meta: eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "y"}}, Format: eventmodel.FormatJSON}
	otherHeader, err := eventmodel.BuildHeader(other)
	require.NoError(t, err)
	require.NoError(t, clone.Index(ctx, other, otherHeader.Raw))

	// Indexing on the clone must not leak back into the original.
	vote, err = a.Validate(ctx, other, otherHeader.Raw)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, vote)
}
