package compact

import (
	"context"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/redo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFor(t *testing.T, primaryKey string, data []byte) TimelineEntry {
	t.Helper()
	ev := eventmodel.WeakEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: primaryKey}},
		Data:   eventmodel.SomeData(data),
		Format: eventmodel.FormatJSON,
	}
	strong, err := ev.Strengthen()
	require.NoError(t, err)
	header, err := eventmodel.BuildHeader(strong)
	require.NoError(t, err)
	return TimelineEntry{Header: header.Raw, Meta: strong.Meta, Data: strong.Data}
}

func TestRunDropsEventsNoCompactorKeeps(t *testing.T) {
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	ctx := context.Background()

	e1 := entryFor(t, "row-1", []byte("v1"))
	_, err := log.Write(ctx, redo.LogEntry{Header: e1.Header, Meta: e1.Meta, Data: e1.Data})
	require.NoError(t, err)

	stack := NewStack(IndecisiveCompactor{}) // abstains on everything -> Drop

	kept, err := Run(ctx, log, stack, []TimelineEntry{e1})
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestRunKeepsWhatKeepDataCompactorVotesFor(t *testing.T) {
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	ctx := context.Background()

	e1 := entryFor(t, "row-1", []byte("v1"))
	_, err := log.Write(ctx, redo.LogEntry{Header: e1.Header, Meta: e1.Meta, Data: e1.Data})
	require.NoError(t, err)

	stack := NewStack(KeepDataCompactor{})
	kept, err := Run(ctx, log, stack, []TimelineEntry{e1})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, e1.Header.EventHash(), kept[0].Header.EventHash())
}

func TestRunDedupesOlderDuplicatesNewestToOldest(t *testing.T) {
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	ctx := context.Background()

	newer := entryFor(t, "row-1", []byte("v2"))
	older := entryFor(t, "row-1", []byte("v1"))
	for _, e := range []TimelineEntry{newer, older} {
		_, err := log.Write(ctx, redo.LogEntry{Header: e.Header, Meta: e.Meta, Data: e.Data})
		require.NoError(t, err)
	}

	stack := NewStack(KeepDataCompactor{}, NewRemoveDuplicatesCompactor())
	// newestToOldest: caller passes newer first.
	kept, err := Run(ctx, log, stack, []TimelineEntry{newer, older})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, newer.Header.EventHash(), kept[0].Header.EventHash())
}
