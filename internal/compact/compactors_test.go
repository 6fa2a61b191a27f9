package compact

import (
	"context"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/stretchr/testify/assert"
)

func headerFor(ev eventmodel.WeakEvent) (eventmodel.EventHeaderRaw, eventmodel.Metadata) {
	strong, err := ev.Strengthen()
	if err != nil {
		panic(err)
	}
	header, err := eventmodel.BuildHeader(strong)
	if err != nil {
		panic(err)
	}
	return header.Raw, strong.Meta
}

func candidateFor(meta eventmodel.Metadata, data []byte) Candidate {
	ev := eventmodel.WeakEvent{Meta: meta, Data: eventmodel.SomeData(data), Format: eventmodel.FormatJSON}
	header, strongMeta := headerFor(ev)
	return Candidate{Header: header, Meta: strongMeta, Data: data}
}

func TestIndecisiveCompactorAlwaysAbstains(t *testing.T) {
	c := IndecisiveCompactor{}
	assert.Equal(t, Abstain, c.Relevance(context.Background(), Candidate{}))
}

func TestCutOffCompactorForceKeepsAtOrAfterCutOff(t *testing.T) {
	c := CutOffCompactor{CutOffMs: 1000}

	after := candidateFor(eventmodel.Metadata{eventmodel.Timestamp{MsSinceEpoch: 1000}}, nil)
	assert.Equal(t, ForceKeep, c.Relevance(context.Background(), after))

	before := candidateFor(eventmodel.Metadata{eventmodel.Timestamp{MsSinceEpoch: 999}}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), before))
}

func TestKeepDataCompactorKeepsDataKeyUnlessNoKeepType(t *testing.T) {
	c := KeepDataCompactor{}

	withKey := candidateFor(eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}}, nil)
	assert.Equal(t, Keep, c.Relevance(context.Background(), withKey))

	noKeep := candidateFor(eventmodel.Metadata{
		eventmodel.DataKey{PrimaryKey: "row-1"},
		eventmodel.Type{Name: NoKeepType},
	}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), noKeep))

	noDataKey := candidateFor(eventmodel.Metadata{}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), noDataKey))
}

func TestSignatureCompactorForceKeepsFirstSignatureThenAbstains(t *testing.T) {
	c := NewSignatureCompactor()
	cand := candidateFor(eventmodel.Metadata{
		eventmodel.Signature{PublicKeyHash: "k1", SignedHashes: []string{"h"}, SignatureBytes: "s"},
	}, nil)

	first := c.Relevance(context.Background(), cand)
	assert.Equal(t, ForceKeep, first)
	c.PostFeed(context.Background(), cand, first)

	second := c.Relevance(context.Background(), cand)
	assert.Equal(t, Abstain, second)
}

func TestSignatureCompactorAbstainsWithNoSignatures(t *testing.T) {
	c := NewSignatureCompactor()
	cand := candidateFor(eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), cand))
}

func TestPublicKeyCompactorForceKeepsWantedIntroductions(t *testing.T) {
	c := NewPublicKeyCompactor(map[string]bool{"k1": true})

	wanted := candidateFor(eventmodel.Metadata{eventmodel.PublicKey{KeyHash: "k1", Key: "b64"}}, nil)
	assert.Equal(t, ForceKeep, c.Relevance(context.Background(), wanted))

	unwanted := candidateFor(eventmodel.Metadata{eventmodel.PublicKey{KeyHash: "k2", Key: "b64"}}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), unwanted))
}

func TestTombstoneCompactorForceKeepsTombstoneThenForceDropsCleared(t *testing.T) {
	c := NewTombstoneCompactor()

	tomb := candidateFor(eventmodel.Metadata{
		eventmodel.DataKey{PrimaryKey: "row-1"},
		eventmodel.Tombstone{PrimaryKey: "row-1"},
	}, nil)
	decision := c.Relevance(context.Background(), tomb)
	assert.Equal(t, ForceKeep, decision)
	c.PostFeed(context.Background(), tomb, decision)

	older := candidateFor(eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}}, nil)
	assert.Equal(t, ForceDrop, c.Relevance(context.Background(), older))
}

func TestTombstoneCompactorAbstainsBeforeCleared(t *testing.T) {
	c := NewTombstoneCompactor()
	cand := candidateFor(eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), cand))
}

func TestRemoveDuplicatesCompactorKeepsFirstSeenDropsRest(t *testing.T) {
	c := NewRemoveDuplicatesCompactor()
	cand := candidateFor(eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}}, nil)

	first := c.Relevance(context.Background(), cand)
	assert.Equal(t, Abstain, first)
	c.PostFeed(context.Background(), cand, Keep)

	second := c.Relevance(context.Background(), cand)
	assert.Equal(t, ForceDrop, second)
}

func TestRemoveDuplicatesCompactorIgnoresEventsWithoutDataKey(t *testing.T) {
	c := NewRemoveDuplicatesCompactor()
	cand := candidateFor(eventmodel.Metadata{}, nil)
	assert.Equal(t, Abstain, c.Relevance(context.Background(), cand))
}
