package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
	"github.com/chainvault/chainvault/internal/redo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	return New(Config{Log: log, Plugins: plugin.NewStack(allowAll{}), Integrity: IntegrityDistributed})
}

// allowAll votes Allow on every event, so fixtures that exercise the
// engine rather than validation are not rejected with ErrAllAbstained.
type allowAll struct{ plugin.Base }

func (allowAll) Validate(context.Context, eventmodel.StrongEvent, eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	return plugin.Allow, nil
}

func dataEvent(key, value string) eventmodel.WeakEvent {
	return eventmodel.WeakEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: key}},
		Data:   eventmodel.SomeData([]byte(value)),
		Format: eventmodel.FormatJSON,
	}
}

func TestEngineFeedCommitsAndLoads(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	committed, err := e.Feed(ctx, Transaction{Scope: ScopeFull, Events: []eventmodel.WeakEvent{dataEvent("row-1", "hello")}})
	require.NoError(t, err)
	require.Len(t, committed, 1)

	header, err := eventmodel.BuildHeader(committed[0])
	require.NoError(t, err)

	loaded, err := e.Load(ctx, header.Raw.EventHash())
	require.NoError(t, err)
	assert.Equal(t, committed[0].Meta, loaded.Meta)
}

func TestEngineFeedUpdatesPrimaryIndex(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{dataEvent("row-1", "v1")}})
	require.NoError(t, err)

	leaf, ok := e.PrimaryIndex().Get("row-1")
	assert.True(t, ok)
	assert.NotZero(t, leaf.RecordHash)
}

func TestEngineFeedStripsSignaturesWhenCentralized(t *testing.T) {
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	e := New(Config{Log: log, Plugins: plugin.NewStack(allowAll{}), Integrity: IntegrityCentralizedServer})
	ctx := context.Background()

	ev := eventmodel.WeakEvent{
		Meta: eventmodel.Metadata{
			eventmodel.DataKey{PrimaryKey: "row-1"},
			eventmodel.Signature{PublicKeyHash: "signer-1", SignedHashes: []string{"x"}, SignatureBytes: "y"},
		},
		Format: eventmodel.FormatJSON,
	}
	committed, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{ev}})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Empty(t, committed[0].Meta.Signatures())
}

func TestEngineFeedRejectsInvalidEventButCommitsOthers(t *testing.T) {
	stack := plugin.NewStack(&rejectingValidator{rejectKey: "bad"})
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	e := New(Config{Log: log, Plugins: stack, Integrity: IntegrityDistributed})
	ctx := context.Background()

	committed, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{
		dataEvent("good", "v"),
		dataEvent("bad", "v"),
	}})
	require.Error(t, err)
	assert.Len(t, committed, 1)

	var single *ValidationError
	assert.True(t, errors.As(err, &single))
	assert.Equal(t, 1, single.Index)
}

func TestEngineFeedAfterShutdownReturnsErrShutdown(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	require.NoError(t, e.Shutdown(ctx))

	_, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{dataEvent("row-1", "v")}})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestEngineSetIntegrity(t *testing.T) {
	e := newTestEngine()
	assert.True(t, e.Integrity().IsCentralized() == false)
	e.SetIntegrity(IntegrityCentralizedServer)
	assert.True(t, e.Integrity().IsCentralized())
}

// rejectingValidator fails validation for any event whose primary key
// matches rejectKey, used to exercise the feed pipeline's partial
// commit/rejection bookkeeping.
type rejectingValidator struct {
	plugin.Base
	rejectKey string
}

func (r *rejectingValidator) Validate(_ context.Context, ev eventmodel.StrongEvent, _ eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	if dk, ok := ev.Meta.DataKey(); ok && dk.PrimaryKey == r.rejectKey {
		return plugin.Deny, errRejected
	}
	return plugin.Allow, nil
}

var errRejected = errors.New("rejected")

// conversationProbeValidator records the integrity mode and weaken flag
// it observes via context on each Validate call, so tests can assert
// Engine.Feed actually threads them through to the plugin stack.
type conversationProbeValidator struct {
	plugin.Base
	seenMode   plugin.IntegrityMode
	sawWeaken  bool
	seenWeaken bool
}

func (p *conversationProbeValidator) Validate(ctx context.Context, _ eventmodel.StrongEvent, _ eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	p.seenMode = plugin.IntegrityModeFrom(ctx)
	if conv, ok := plugin.ConversationFrom(ctx); ok {
		p.sawWeaken = true
		p.seenWeaken = conv.WeakenValidation()
	}
	return plugin.Allow, nil
}

func TestEngineFeedThreadsIntegrityModeAndConversationToValidators(t *testing.T) {
	probe := &conversationProbeValidator{}
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	e := New(Config{Log: log, Plugins: plugin.NewStack(probe), Integrity: IntegrityCentralizedClient})
	ctx := context.Background()

	e.SetWeakenValidation("conv-1", true)
	_, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{dataEvent("row-1", "v")}, Conversation: "conv-1"})
	require.NoError(t, err)

	assert.Equal(t, plugin.IntegrityCentralizedClient, probe.seenMode)
	assert.True(t, probe.sawWeaken)
	assert.True(t, probe.seenWeaken)
}

func TestEngineForgetConversationDropsWeakenValidationFlag(t *testing.T) {
	probe := &conversationProbeValidator{}
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	e := New(Config{Log: log, Plugins: plugin.NewStack(probe), Integrity: IntegrityDistributed})
	ctx := context.Background()

	e.SetWeakenValidation("conv-1", true)
	e.ForgetConversation("conv-1")
	_, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{dataEvent("row-1", "v")}, Conversation: "conv-1"})
	require.NoError(t, err)
	assert.False(t, probe.seenWeaken)
}
