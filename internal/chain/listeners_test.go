package chain

import (
	"context"
	"testing"
	"time"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childEvent(parentKey, collectionID, key string) eventmodel.WeakEvent {
	return eventmodel.WeakEvent{
		Meta: eventmodel.Metadata{
			eventmodel.DataKey{PrimaryKey: key},
			eventmodel.Parent{ParentKey: parentKey, CollectionID: collectionID},
		},
		Data:   eventmodel.NoData(),
		Format: eventmodel.FormatJSON,
	}
}

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	l := e.Subscribe("comments", "post-1", 4)
	defer e.Unsubscribe(l)

	_, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{
		childEvent("post-1", "comments", "comment-1"),
		childEvent("post-2", "comments", "comment-2"), // different parent, should not be delivered
	}})
	require.NoError(t, err)

	select {
	case ev := <-l.Chan():
		dk, ok := ev.Meta.DataKey()
		require.True(t, ok)
		assert.Equal(t, "comment-1", dk.PrimaryKey)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener delivery")
	}

	select {
	case ev, ok := <-l.Chan():
		t.Fatalf("unexpected second delivery: %#v (open=%v)", ev, ok)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	e := newTestEngine()
	l := e.Subscribe("comments", "post-1", 1)
	e.Unsubscribe(l)

	_, ok := <-l.Chan()
	assert.False(t, ok)
}

func TestNotifyListenersDropsOnFullChannel(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	l := e.Subscribe("comments", "post-1", 1)

	_, err := e.Feed(ctx, Transaction{Events: []eventmodel.WeakEvent{
		childEvent("post-1", "comments", "c1"),
		childEvent("post-1", "comments", "c2"),
	}})
	require.NoError(t, err)

	// Drain the one buffered event; the listener should have been
	// dropped (channel closed) once its buffer filled on the second send.
	<-l.Chan()
	_, ok := <-l.Chan()
	assert.False(t, ok)
}

func TestDoubleUnsubscribeDoesNotPanic(t *testing.T) {
	e := newTestEngine()
	l := e.Subscribe("comments", "post-1", 1)
	assert.NotPanics(t, func() {
		e.Unsubscribe(l)
		e.Unsubscribe(l)
	})
}
