package chain

import (
	"fmt"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// Subscribe registers a new listener for events whose Parent record
// names (collectionID, parentKey), returning a handle the caller
// drains via Listener.Chan(). bufSize bounds the channel; a full
// channel causes the listener to be dropped rather than stalling the
// feed pipeline.
func (e *Engine) Subscribe(collectionID, parentKey string, bufSize int) *Listener {
	key := collectionListenerKey(collectionID, parentKey)
	l := &Listener{CollectionKey: key, ch: make(chan eventmodel.StrongEvent, bufSize)}
	e.mu.Lock()
	e.listeners[key] = append(e.listeners[key], l)
	e.mu.Unlock()
	return l
}

// Unsubscribe removes l from its collection's listener set and closes
// its channel.
func (e *Engine) Unsubscribe(l *Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.listeners[l.CollectionKey]
	for i, existing := range set {
		if existing == l {
			e.listeners[l.CollectionKey] = append(set[:i], set[i+1:]...)
			break
		}
	}
	closeListenerChan(l)
}

func closeListenerChan(l *Listener) {
	defer func() { recover() }() // already-closed channel, e.g. double unsubscribe
	close(l.ch)
}

// notifyListeners sends every committed event carrying a Parent record
// to the listeners registered for that parent's collection key, per
// spec.md §4.5. A full channel drops the listener rather than
// blocking the pipeline on a slow consumer.
func (e *Engine) notifyListeners(committed []eventmodel.StrongEvent) {
	for _, ev := range committed {
		parent, ok := ev.Meta.Parent()
		if !ok {
			continue
		}
		key := collectionListenerKey(parent.CollectionID, parent.ParentKey)

		e.mu.Lock()
		set := e.listeners[key]
		var kept []*Listener
		for _, l := range set {
			select {
			case l.ch <- ev:
				kept = append(kept, l)
			default:
				closeListenerChan(l)
			}
		}
		e.listeners[key] = kept
		e.mu.Unlock()
	}
}

func collectionListenerKey(collectionID, parentKey string) string {
	return fmt.Sprintf("%s/%s", collectionID, parentKey)
}
