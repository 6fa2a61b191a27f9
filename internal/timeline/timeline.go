// Package timeline holds the in-memory views that make a chain queryable
// without scanning the redo log: an ordered-by-timestamp timeline, a
// primary-key index, a parent/collection secondary index, and a
// pending-upload range list (which the mesh client does not use).
package timeline

import (
	"sort"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// ChainTimestamp orders the timeline. Ties are broken by the event hash
// so iteration order is still deterministic.
type ChainTimestamp struct {
	MsSinceEpoch int64
	Hash         eventmodel.Hash
}

func (a ChainTimestamp) Less(b ChainTimestamp) bool {
	if a.MsSinceEpoch != b.MsSinceEpoch {
		return a.MsSinceEpoch < b.MsSinceEpoch
	}
	return lessHash(a.Hash, b.Hash)
}

func lessHash(a, b eventmodel.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// EventLeaf is the lightweight pointer stored by the indexes.
type EventLeaf struct {
	RecordHash eventmodel.Hash
	CreatedMs  int64
	UpdatedMs  int64
}

// Timeline is the ordered map ChainTimestamp → EventHeaderRaw. Range
// iteration over it is how peers resynchronize (mesh §4.8/§4.9).
type Timeline struct {
	mu      sync.RWMutex
	entries map[ChainTimestamp]eventmodel.EventHeaderRaw
	order   []ChainTimestamp // kept sorted
}

// New builds an empty Timeline.
func New() *Timeline {
	return &Timeline{entries: make(map[ChainTimestamp]eventmodel.EventHeaderRaw)}
}

// Insert adds header at timestamp ts, keeping the order slice sorted.
func (t *Timeline) Insert(ts ChainTimestamp, header eventmodel.EventHeaderRaw) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[ts]; exists {
		t.entries[ts] = header
		return
	}
	t.entries[ts] = header
	i := sort.Search(len(t.order), func(i int) bool { return !t.order[i].Less(ts) })
	t.order = append(t.order, ChainTimestamp{})
	copy(t.order[i+1:], t.order[i:])
	t.order[i] = ts
}

// Remove deletes the entry at ts, if any.
func (t *Timeline) Remove(ts ChainTimestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[ts]; !exists {
		return
	}
	delete(t.entries, ts)
	for i, o := range t.order {
		if o == ts {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of entries currently in the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Range calls fn for every entry with MsSinceEpoch in [fromMs, toMs),
// in ascending order. fn returning false stops iteration early.
func (t *Timeline) Range(fromMs, toMs int64, fn func(ChainTimestamp, eventmodel.EventHeaderRaw) bool) {
	t.mu.RLock()
	order := make([]ChainTimestamp, len(t.order))
	copy(order, t.order)
	t.mu.RUnlock()

	start := sort.Search(len(order), func(i int) bool { return order[i].MsSinceEpoch >= fromMs })
	for i := start; i < len(order); i++ {
		ts := order[i]
		if toMs > 0 && ts.MsSinceEpoch >= toMs {
			break
		}
		t.mu.RLock()
		header, ok := t.entries[ts]
		t.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn(ts, header) {
			return
		}
	}
}

// Newest returns the latest entry's timestamp, or false if empty.
func (t *Timeline) Newest() (ChainTimestamp, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.order) == 0 {
		return ChainTimestamp{}, false
	}
	return t.order[len(t.order)-1], true
}

// All returns every header in timestamp order, the shape the compactor
// needs to walk newest-to-oldest (callers reverse as needed).
func (t *Timeline) All() []eventmodel.EventHeaderRaw {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]eventmodel.EventHeaderRaw, 0, len(t.order))
	for _, ts := range t.order {
		out = append(out, t.entries[ts])
	}
	return out
}
