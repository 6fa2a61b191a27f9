// Package dio implements the data-object layer: a read view (Dio) with
// a load cache invalidated by a decache broadcast, and a mutable view
// (DioMut) that stages writes until committed through a chain's pipe.
package dio

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/chainvault/chainvault/internal/chain"
	"github.com/chainvault/chainvault/internal/eventmodel"
)

// Row is one materialized data object: its primary key and the decoded
// event that produced its current state.
type Row struct {
	PrimaryKey string
	Event      eventmodel.StrongEvent
}

// decacheBroadcast fans out invalidation notices to every Dio sharing
// a chain, so a write committed through one handle evicts the stale
// entry from every other handle's cache. Grounded on this stack's
// internal/p2p cache-invalidation pattern (LRUCache's sweep loop),
// adapted here to a pub/sub broadcast instead of a TTL sweep since
// invalidation is event-driven, not time-driven.
type decacheBroadcast struct {
	mu   sync.Mutex
	subs map[int]chan string
	next int
}

func newDecacheBroadcast() *decacheBroadcast {
	return &decacheBroadcast{subs: make(map[int]chan string)}
}

func (b *decacheBroadcast) subscribe() (int, <-chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan string, 64)
	b.subs[id] = ch
	return id, ch
}

func (b *decacheBroadcast) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *decacheBroadcast) publish(primaryKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- primaryKey:
		default:
		}
	}
}

// ChainHandle is the shared state backing every Dio/DioMut opened
// against the same chain: the engine, its pipe, and the decache
// broadcast every reader subscribes to.
type ChainHandle struct {
	Engine   *chain.Engine
	Pipe     chain.EventPipe
	broadcast *decacheBroadcast
}

// NewChainHandle wires engine and pipe into a handle readers/writers share.
func NewChainHandle(engine *chain.Engine, pipe chain.EventPipe) *ChainHandle {
	return &ChainHandle{Engine: engine, Pipe: pipe, broadcast: newDecacheBroadcast()}
}

// Dio is the read view: a chain handle plus a load cache invalidated
// by the chain's decache broadcast.
type Dio struct {
	handle *ChainHandle

	mu    sync.RWMutex
	cache map[string]Row

	subID int
	decache <-chan string
	done  chan struct{}
}

// Open creates a Dio bound to handle, consuming decache notices until Close.
func Open(handle *ChainHandle) *Dio {
	d := &Dio{handle: handle, cache: make(map[string]Row), done: make(chan struct{})}
	d.subID, d.decache = handle.broadcast.subscribe()
	go d.consumeDecache()
	return d
}

func (d *Dio) consumeDecache() {
	for {
		select {
		case key, ok := <-d.decache:
			if !ok {
				return
			}
			d.mu.Lock()
			delete(d.cache, key)
			d.mu.Unlock()
		case <-d.done:
			return
		}
	}
}

// Close stops this Dio's decache subscription.
func (d *Dio) Close() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	d.handle.broadcast.unsubscribe(d.subID)
}

// ErrNotFound is returned by Load when primaryKey has no live row.
var ErrNotFound = fmt.Errorf("dio: no live row for primary key")

// Load resolves primaryKey, checking the local cache first, then the
// chain's primary index, then fetching the event from the pipe.
func (d *Dio) Load(ctx context.Context, primaryKey string) (Row, error) {
	d.mu.RLock()
	if row, ok := d.cache[primaryKey]; ok {
		d.mu.RUnlock()
		return row, nil
	}
	d.mu.RUnlock()

	leaf, ok := d.handle.Engine.PrimaryIndex().Get(primaryKey)
	if !ok {
		return Row{}, ErrNotFound
	}
	events, err := d.handle.Pipe.LoadMany(ctx, []eventmodel.Hash{leaf.RecordHash})
	if err != nil {
		return Row{}, fmt.Errorf("dio: load %s: %w", primaryKey, err)
	}
	if len(events) == 0 {
		return Row{}, ErrNotFound
	}
	row := Row{PrimaryKey: primaryKey, Event: events[0]}
	d.mu.Lock()
	d.cache[primaryKey] = row
	d.mu.Unlock()
	return row, nil
}

// GeneratePrimaryKey returns a fresh random primary key for Store
// calls that don't supply one, mirroring the teacher's
// crypto.GenerateNonce shape (random bytes, hex-encoded rather than
// base64 since primary keys appear in URL paths and log lines).
func GeneratePrimaryKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("dio: generate primary key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
