// Package chain implements the per-chain engine: the redo log, timeline,
// and plugin stack wired together behind a feed pipeline, plus listener
// notification and shutdown/backup handling.
package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
	"github.com/chainvault/chainvault/internal/redo"
	"github.com/chainvault/chainvault/internal/timeline"
)

// Integrity describes how strictly a chain enforces signing, mirrored
// from spec.md §3's trust mode {Centralized(Server|Client), Distributed}:
// a centralized-server chain strips signatures before persisting (the
// server is itself the trust root) and accepts unsigned writes from a
// client that has proven its key in the conversation; a
// centralized-client chain needs no local signing at all, since it
// trusts the server to enforce authorization on its behalf; a
// distributed chain requires every event to already be signed by its
// author. Aliased to plugin.IntegrityMode, the same enum threaded
// through the plugin feed pipeline via context, so the two never drift
// apart.
type Integrity = plugin.IntegrityMode

const (
	IntegrityCentralizedServer = plugin.IntegrityCentralizedServer
	IntegrityCentralizedClient = plugin.IntegrityCentralizedClient
	IntegrityDistributed       = plugin.IntegrityDistributed
)

// BackupMode controls what Shutdown does with the redo log's active
// segments.
type BackupMode int

const (
	BackupNone BackupMode = iota
	BackupRotating
	BackupFull
)

// ValidationError wraps one feed-pipeline rejection.
type ValidationError struct {
	Index int
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chain: event %d rejected: %v", e.Index, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ManyValidationErrors wraps every rejection from a single feed call.
type ManyValidationErrors struct {
	Errors []*ValidationError
}

func (e *ManyValidationErrors) Error() string {
	return fmt.Sprintf("chain: %d of the submitted events were rejected", len(e.Errors))
}

func (e *ManyValidationErrors) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, v := range e.Errors {
		out[i] = v
	}
	return out
}

// Listener receives committed events belonging to one parent
// collection over a bounded channel; a full channel drops the
// listener rather than blocking the feed pipeline.
type Listener struct {
	CollectionKey string
	ch            chan eventmodel.StrongEvent
}

// Chan exposes the receive side of the listener's channel.
func (l *Listener) Chan() <-chan eventmodel.StrongEvent { return l.ch }

// Engine is one chain's live state: the redo log, the in-memory
// timeline/index views, the registered listeners, and the plugin
// stack that every write runs through. Two locks guard it, matching
// spec.md §4.5: mu covers everything async callers touch (redo,
// timeline, listeners, shutdown flag, integrity); pluginMu covers only
// the plugin stack and is never held across a blocking redo-log call.
type Engine struct {
	mu         sync.RWMutex
	log        redo.Log
	timeline   *timeline.Timeline
	primary    *timeline.PrimaryIndex
	secondary  timeline.SecondaryIndexStore
	parents    *timeline.ParentIndex
	listeners  map[string][]*Listener
	locks      map[string]struct{}
	isShutdown bool
	integrity  Integrity
	backupMode BackupMode
	cutOff     int64

	convMu        sync.Mutex
	conversations map[string]*plugin.Conversation

	pluginMu sync.RWMutex
	plugins  *plugin.Stack
}

// Config bundles the construction-time parameters for a chain engine.
type Config struct {
	Log        redo.Log
	Plugins    *plugin.Stack
	Integrity  Integrity
	BackupMode BackupMode

	// SecondaryIndex overrides the (parent, collection) child index
	// backend. Nil defaults to an in-memory timeline.SecondaryIndex;
	// pass a timeline.RocksSecondaryIndex (build tag `rocksdb`) for
	// chains too large to hold it in memory.
	SecondaryIndex timeline.SecondaryIndexStore
}

// New builds a chain engine over an already-open redo log.
func New(cfg Config) *Engine {
	secondary := cfg.SecondaryIndex
	if secondary == nil {
		secondary = timeline.NewSecondaryIndex()
	}
	return &Engine{
		log:           cfg.Log,
		timeline:      timeline.New(),
		primary:       timeline.NewPrimaryIndex(),
		secondary:     secondary,
		parents:       timeline.NewParentIndex(),
		listeners:     make(map[string][]*Listener),
		conversations: make(map[string]*plugin.Conversation),
		integrity:     cfg.Integrity,
		backupMode:    cfg.BackupMode,
		plugins:       cfg.Plugins,
	}
}

// ErrShutdown is returned by every operation once the engine has shut down.
var ErrShutdown = fmt.Errorf("chain: engine is shut down")

// Integrity reports the chain's current integrity mode.
func (e *Engine) Integrity() Integrity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.integrity
}

// SetIntegrity updates the chain's integrity mode, used by the mesh
// client when a disconnect forces local signing (§4.7 reconnect: "switch
// local integrity to Distributed").
func (e *Engine) SetIntegrity(i Integrity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.integrity = i
}

// Timeline exposes the read-only timeline view for the DIO layer and
// mesh history streaming.
func (e *Engine) Timeline() *timeline.Timeline { return e.timeline }

// PrimaryIndex exposes the primary-key index.
func (e *Engine) PrimaryIndex() *timeline.PrimaryIndex { return e.primary }

// ParentIndex exposes the parent index, used by trust.AuthResolver implementations.
func (e *Engine) ParentIndex() *timeline.ParentIndex { return e.parents }

// SecondaryIndex exposes the (parent, collection) child index.
func (e *Engine) SecondaryIndex() timeline.SecondaryIndexStore { return e.secondary }

// conversationFor returns the session state for conversationID,
// creating it on first use. An empty id still gets its own (unshared)
// session — callers that never set a conversation id simply never
// benefit from the proven-key memoization.
func (e *Engine) conversationFor(conversationID string) *plugin.Conversation {
	e.convMu.Lock()
	defer e.convMu.Unlock()
	conv, ok := e.conversations[conversationID]
	if !ok {
		conv = plugin.NewConversation(false)
		e.conversations[conversationID] = conv
	}
	return conv
}

// SetWeakenValidation marks conversationID's session as exempt from
// signature requirements (spec.md §4.4's "conversation has
// weaken_validation" exception), or clears that exemption.
func (e *Engine) SetWeakenValidation(conversationID string, weaken bool) {
	e.conversationFor(conversationID).SetWeakenValidation(weaken)
}

// ForgetConversation discards a conversation's proven-key session,
// used when a connection closes.
func (e *Engine) ForgetConversation(conversationID string) {
	e.convMu.Lock()
	defer e.convMu.Unlock()
	delete(e.conversations, conversationID)
}

// Load reads a single event by hash, consulting the redo log directly.
func (e *Engine) Load(ctx context.Context, hash eventmodel.Hash) (eventmodel.StrongEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.isShutdown {
		return eventmodel.StrongEvent{}, ErrShutdown
	}
	header, meta, data, err := e.log.Load(ctx, hash)
	if err != nil {
		return eventmodel.StrongEvent{}, err
	}
	return eventmodel.StrongEvent{Meta: meta, Data: data, Format: header.Format}, nil
}
