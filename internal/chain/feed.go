package chain

import (
	"context"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
	"github.com/chainvault/chainvault/internal/redo"
	"github.com/chainvault/chainvault/internal/timeline"
)

// TransactionScope mirrors spec.md §4.6/§4.7: how much of the commit
// path a caller wants to wait on.
type TransactionScope int

const (
	ScopeNone TransactionScope = iota
	ScopeLocal
	ScopeFull
)

// Transaction is one batch submitted to the feed pipeline.
type Transaction struct {
	Scope        TransactionScope
	Transmit     bool // false for events replayed in from a peer, per §4.8
	Events       []eventmodel.WeakEvent
	Conversation string
}

// Feed runs events through the plugin stack and, for every event that
// survives validation, persists it to the redo log and updates the
// timeline/indexes. It implements spec.md §4.5's feed_async_internal.
func (e *Engine) Feed(ctx context.Context, tx Transaction) ([]eventmodel.StrongEvent, error) {
	e.mu.RLock()
	shutdown := e.isShutdown
	integrity := e.integrity
	e.mu.RUnlock()
	if shutdown {
		return nil, ErrShutdown
	}

	conv := e.conversationFor(tx.Conversation)
	feedCtx := plugin.WithIntegrityMode(plugin.WithConversation(ctx, conv), integrity)

	e.pluginMu.Lock()
	type accepted struct {
		idx    int
		result plugin.FeedResult
	}
	var results []accepted
	var rejections []*ValidationError
	for i, ev := range tx.Events {
		fed, err := e.plugins.Feed(feedCtx, ev)
		if err != nil {
			rejections = append(rejections, &ValidationError{Index: i, Err: err})
			continue
		}
		results = append(results, accepted{idx: i, result: fed})
	}
	e.pluginMu.Unlock()

	committed := make([]eventmodel.StrongEvent, 0, len(results))
	e.mu.Lock()
	for _, r := range results {
		strong, err := r.result.Event.Strengthen()
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		if integrity == IntegrityCentralizedServer {
			strong.Meta = strong.Meta.WithoutSignatures()
		}
		if len(strong.Meta) == 0 && strong.Data == nil {
			continue
		}

		entry := redo.LogEntry{Header: r.result.Header, Meta: strong.Meta, Data: strong.Data}
		if _, err := e.log.Write(ctx, entry); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.applyIndexes(strong, r.result.Header)
		committed = append(committed, strong)
	}
	e.mu.Unlock()

	e.notifyListeners(committed)

	if len(rejections) > 0 {
		if len(rejections) == 1 {
			return committed, rejections[0]
		}
		return committed, &ManyValidationErrors{Errors: rejections}
	}
	return committed, nil
}

// applyIndexes updates the timeline and primary/secondary/parent
// indexes for a single committed event. Caller holds e.mu for writing.
func (e *Engine) applyIndexes(ev eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) {
	ts, ok := ev.Meta.Timestamp()
	ms := int64(0)
	if ok {
		ms = ts.MsSinceEpoch
	}
	chainTs := timeline.ChainTimestamp{MsSinceEpoch: ms, Hash: header.EventHash()}
	e.timeline.Insert(chainTs, header)

	leaf := timeline.EventLeaf{RecordHash: header.EventHash(), CreatedMs: ms, UpdatedMs: ms}
	if dk, ok := ev.Meta.DataKey(); ok {
		if _, tomb := ev.Meta.Tombstone(); tomb {
			e.primary.Delete(dk.PrimaryKey)
		} else {
			e.primary.Put(dk.PrimaryKey, leaf)
		}
		if parent, ok := ev.Meta.Parent(); ok {
			e.parents.Put(dk.PrimaryKey, timeline.ParentRef{CollectionID: parent.CollectionID, ParentKey: parent.ParentKey})
			if _, tomb := ev.Meta.Tombstone(); tomb {
				e.secondary.Remove(parent.ParentKey, parent.CollectionID, dk.PrimaryKey)
			} else {
				e.secondary.Add(parent.ParentKey, parent.CollectionID, dk.PrimaryKey)
			}
		}
	}
}
