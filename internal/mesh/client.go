package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chainvault/chainvault/internal/chain"
	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
)

// ActiveSessionPipe is one live mesh session against a remote chain
// replica: a single multiplexed stream carrying the Subscribe
// handshake, history replay, and the ongoing Events/Lock/Unlock
// exchange. It implements chain.EventPipe directly; a disconnect
// leaves it permanently dead (see RecoverableSessionPipe for the
// reconnecting wrapper spec.md §4.7 describes).
type ActiveSessionPipe struct {
	stream  network.Stream
	engine  *chain.Engine // local mirror the session replays history into
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan sessionReply
	closed  chan struct{}
	once    sync.Once
}

type sessionReply struct {
	confirmed *Confirmed
	errored   *CommitError
}

// Dial opens a new session to peerID over host for chainKey, replaying
// its history (from fromMs) into the local engine before returning.
func Dial(ctx context.Context, host *Host, peerID peer.ID, engine *chain.Engine, chainKey string, fromMs int64, log *zap.Logger) (*ActiveSessionPipe, error) {
	if log == nil {
		log = zap.NewNop()
	}
	stream, err := host.Underlying().NewStream(ctx, peerID, protocol.ID(ProtocolID))
	if err != nil {
		return nil, fmt.Errorf("mesh: open stream to %s: %w", peerID, err)
	}

	p := &ActiveSessionPipe{
		stream:  stream,
		engine:  engine,
		log:     log.Named("mesh.client"),
		pending: make(map[string]chan sessionReply),
		closed:  make(chan struct{}),
	}

	if err := p.send(KindSubscribe, Subscribe{ChainKey: chainKey, FromMs: fromMs}); err != nil {
		stream.Close()
		return nil, err
	}
	if err := p.handshake(); err != nil {
		stream.Close()
		return nil, err
	}

	go p.readLoop()
	return p, nil
}

// handshake consumes SecuredWith, the StartOfHistory/Events*/EndOfHistory
// sequence, replaying received events into the local engine, and
// returns once EndOfHistory arrives.
func (p *ActiveSessionPipe) handshake() error {
	raw, err := readFrame(p.stream)
	if err != nil {
		return err
	}
	kind, _, err := Decode(raw)
	if err != nil {
		return err
	}
	if kind == KindFatalTerminate {
		return fmt.Errorf("mesh: subscribe rejected")
	}
	if kind != KindSecuredWith {
		return fmt.Errorf("mesh: expected secured_with, got %s", kind)
	}

	for {
		raw, err := readFrame(p.stream)
		if err != nil {
			return err
		}
		kind, data, err := Decode(raw)
		if err != nil {
			return err
		}
		switch kind {
		case KindStartOfHistory:
			continue
		case KindEvents:
			var ev Events
			if err := json.Unmarshal(data, &ev); err != nil {
				return err
			}
			p.replayHistory(ev)
		case KindEndOfHistory:
			return nil
		default:
			return fmt.Errorf("mesh: unexpected message %s during history replay", kind)
		}
	}
}

func (p *ActiveSessionPipe) replayHistory(ev Events) {
	weak := make([]eventmodel.WeakEvent, 0, len(ev.Evts))
	for _, we := range ev.Evts {
		weak = append(weak, FromWireEvent(we))
	}
	if _, err := p.engine.Feed(context.Background(), chain.Transaction{
		Scope:    chain.ScopeLocal,
		Transmit: false,
		Events:   weak,
	}); err != nil {
		p.log.Warn("error replaying history batch", zap.Error(err))
	}
}

func (p *ActiveSessionPipe) readLoop() {
	defer close(p.closed)
	for {
		raw, err := readFrame(p.stream)
		if err != nil {
			return
		}
		kind, data, err := Decode(raw)
		if err != nil {
			continue
		}
		switch kind {
		case KindConfirmed:
			var m Confirmed
			if json.Unmarshal(data, &m) == nil {
				p.deliver(m.ID, sessionReply{confirmed: &m})
			}
		case KindCommitError:
			var m CommitError
			if json.Unmarshal(data, &m) == nil {
				p.deliver(m.ID, sessionReply{errored: &m})
			}
		case KindLockResult:
			var m LockResult
			if json.Unmarshal(data, &m) == nil {
				p.deliver("lock:"+m.Key, sessionReply{confirmed: &Confirmed{ID: m.Key}})
			}
		case KindEvents:
			var m Events
			if json.Unmarshal(data, &m) == nil {
				p.replayHistory(m)
			}
		case KindFatalTerminate:
			return
		}
	}
}

func (p *ActiveSessionPipe) deliver(id string, reply sessionReply) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if ok {
		ch <- reply
	}
}

func (p *ActiveSessionPipe) await(id string) chan sessionReply {
	ch := make(chan sessionReply, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *ActiveSessionPipe) send(kind MessageKind, payload interface{}) error {
	raw, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	return writeFrame(p.stream, raw)
}

// Feed ships tx's events to the remote replica. Per spec.md §4.7, a
// commit id is allocated and a remote acknowledgement awaited only for
// ScopeFull; ScopeNone and ScopeLocal fire the events at the wire and
// return immediately without blocking on the network.
func (p *ActiveSessionPipe) Feed(ctx context.Context, tx chain.Transaction) ([]eventmodel.StrongEvent, error) {
	evts := make([]WireEvent, 0, len(tx.Events))
	committed := make([]eventmodel.StrongEvent, 0, len(tx.Events))
	for _, ev := range tx.Events {
		strong, err := ev.Strengthen()
		if err != nil {
			return nil, err
		}
		evts = append(evts, ToWireEvent(strong))
		committed = append(committed, strong)
	}

	if tx.Scope != chain.ScopeFull {
		if err := p.send(KindEvents, Events{Evts: evts}); err != nil {
			return nil, err
		}
		return committed, nil
	}

	commitID := uuid.NewString()
	ch := p.await(commitID)
	if err := p.send(KindEvents, Events{Commit: &commitID, Evts: evts}); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.errored != nil {
			return nil, fmt.Errorf("mesh: remote rejected commit: %s", reply.errored.Err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrSessionClosed
	}

	return committed, nil
}

// LoadMany resolves hashes from the locally mirrored engine, which has
// every event replayed into it during history sync and live forwarding.
func (p *ActiveSessionPipe) LoadMany(ctx context.Context, hashes []eventmodel.Hash) ([]eventmodel.StrongEvent, error) {
	out := make([]eventmodel.StrongEvent, 0, len(hashes))
	for _, h := range hashes {
		ev, err := p.engine.Load(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Lock requests an exclusive remote lock on key and waits for the
// server's LockResult.
func (p *ActiveSessionPipe) Lock(ctx context.Context, key string) error {
	ch := p.await("lock:" + key)
	if err := p.send(KindLock, Lock{Key: key}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrSessionClosed
	}
}

// Unlock releases a remote lock on key without waiting for acknowledgement.
func (p *ActiveSessionPipe) Unlock(ctx context.Context, key string) error {
	return p.send(KindUnlock, Unlock{Key: key})
}

// Close ends the session, releasing the underlying stream.
func (p *ActiveSessionPipe) Close() error {
	var err error
	p.once.Do(func() { err = p.stream.Close() })
	return err
}

// Done returns a channel closed once the session's read loop exits
// (remote close, protocol error, or a fatal_terminate frame).
func (p *ActiveSessionPipe) Done() <-chan struct{} { return p.closed }

var _ chain.EventPipe = (*ActiveSessionPipe)(nil)
