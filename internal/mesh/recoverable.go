package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/chainvault/chainvault/internal/chain"
	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/trust"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// RootLocator resolves which peer(s) currently serve as root authority
// for a chain key. A kad-dht-backed implementation lives alongside
// Host; tests substitute a static map. ReplicasFor feeds
// LockCoordinator's multi-server quorum; a single-replica deployment
// just returns a one-element slice and quorum collapses to that peer's
// vote alone.
type RootLocator interface {
	RootFor(ctx context.Context, chainKey string) (peer.ID, error)
	ReplicasFor(ctx context.Context, chainKey string) ([]peer.ID, error)
}

// RecoverableSessionPipe wraps an ActiveSessionPipe with automatic
// reconnection: while disconnected it switches local integrity to
// Distributed and keeps accepting local writes instead of blocking
// writers during an outage. Writes accepted while disconnected stay in
// the local engine; they are not replayed to the server once a session
// is re-established.
type RecoverableSessionPipe struct {
	host        *Host
	locator     RootLocator
	engine      *chain.Engine
	local       *chain.LocalPipe
	chainKey    string
	cfg         SessionConfig
	log         *zap.Logger
	coordinator *LockCoordinator

	mu       sync.RWMutex
	active   *ActiveSessionPipe
	replicas map[peer.ID]*ActiveSessionPipe
	lastMs   int64
	closing  chan struct{}
}

// NewRecoverableSessionPipe builds a pipe and starts its connect loop
// in the background; until a session exists, Feed/Lock/Unlock go to
// the local engine.
func NewRecoverableSessionPipe(host *Host, locator RootLocator, engine *chain.Engine, chainKey string, cfg SessionConfig, log *zap.Logger) *RecoverableSessionPipe {
	if log == nil {
		log = zap.NewNop()
	}
	p := &RecoverableSessionPipe{
		host:        host,
		locator:     locator,
		engine:      engine,
		local:       &chain.LocalPipe{Engine: engine},
		chainKey:    chainKey,
		cfg:         cfg,
		log:         log.Named("mesh.recoverable"),
		coordinator: NewLockCoordinator(trust.NewThresholdVerifier()),
		replicas:    make(map[peer.ID]*ActiveSessionPipe),
		closing:     make(chan struct{}),
	}
	go p.connectLoop()
	return p
}

func (p *RecoverableSessionPipe) connectLoop() {
	backoff := p.cfg.InitialBackoff
	for {
		select {
		case <-p.closing:
			return
		default:
		}

		session, err := p.tryConnect()
		if err != nil {
			p.engine.SetIntegrity(chain.IntegrityDistributed)
			p.log.Warn("mesh reconnect failed, staying in distributed integrity", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-p.closing:
				return
			}
			backoff *= 2
			if backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
			continue
		}

		backoff = p.cfg.InitialBackoff
		p.mu.Lock()
		p.active = session
		p.mu.Unlock()
		p.engine.SetIntegrity(chain.IntegrityCentralizedClient)
		p.dialReplicas()

		select {
		case <-session.Done():
			p.mu.Lock()
			p.active = nil
			p.mu.Unlock()
			p.closeReplicas()
		case <-p.closing:
			session.Close()
			p.closeReplicas()
			return
		}
	}
}

// dialReplicas best-effort connects to every replica the locator knows
// about for this chain key, so Lock can run its quorum vote across all
// of them rather than just the one session Feed writes through.
// Replicas that fail to dial are simply excluded from the vote; a
// chain with only one known replica still reaches quorum trivially
// (floor(1/2)+1 == 1).
func (p *RecoverableSessionPipe) dialReplicas() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
	defer cancel()

	ids, err := p.locator.ReplicasFor(ctx, p.chainKey)
	if err != nil {
		p.log.Warn("could not resolve lock-voting replicas", zap.Error(err))
		return
	}

	p.mu.RLock()
	fromMs := p.lastMs
	p.mu.RUnlock()

	replicas := make(map[peer.ID]*ActiveSessionPipe, len(ids))
	for _, id := range ids {
		session, err := Dial(ctx, p.host, id, p.engine, p.chainKey, fromMs, p.log)
		if err != nil {
			p.log.Warn("replica dial failed, excluded from lock quorum", zap.String("peer", id.String()), zap.Error(err))
			continue
		}
		replicas[id] = session
	}

	p.mu.Lock()
	p.replicas = replicas
	p.mu.Unlock()
}

func (p *RecoverableSessionPipe) closeReplicas() {
	p.mu.Lock()
	replicas := p.replicas
	p.replicas = make(map[peer.ID]*ActiveSessionPipe)
	p.mu.Unlock()
	for _, session := range replicas {
		session.Close()
	}
}

func (p *RecoverableSessionPipe) tryConnect() (*ActiveSessionPipe, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
	defer cancel()

	root, err := p.locator.RootFor(ctx, p.chainKey)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	fromMs := p.lastMs
	p.mu.RUnlock()

	return Dial(ctx, p.host, root, p.engine, p.chainKey, fromMs, p.log)
}

func (p *RecoverableSessionPipe) current() (*ActiveSessionPipe, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active, p.active != nil
}

// Feed submits tx through the active session if one exists, otherwise
// feeds the local engine directly. Writes fed locally while
// disconnected are not forwarded to the server when a session
// reconnects.
func (p *RecoverableSessionPipe) Feed(ctx context.Context, tx chain.Transaction) ([]eventmodel.StrongEvent, error) {
	if session, ok := p.current(); ok {
		return session.Feed(ctx, tx)
	}
	return p.local.Feed(ctx, tx)
}

// LoadMany always resolves against the local mirrored engine.
func (p *RecoverableSessionPipe) LoadMany(ctx context.Context, hashes []eventmodel.Hash) ([]eventmodel.StrongEvent, error) {
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

// Lock requests an exclusive lock on key, run as a quorum vote across
// every known replica (spec.md §4.7) when connected, otherwise a local
// one. The aggregate quorum proof LockCoordinator returns is discarded
// here; callers only need to know the lock was granted.
func (p *RecoverableSessionPipe) Lock(ctx context.Context, key string) error {
	p.mu.RLock()
	replicas := p.replicas
	p.mu.RUnlock()

	if len(replicas) > 0 {
		lockers := make(map[peer.ID]replicaLocker, len(replicas))
		for id, session := range replicas {
			lockers[id] = session
		}
		_, err := p.coordinator.Lock(ctx, key, lockers)
		return err
	}
	if session, ok := p.current(); ok {
		return session.Lock(ctx, key)
	}
	return p.local.Lock(ctx, key)
}

// Unlock releases key on every known replica (best-effort: a replica
// that failed to dial never held the lock and has nothing to release),
// otherwise a local one.
func (p *RecoverableSessionPipe) Unlock(ctx context.Context, key string) error {
	p.mu.RLock()
	replicas := p.replicas
	p.mu.RUnlock()

	if len(replicas) > 0 {
		var last error
		for _, session := range replicas {
			if err := session.Unlock(ctx, key); err != nil {
				last = err
			}
		}
		return last
	}
	if session, ok := p.current(); ok {
		return session.Unlock(ctx, key)
	}
	return p.local.Unlock(ctx, key)
}

// Close stops the reconnect loop and closes any active session.
func (p *RecoverableSessionPipe) Close() {
	close(p.closing)
	if session, ok := p.current(); ok {
		session.Close()
	}
	p.closeReplicas()
}

var _ chain.EventPipe = (*RecoverableSessionPipe)(nil)
