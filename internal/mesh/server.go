package mesh

import (
	"context"
	"encoding/json"

	"github.com/chainvault/chainvault/internal/chain"
	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/timeline"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
)

const historyBatchSize = 256

// Server accepts inbound mesh streams and routes them to the locally
// served chains named in its Registry, implementing the server half
// of spec.md §4.7/§4.8: subscribe handling, bounded history replay,
// and inbound event/lock forwarding into the local chain engine.
type Server struct {
	host     *Host
	registry *Registry
	log      *zap.Logger
}

// NewServer builds a Server over host and registry.
func NewServer(host *Host, registry *Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{host: host, registry: registry, log: log.Named("mesh.server")}
}

// Start registers the mesh stream handler on the underlying libp2p host.
func (s *Server) Start() {
	s.host.Underlying().SetStreamHandler(protocol.ID(ProtocolID), s.handleStream)
}

func (s *Server) handleStream(stream network.Stream) {
	defer stream.Close()
	ctx := context.Background()
	peerID := stream.Conn().RemotePeer()
	logger := s.log.With(zap.String("peer", peerID.String()))

	raw, err := readFrame(stream)
	if err != nil {
		logger.Warn("failed to read subscribe frame", zap.Error(err))
		return
	}
	kind, data, err := Decode(raw)
	if err != nil || kind != KindSubscribe {
		s.terminate(stream, "protocol_error", "expected subscribe as the first frame")
		return
	}
	var sub Subscribe
	if err := json.Unmarshal(data, &sub); err != nil {
		s.terminate(stream, "protocol_error", "malformed subscribe payload")
		return
	}

	flow := s.registry.RouteChain(sub.ChainKey)
	if flow == FlowDeny {
		s.terminate(stream, "unknown_chain", sub.ChainKey)
		return
	}
	binding, _ := s.registry.Lookup(sub.ChainKey)

	sessionID := peerID.String() + "/" + sub.ChainKey
	if err := s.send(stream, KindSecuredWith, SecuredWith{Session: sessionID}); err != nil {
		return
	}

	if err := s.streamHistory(ctx, stream, binding.Engine, sub.FromMs); err != nil {
		logger.Warn("history replay failed", zap.Error(err))
		return
	}

	s.serveLive(ctx, stream, binding, logger)
}

// streamHistory replays every event at or after fromMs to stream in
// batches, oldest-first (the order Timeline.Range already walks in),
// so a reconnecting client can resume from the last timestamp it saw.
func (s *Server) streamHistory(ctx context.Context, stream network.Stream, engine *chain.Engine, fromMs int64) error {
	var collected []eventmodel.StrongEvent
	engine.Timeline().Range(fromMs, 0, func(_ timeline.ChainTimestamp, header eventmodel.EventHeaderRaw) bool {
		ev, err := engine.Load(ctx, header.EventHash())
		if err != nil {
			return true
		}
		collected = append(collected, ev)
		return true
	})

	if err := s.send(stream, KindStartOfHistory, StartOfHistory{
		Size:   int64(len(collected)),
		FromMs: fromMs,
	}); err != nil {
		return err
	}

	for i := 0; i < len(collected); i += historyBatchSize {
		end := i + historyBatchSize
		if end > len(collected) {
			end = len(collected)
		}
		batch := make([]WireEvent, 0, end-i)
		for _, ev := range collected[i:end] {
			batch = append(batch, ToWireEvent(ev))
		}
		if err := s.send(stream, KindEvents, Events{Evts: batch}); err != nil {
			return err
		}
	}

	return s.send(stream, KindEndOfHistory, EndOfHistory{})
}

func (s *Server) serveLive(ctx context.Context, stream network.Stream, binding ChainBinding, logger *zap.Logger) {
	for {
		raw, err := readFrame(stream)
		if err != nil {
			return
		}
		kind, data, err := Decode(raw)
		if err != nil {
			logger.Warn("malformed session frame", zap.Error(err))
			return
		}

		switch kind {
		case KindEvents:
			s.handleEvents(ctx, stream, binding, data)
		case KindLock:
			s.handleLock(ctx, stream, binding, data)
		case KindUnlock:
			s.handleUnlock(ctx, stream, binding, data)
		default:
			logger.Debug("ignoring unexpected live-session message", zap.String("kind", string(kind)))
		}
	}
}

func (s *Server) handleEvents(ctx context.Context, stream network.Stream, binding ChainBinding, data []byte) {
	var msg Events
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	weak := make([]eventmodel.WeakEvent, 0, len(msg.Evts))
	for _, we := range msg.Evts {
		weak = append(weak, FromWireEvent(we))
	}

	_, err := binding.Pipe.Feed(ctx, chain.Transaction{
		Scope:    chain.ScopeLocal,
		Transmit: false,
		Events:   weak,
	})

	if msg.Commit == nil {
		return
	}
	if err != nil {
		s.send(stream, KindCommitError, CommitError{ID: *msg.Commit, Err: err.Error()})
		return
	}
	s.send(stream, KindConfirmed, Confirmed{ID: *msg.Commit})
}

func (s *Server) handleLock(ctx context.Context, stream network.Stream, binding ChainBinding, data []byte) {
	var msg Lock
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	err := binding.Pipe.Lock(ctx, msg.Key)
	s.send(stream, KindLockResult, LockResult{Key: msg.Key, IsLocked: err == nil})
}

func (s *Server) handleUnlock(ctx context.Context, stream network.Stream, binding ChainBinding, data []byte) {
	var msg Unlock
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	binding.Pipe.Unlock(ctx, msg.Key)
	s.send(stream, KindLockResult, LockResult{Key: msg.Key, IsLocked: false})
}

func (s *Server) send(stream network.Stream, kind MessageKind, payload interface{}) error {
	raw, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	return writeFrame(stream, raw)
}

func (s *Server) terminate(stream network.Stream, reason, detail string) {
	_ = s.send(stream, KindFatalTerminate, FatalTerminate{Reason: reason, Detail: detail})
}
