package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
)

// TopicHandler processes one decoded wire message received on a
// chain's broadcast topic. from is the sending peer.
type TopicHandler func(ctx context.Context, chainKey string, from peer.ID, kind MessageKind, data []byte)

// Host wraps a libp2p host, its kad-dht instance (used to resolve
// which replica is root authority for a chain key) and its gossipsub
// instance (used to rebroadcast committed events), adapted from the
// reference node's P2PHost. Unlike that host, which subscribes to a
// fixed set of topics at startup, this one subscribes per chain key
// on demand as chains are opened.
type Host struct {
	config *Config
	log    *zap.Logger

	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub

	topics        *TopicManager
	subscriptions map[string]*pubsub.Subscription
	subMutex      sync.RWMutex

	rateLimiter *RateLimiter
	handler     TopicHandler

	started bool
	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHost builds a Host. handler is invoked for every message received
// on any subscribed chain topic once the rate limiter and size checks
// pass.
func NewHost(config *Config, log *zap.Logger, handler TopicHandler) *Host {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		config:        config,
		log:           log.Named("mesh.host"),
		topics:        NewTopicManager(),
		subscriptions: make(map[string]*pubsub.Subscription),
		rateLimiter:   NewRateLimiter(config.RateLimit, config.AntiAbuse),
		handler:       handler,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start brings up the libp2p host, DHT and gossipsub instance and
// dials any configured bootstrap peers.
func (h *Host) Start(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.started {
		return ErrHostAlreadyStarted
	}

	h.log.Info("starting mesh host", zap.Int("listen_addrs", len(h.config.ListenAddrs)))

	opts := []libp2p.Option{
		libp2p.ListenAddrs(h.config.ListenAddrs...),
		libp2p.EnableNATService(),
		libp2p.EnableRelay(),
	}

	hh, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("mesh: create libp2p host: %w", err)
	}
	h.host = hh
	h.log.Info("libp2p host created", zap.String("peer_id", hh.ID().String()))

	if err := h.initDHT(ctx); err != nil {
		hh.Close()
		return fmt.Errorf("mesh: init dht: %w", err)
	}
	if err := h.initPubSub(ctx); err != nil {
		hh.Close()
		return fmt.Errorf("mesh: init pubsub: %w", err)
	}
	if err := h.bootstrap(ctx); err != nil {
		h.log.Warn("bootstrap failed, continuing without seed peers", zap.Error(err))
	}

	h.started = true
	h.log.Info("mesh host started", zap.String("peer_id", h.host.ID().String()))
	return nil
}

// Stop cancels every subscription, closes the DHT and host, and stops
// the rate limiter's cleanup routine.
func (h *Host) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.started {
		return ErrHostNotStarted
	}

	h.subMutex.Lock()
	for key, sub := range h.subscriptions {
		sub.Cancel()
		delete(h.subscriptions, key)
	}
	h.subMutex.Unlock()

	h.rateLimiter.Close()

	if h.dht != nil {
		if err := h.dht.Close(); err != nil {
			h.log.Warn("error closing dht", zap.Error(err))
		}
	}
	if h.host != nil {
		if err := h.host.Close(); err != nil {
			h.log.Warn("error closing host", zap.Error(err))
		}
	}

	h.cancel()
	h.started = false
	return nil
}

func (h *Host) initDHT(ctx context.Context) error {
	var mode dht.ModeOpt
	switch h.config.DHT.Mode {
	case "client":
		mode = dht.ModeClient
	case "server":
		mode = dht.ModeServer
	default:
		mode = dht.ModeAuto
	}
	kadDHT, err := dht.New(ctx, h.host,
		dht.Mode(mode),
		dht.ProtocolPrefix(protocol.ID(h.config.DHT.ProtocolPrefix)),
	)
	if err != nil {
		return err
	}
	h.dht = kadDHT
	return nil
}

func (h *Host) initPubSub(ctx context.Context) error {
	opts := []pubsub.Option{
		pubsub.WithFloodPublish(false),
		pubsub.WithMessageSigning(true),
	}
	ps, err := pubsub.NewGossipSub(ctx, h.host, opts...)
	if err != nil {
		return err
	}
	h.pubsub = ps
	return nil
}

func (h *Host) bootstrap(ctx context.Context) error {
	if len(h.config.BootstrapPeers) == 0 {
		return nil
	}
	for _, addr := range h.config.BootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_ = h.host.Connect(connCtx, *pi)
		cancel()
	}
	return h.dht.Bootstrap(ctx)
}

// JoinChain subscribes to chainKey's broadcast topic, starting a
// background handler that decodes and dispatches every message.
func (h *Host) JoinChain(ctx context.Context, chainKey string) error {
	h.mutex.RLock()
	started := h.started
	h.mutex.RUnlock()
	if !started {
		return ErrHostNotStarted
	}
	if !h.topics.IsValidChainKey(chainKey) {
		return ErrInvalidChainKey
	}

	topic := h.topics.BroadcastTopic(chainKey)

	h.subMutex.Lock()
	defer h.subMutex.Unlock()
	if _, ok := h.subscriptions[topic]; ok {
		return nil
	}

	sub, err := h.pubsub.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("mesh: subscribe %s: %w", topic, err)
	}
	h.subscriptions[topic] = sub
	go h.handleTopicMessages(ctx, chainKey, topic, sub)
	return nil
}

// LeaveChain cancels chainKey's broadcast subscription, if any.
func (h *Host) LeaveChain(chainKey string) {
	topic := h.topics.BroadcastTopic(chainKey)
	h.subMutex.Lock()
	defer h.subMutex.Unlock()
	if sub, ok := h.subscriptions[topic]; ok {
		sub.Cancel()
		delete(h.subscriptions, topic)
	}
}

// Broadcast publishes a committed transaction's wire-encoded events to
// chainKey's topic.
func (h *Host) Broadcast(ctx context.Context, chainKey string, kind MessageKind, payload interface{}) error {
	h.mutex.RLock()
	started := h.started
	h.mutex.RUnlock()
	if !started {
		return ErrHostNotStarted
	}

	raw, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	if err := h.topics.ValidateTopicMessage(raw, h.config.AntiAbuse.MaxMessageSize); err != nil {
		return err
	}
	topic := h.topics.BroadcastTopic(chainKey)
	return h.pubsub.Publish(topic, raw)
}

func (h *Host) handleTopicMessages(ctx context.Context, chainKey, topic string, sub *pubsub.Subscription) {
	logger := h.log.With(zap.String("chain_key", chainKey))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in topic handler", zap.Any("panic", r))
		}
	}()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("error receiving topic message", zap.Error(err))
			continue
		}

		if !h.rateLimiter.AllowMessage(msg.ReceivedFrom, len(msg.Data)) {
			continue
		}
		if err := h.topics.ValidateTopicMessage(msg.Data, h.config.AntiAbuse.MaxMessageSize); err != nil {
			continue
		}

		kind, data, err := Decode(msg.Data)
		if err != nil {
			logger.Warn("malformed wire message", zap.Error(err))
			continue
		}
		if h.handler != nil {
			h.handler(ctx, chainKey, msg.ReceivedFrom, kind, data)
		}
	}
}

// NetworkInfo reports the host's current peering state for admin
// diagnostics.
func (h *Host) NetworkInfo() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if !h.started {
		return map[string]interface{}{"status": "stopped"}
	}
	h.subMutex.RLock()
	subs := len(h.subscriptions)
	h.subMutex.RUnlock()
	return map[string]interface{}{
		"status":          "running",
		"peer_id":         h.host.ID().String(),
		"connected_peers": len(h.host.Network().Peers()),
		"subscriptions":   subs,
	}
}

// ID returns the host's libp2p peer ID.
func (h *Host) ID() peer.ID {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.host == nil {
		return ""
	}
	return h.host.ID()
}

// Underlying exposes the raw libp2p host so a Server can register a
// stream handler and a client can dial peers directly.
func (h *Host) Underlying() host.Host {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.host
}

// DHT exposes the kad-dht instance for root-authority lookups.
func (h *Host) DHT() *dht.IpfsDHT {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dht
}
