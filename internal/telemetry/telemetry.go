// Package telemetry builds the structured logger every other package
// in this module logs through. It generalizes the reference node's
// hand-rolled component/level/field logger (internal/p2p/logger.go's
// Logger/LoggerContext, with its WithFields/WithPeer/WithTopic
// helpers) onto zap's idiomatic equivalents: Named for component
// tagging, With for contextual fields.
package telemetry

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors config.TelemetryConfig without importing it, so this
// package has no dependency on the node-level config surface.
type Config struct {
	Level       string
	Development bool
	Encoding    string
}

// New builds a *zap.Logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("telemetry: invalid log level %q: %w", cfg.Level, err)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = encoding

	return zcfg.Build()
}

// WithPeer tags logger with a libp2p peer id, the zap equivalent of
// the reference logger's WithPeer.
func WithPeer(logger *zap.Logger, id peer.ID) *zap.Logger {
	return logger.With(zap.String("peer_id", id.String()))
}

// WithChain tags logger with a chain key.
func WithChain(logger *zap.Logger, chainKey string) *zap.Logger {
	return logger.With(zap.String("chain_key", chainKey))
}

// WithTopic tags logger with a gossipsub topic name.
func WithTopic(logger *zap.Logger, topic string) *zap.Logger {
	return logger.With(zap.String("topic", topic))
}
