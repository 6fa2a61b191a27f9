package mesh

import "errors"

var (
	ErrHostAlreadyStarted = errors.New("mesh: host already started")
	ErrHostNotStarted      = errors.New("mesh: host not started")
	ErrInvalidChainKey     = errors.New("mesh: invalid chain key")
	ErrNoSuchSubscription  = errors.New("mesh: no subscription for chain key")
	ErrRateLimited         = errors.New("mesh: rate limited")
	ErrNoRootAuthority     = errors.New("mesh: could not resolve root authority")
	ErrSessionClosed       = errors.New("mesh: session closed")
	ErrUnknownMessageKind  = errors.New("mesh: unknown wire message kind")
)
