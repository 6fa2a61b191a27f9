package mesh

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// RateLimiter bounds how many session messages and bytes a peer may
// send, with a global ceiling across all peers and a greylist for
// repeat offenders. Adapted near-verbatim from the reference node's
// RateLimiter (internal/p2p/ratelimit.go), which already keys peer
// state by libp2p's peer.ID — the only change of substance is that
// AllowMessage also rejects any message larger than the anti-abuse max
// message size before the rate counters are consulted (a bound the
// original left to a separate code path). Such a rejection is not
// recorded as a violation and does not count toward the greylist
// threshold.
type RateLimiter struct {
	config    RateLimitConfig
	antiAbuse AntiAbuseConfig

	peerLimits map[peer.ID]*PeerLimit
	peerMutex  sync.RWMutex

	globalCount int64
	globalReset time.Time
	globalMutex sync.Mutex

	cleanup *time.Ticker
	done    chan struct{}
}

// PeerLimit tracks rate-limiting state for one peer.
type PeerLimit struct {
	MessageCount int
	ByteCount    int64
	ResetTime    time.Time

	Violations    int
	LastViolation time.Time

	IsGreylisted  bool
	GreylistUntil time.Time
}

// NewRateLimiter builds a RateLimiter and starts its cleanup routine.
func NewRateLimiter(config RateLimitConfig, antiAbuse AntiAbuseConfig) *RateLimiter {
	rl := &RateLimiter{
		config:     config,
		antiAbuse:  antiAbuse,
		peerLimits: make(map[peer.ID]*PeerLimit),
		done:       make(chan struct{}),
	}
	rl.cleanup = time.NewTicker(config.CleanupInterval)
	go rl.cleanupRoutine()
	return rl
}

// Close stops the cleanup routine.
func (rl *RateLimiter) Close() {
	rl.cleanup.Stop()
	close(rl.done)
}

// AllowMessage reports whether a message of size bytes from peerID
// should be accepted, checking the global limit before the per-peer one.
func (rl *RateLimiter) AllowMessage(peerID peer.ID, size int) bool {
	if size > rl.antiAbuse.MaxMessageSize {
		return false
	}
	if !rl.checkGlobalLimit() {
		return false
	}
	return rl.checkPeerLimit(peerID, size)
}

func (rl *RateLimiter) checkGlobalLimit() bool {
	rl.globalMutex.Lock()
	defer rl.globalMutex.Unlock()

	now := time.Now()
	if now.After(rl.globalReset) {
		rl.globalCount = 0
		rl.globalReset = now.Add(time.Second)
	}
	if rl.globalCount >= int64(rl.config.GlobalMsgPerSec) {
		return false
	}
	rl.globalCount++
	return true
}

func (rl *RateLimiter) checkPeerLimit(peerID peer.ID, size int) bool {
	rl.peerMutex.Lock()
	defer rl.peerMutex.Unlock()

	limit, ok := rl.peerLimits[peerID]
	if !ok {
		limit = &PeerLimit{ResetTime: time.Now().Add(time.Minute)}
		rl.peerLimits[peerID] = limit
	}

	now := time.Now()
	if limit.IsGreylisted && now.Before(limit.GreylistUntil) {
		return false
	} else if limit.IsGreylisted {
		limit.IsGreylisted = false
		limit.Violations = 0
	}

	if now.After(limit.ResetTime) {
		limit.MessageCount = 0
		limit.ByteCount = 0
		limit.ResetTime = now.Add(time.Minute)
	}

	if limit.MessageCount >= rl.config.PeerMsgPerMin {
		rl.recordViolation(limit)
		return false
	}
	if limit.ByteCount+int64(size) > int64(rl.config.PeerBytesPerSec)*60 {
		rl.recordViolation(limit)
		return false
	}

	limit.MessageCount++
	limit.ByteCount += int64(size)
	return true
}

func (rl *RateLimiter) recordViolation(limit *PeerLimit) {
	limit.Violations++
	limit.LastViolation = time.Now()
	if limit.Violations >= rl.antiAbuse.GreylistThreshold {
		limit.IsGreylisted = true
		limit.GreylistUntil = time.Now().Add(rl.antiAbuse.GreylistDuration)
	}
}

// IsGreylisted reports whether peerID is currently greylisted.
func (rl *RateLimiter) IsGreylisted(peerID peer.ID) bool {
	rl.peerMutex.RLock()
	defer rl.peerMutex.RUnlock()
	limit, ok := rl.peerLimits[peerID]
	return ok && limit.IsGreylisted && time.Now().Before(limit.GreylistUntil)
}

func (rl *RateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.cleanupOldPeers()
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) cleanupOldPeers() {
	rl.peerMutex.Lock()
	defer rl.peerMutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)
	for id, limit := range rl.peerLimits {
		if limit.IsGreylisted && now.Before(limit.GreylistUntil) {
			continue
		}
		if limit.ResetTime.Before(cutoff) && (limit.LastViolation.IsZero() || limit.LastViolation.Before(cutoff)) {
			delete(rl.peerLimits, id)
		}
	}
}
