package mesh

import (
	cryptorand "crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(cryptorand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

func newTestRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		PeerMsgPerMin:   2,
		PeerBytesPerSec: 1024,
		GlobalMsgPerSec: 100,
		CleanupInterval: time.Hour,
	}, AntiAbuseConfig{
		GreylistDuration:  time.Minute,
		GreylistThreshold: 2,
		MaxMessageSize:    1024,
	})
}

func TestRateLimiterRejectsOversizedMessage(t *testing.T) {
	rl := newTestRateLimiter()
	defer rl.Close()

	assert.False(t, rl.AllowMessage(testPeerID(t), 2048))
}

func TestRateLimiterAllowsWithinPeerBudgetThenRejects(t *testing.T) {
	rl := newTestRateLimiter()
	defer rl.Close()

	id := testPeerID(t)
	assert.True(t, rl.AllowMessage(id, 10))
	assert.True(t, rl.AllowMessage(id, 10))
	// Third message within the same minute exceeds PeerMsgPerMin: 2.
	assert.False(t, rl.AllowMessage(id, 10))
}

func TestRateLimiterGreylistsAfterRepeatedViolations(t *testing.T) {
	rl := newTestRateLimiter()
	defer rl.Close()

	id := testPeerID(t)
	rl.AllowMessage(id, 10)
	rl.AllowMessage(id, 10)
	// Two violations reach GreylistThreshold: 2.
	rl.AllowMessage(id, 10)
	rl.AllowMessage(id, 10)

	assert.True(t, rl.IsGreylisted(id))
}

func TestRateLimiterGlobalLimitAppliesAcrossPeers(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		PeerMsgPerMin:   1000,
		PeerBytesPerSec: 1 << 20,
		GlobalMsgPerSec: 1,
		CleanupInterval: time.Hour,
	}, AntiAbuseConfig{MaxMessageSize: 1024, GreylistThreshold: 1000, GreylistDuration: time.Minute})
	defer rl.Close()

	assert.True(t, rl.AllowMessage(testPeerID(t), 10))
	assert.False(t, rl.AllowMessage(testPeerID(t), 10))
}

func TestRateLimiterIsGreylistedFalseForUnknownPeer(t *testing.T) {
	rl := newTestRateLimiter()
	defer rl.Close()
	assert.False(t, rl.IsGreylisted(testPeerID(t)))
}
