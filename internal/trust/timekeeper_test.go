package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClockNowIsCloseToWallClock(t *testing.T) {
	var c SystemClock
	before := time.Now()
	got := c.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

// NTPClock requires a live UDP round trip to an NTP server, so only
// its Close is exercised here; a real sync is left to
// manual/integration testing rather than faked with a stub server.
func TestNTPClockCloseIsIdempotent(t *testing.T) {
	c := &NTPClock{stop: make(chan struct{})}
	c.Close()
	assert.NotPanics(t, func() { c.Close() })
}
