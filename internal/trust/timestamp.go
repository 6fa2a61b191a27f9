package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
)

// ErrMissingTimestamp is returned when an event carries no Timestamp record.
var ErrMissingTimestamp = fmt.Errorf("trust: event missing timestamp record")

// ErrTimestampOutOfRange is returned when an event's declared timestamp
// is further from the enforcer's clock than the configured drift.
var ErrTimestampOutOfRange = fmt.Errorf("trust: event timestamp outside allowed clock drift")

// TimestampEnforcer validates that every event's Timestamp record sits
// within MaxDrift of the node's clock, rejecting both stale replays
// and events claiming a future timestamp. It also doubles as a
// Transformer: when an outgoing event carries no Timestamp yet, it
// stamps one from the clock before hashing.
type TimestampEnforcer struct {
	plugin.Base
	Clock    TimeKeeper
	MaxDrift time.Duration
}

// NewTimestampEnforcer builds an enforcer using clock, allowing up to
// maxDrift skew between an event's declared timestamp and the clock.
func NewTimestampEnforcer(clock TimeKeeper, maxDrift time.Duration) *TimestampEnforcer {
	return &TimestampEnforcer{Clock: clock, MaxDrift: maxDrift}
}

// Validate only ever Denies (missing or out-of-range timestamp) or
// Abstains: like AntiReplay, it checks one property and leaves the
// overall admit/reject decision to TrustTree.
func (e *TimestampEnforcer) Validate(_ context.Context, ev eventmodel.StrongEvent, _ eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	ts, ok := ev.Meta.Timestamp()
	if !ok {
		return plugin.Deny, ErrMissingTimestamp
	}
	declared := time.UnixMilli(ts.MsSinceEpoch)
	delta := e.Clock.Now().Sub(declared)
	if delta < 0 {
		delta = -delta
	}
	if delta > e.MaxDrift {
		return plugin.Deny, ErrTimestampOutOfRange
	}
	return plugin.Abstain, nil
}

// Transform appends a Timestamp record from the clock if the event
// does not already carry one, so locally-originated events never fail
// their own enforcer check for a missing timestamp.
func (e *TimestampEnforcer) Transform(_ context.Context, ev eventmodel.WeakEvent) (eventmodel.WeakEvent, error) {
	if _, ok := ev.Meta.Timestamp(); ok {
		return ev, nil
	}
	stamped := make(eventmodel.Metadata, 0, len(ev.Meta)+1)
	stamped = append(stamped, ev.Meta...)
	stamped = append(stamped, eventmodel.Timestamp{MsSinceEpoch: e.Clock.Now().UnixMilli()})
	ev.Meta = stamped
	return ev, nil
}

var _ plugin.Plugin = (*TimestampEnforcer)(nil)
