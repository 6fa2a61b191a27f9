package compact

import (
	"context"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// IndecisiveCompactor always abstains — a baseline/no-op compactor
// useful as a placeholder entry in a Stack under construction.
type IndecisiveCompactor struct{}

func (IndecisiveCompactor) Relevance(context.Context, Candidate) Relevance { return Abstain }
func (IndecisiveCompactor) PostFeed(context.Context, Candidate, Relevance) {}

// CutOffCompactor force-keeps every event at or after CutOffMs,
// establishing the floor below which compaction may discard anything.
type CutOffCompactor struct {
	CutOffMs int64
}

func (c CutOffCompactor) Relevance(_ context.Context, cand Candidate) Relevance {
	ts, ok := cand.Meta.Timestamp()
	if ok && ts.MsSinceEpoch >= c.CutOffMs {
		return ForceKeep
	}
	return Abstain
}
func (CutOffCompactor) PostFeed(context.Context, Candidate, Relevance) {}

// NoKeepType is the Type name an event can carry to opt out of
// KeepDataCompactor's default retention (spec.md: "unless marked no-keep").
const NoKeepType = "no-keep"

// KeepDataCompactor votes Keep for any event carrying a DataKey,
// unless the event is explicitly marked no-keep via a Type record.
type KeepDataCompactor struct{}

func (KeepDataCompactor) Relevance(_ context.Context, c Candidate) Relevance {
	if _, ok := c.Meta.DataKey(); !ok {
		return Abstain
	}
	for _, r := range c.Meta {
		if ty, ok := r.(eventmodel.Type); ok && ty.Name == NoKeepType {
			return Abstain
		}
	}
	return Keep
}
func (KeepDataCompactor) PostFeed(context.Context, Candidate, Relevance) {}

// SignatureCompactor force-keeps every event that carries a Signature
// record. It abstains only for an event whose own hash was already
// kept in this pass; it does not look at which events a signature
// covers, so it keeps every surviving signature event rather than a
// minimal set.
// Stateful — must be cloned fresh per compaction pass, matching
// spec.md §4.9 step 1 ("clone the plugin stack; reset each clone").
type SignatureCompactor struct {
	mu        sync.Mutex
	satisfied map[eventmodel.Hash]bool
}

// NewSignatureCompactor builds an empty SignatureCompactor.
func NewSignatureCompactor() *SignatureCompactor {
	return &SignatureCompactor{satisfied: make(map[eventmodel.Hash]bool)}
}

func (s *SignatureCompactor) Relevance(_ context.Context, c Candidate) Relevance {
	if len(c.Meta.Signatures()) == 0 {
		return Abstain
	}
	hash := c.Header.EventHash()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.satisfied[hash] {
		return Abstain
	}
	return ForceKeep
}

func (s *SignatureCompactor) PostFeed(_ context.Context, c Candidate, decision Relevance) {
	if !Keeps(decision) {
		return
	}
	if len(c.Meta.Signatures()) == 0 {
		return
	}
	s.mu.Lock()
	s.satisfied[c.Header.EventHash()] = true
	s.mu.Unlock()
}

// PublicKeyCompactor force-keeps any PublicKey record whose key hash
// is in its wanted set. It is built fresh for each pass, with the set
// of still-live SignWith key hashes supplied up front (since the
// timeline walk is newest-to-oldest, while a key's introducing
// PublicKey record is necessarily earlier).
type PublicKeyCompactor struct {
	mu      sync.Mutex
	wanted  map[string]bool
}

// NewPublicKeyCompactor builds a compactor that force-keeps introductions
// for any key hash in wanted.
func NewPublicKeyCompactor(wanted map[string]bool) *PublicKeyCompactor {
	return &PublicKeyCompactor{wanted: wanted}
}

func (p *PublicKeyCompactor) Relevance(_ context.Context, c Candidate) Relevance {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pk := range c.Meta.PublicKeys() {
		if p.wanted[pk.KeyHash] {
			return ForceKeep
		}
	}
	return Abstain
}
func (p *PublicKeyCompactor) PostFeed(context.Context, Candidate, Relevance) {}

// TombstoneCompactor force-keeps every event carrying a Tombstone
// record; a tombstone is never released, even after the events it
// supersedes are gone. Once a tombstone for a primary key has been
// kept, every older event with a DataKey for that key is force-dropped.
type TombstoneCompactor struct {
	mu      sync.Mutex
	cleared map[string]bool
}

// NewTombstoneCompactor builds an empty TombstoneCompactor.
func NewTombstoneCompactor() *TombstoneCompactor {
	return &TombstoneCompactor{cleared: make(map[string]bool)}
}

func (t *TombstoneCompactor) Relevance(_ context.Context, c Candidate) Relevance {
	if _, ok := c.Meta.Tombstone(); ok {
		return ForceKeep
	}
	if dk, ok := c.Meta.DataKey(); ok {
		t.mu.Lock()
		cleared := t.cleared[dk.PrimaryKey]
		t.mu.Unlock()
		if cleared {
			return ForceDrop
		}
	}
	return Abstain
}

func (t *TombstoneCompactor) PostFeed(_ context.Context, c Candidate, decision Relevance) {
	if tomb, ok := c.Meta.Tombstone(); ok && Keeps(decision) {
		t.mu.Lock()
		t.cleared[tomb.PrimaryKey] = true
		t.mu.Unlock()
	}
}

// RemoveDuplicatesCompactor drops every event for a given DataKey
// except the most recent one seen (iteration is newest-to-oldest, so
// "most recent seen" is simply "first seen").
type RemoveDuplicatesCompactor struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewRemoveDuplicatesCompactor builds an empty RemoveDuplicatesCompactor.
func NewRemoveDuplicatesCompactor() *RemoveDuplicatesCompactor {
	return &RemoveDuplicatesCompactor{seen: make(map[string]bool)}
}

func (r *RemoveDuplicatesCompactor) Relevance(_ context.Context, c Candidate) Relevance {
	dk, ok := c.Meta.DataKey()
	if !ok {
		return Abstain
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[dk.PrimaryKey] {
		return ForceDrop
	}
	return Abstain
}

func (r *RemoveDuplicatesCompactor) PostFeed(_ context.Context, c Candidate, decision Relevance) {
	dk, ok := c.Meta.DataKey()
	if !ok || !Keeps(decision) {
		return
	}
	r.mu.Lock()
	r.seen[dk.PrimaryKey] = true
	r.mu.Unlock()
}

var (
	_ EventCompactor = IndecisiveCompactor{}
	_ EventCompactor = CutOffCompactor{}
	_ EventCompactor = KeepDataCompactor{}
	_ EventCompactor = (*SignatureCompactor)(nil)
	_ EventCompactor = (*PublicKeyCompactor)(nil)
	_ EventCompactor = (*TombstoneCompactor)(nil)
	_ EventCompactor = (*RemoveDuplicatesCompactor)(nil)
)
