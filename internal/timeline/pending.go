package timeline

import "sync"

// PendingRange is a half-open span [FromMs, ToMs) of timeline entries
// written locally while disconnected from the mesh server.
type PendingRange struct {
	FromMs int64
	ToMs   int64
}

// PendingUploadList tracks timestamp ranges of locally written entries
// awaiting upload. Nothing in internal/mesh marks or replays these
// ranges; RecoverableSessionPipe does not use this list. Ranges are
// merged on insert so a long offline session collapses to one span
// instead of one entry per write.
type PendingUploadList struct {
	mu     sync.Mutex
	ranges []PendingRange
}

// NewPendingUploadList builds an empty list.
func NewPendingUploadList() *PendingUploadList {
	return &PendingUploadList{}
}

// Mark records that an entry at ms was written while disconnected,
// extending or merging with adjacent ranges.
func (p *PendingUploadList) Mark(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(PendingRange{FromMs: ms, ToMs: ms + 1})
}

// MarkRange records that every entry in [fromMs, toMs) was written
// while disconnected.
func (p *PendingUploadList) MarkRange(fromMs, toMs int64) {
	if toMs <= fromMs {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(PendingRange{FromMs: fromMs, ToMs: toMs})
}

func (p *PendingUploadList) insert(r PendingRange) {
	merged := make([]PendingRange, 0, len(p.ranges)+1)
	inserted := false
	for _, existing := range p.ranges {
		if existing.ToMs < r.FromMs {
			merged = append(merged, existing)
			continue
		}
		if existing.FromMs > r.ToMs {
			if !inserted {
				merged = append(merged, r)
				inserted = true
			}
			merged = append(merged, existing)
			continue
		}
		if existing.FromMs < r.FromMs {
			r.FromMs = existing.FromMs
		}
		if existing.ToMs > r.ToMs {
			r.ToMs = existing.ToMs
		}
	}
	if !inserted {
		merged = append(merged, r)
	}
	p.ranges = merged
}

// Ranges returns a snapshot of the pending ranges, oldest first.
func (p *PendingUploadList) Ranges() []PendingRange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingRange, len(p.ranges))
	copy(out, p.ranges)
	return out
}

// Clear drops every range at or before ms, called once the server has
// confirmed receipt of everything up to that point.
func (p *PendingUploadList) Clear(throughMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.ranges[:0]
	for _, r := range p.ranges {
		if r.ToMs <= throughMs {
			continue
		}
		if r.FromMs < throughMs {
			r.FromMs = throughMs
		}
		kept = append(kept, r)
	}
	p.ranges = kept
}

// Empty reports whether there is nothing pending replay.
func (p *PendingUploadList) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ranges) == 0
}
