// Package compact implements the redo log compactor: a relevance
// combinator over a stack of EventCompactor instances, driving a
// flip-based copy-forward rewrite of the chain's segments.
package compact

import (
	"context"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// Relevance is one compactor's verdict on a single event, ordered per
// spec.md §4.9: ForceKeep beats everything, ForceDrop vetoes Keep.
type Relevance int

const (
	Abstain Relevance = iota
	Drop
	Keep
	ForceDrop
	ForceKeep
)

// Combine folds two compactors' verdicts for the same event following
// spec.md's combinator: "first ForceKeep wins, first ForceDrop vetoes
// Keep". Abstain never changes the running result.
func Combine(acc, next Relevance) Relevance {
	switch {
	case acc == ForceKeep || next == ForceKeep:
		return ForceKeep
	case acc == ForceDrop || next == ForceDrop:
		return ForceDrop
	case next == Abstain:
		return acc
	case acc == Abstain:
		return next
	case acc == Keep || next == Keep:
		return Keep
	default:
		return Drop
	}
}

// Candidate is one event under consideration during a compaction pass,
// carrying the fields compactors need without requiring access to the
// full chain engine.
type Candidate struct {
	Header eventmodel.EventHeaderRaw
	Meta   eventmodel.Metadata
	Data   []byte
}

// EventCompactor is one voting member of a compaction pass.
type EventCompactor interface {
	// Relevance votes on whether candidate should survive compaction.
	Relevance(ctx context.Context, c Candidate) Relevance

	// PostFeed is called with the combined decision once every
	// compactor has voted, so stateful compactors (SignatureCompactor,
	// TombstoneCompactor) can update bookkeeping before the next event.
	PostFeed(ctx context.Context, c Candidate, decision Relevance)
}

// Stack runs every registered EventCompactor over a candidate and
// folds their verdicts with Combine.
type Stack struct {
	compactors []EventCompactor
}

// NewStack builds a Stack from compactors, in voting order.
func NewStack(compactors ...EventCompactor) *Stack {
	return &Stack{compactors: compactors}
}

// Decide votes every compactor on c and returns the combined Relevance,
// then notifies each compactor of the outcome via PostFeed.
func (s *Stack) Decide(ctx context.Context, c Candidate) Relevance {
	result := Abstain
	for _, comp := range s.compactors {
		result = Combine(result, comp.Relevance(ctx, c))
	}
	for _, comp := range s.compactors {
		comp.PostFeed(ctx, c, result)
	}
	return result
}

// Keeps reports whether decision retains the event.
func Keeps(r Relevance) bool { return r == Keep || r == ForceKeep }
