package compact

import (
	"context"
	"fmt"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/redo"
)

// TimelineEntry is the minimal view Run needs of one timeline record,
// kept free of an internal/chain import so this package has no
// dependency on the engine beyond the redo log it compacts.
type TimelineEntry struct {
	Header eventmodel.EventHeaderRaw
	Meta   eventmodel.Metadata
	Data   []byte
}

// Run executes one compaction pass over log: walk entries
// newest-to-oldest (callers pass them pre-sorted, per spec.md §4.9
// step 3, "iterate the current timeline newest-to-oldest"), vote each
// through stack, copy keepers into a flip file, then finish the flip.
// Returns the kept entries in their original (newest-to-oldest) order,
// for the caller to replay through the live plugin stack afterward.
func Run(ctx context.Context, log redo.Log, stack *Stack, newestToOldest []TimelineEntry) ([]TimelineEntry, error) {
	flip, err := log.BeginFlip(ctx)
	if err != nil {
		return nil, fmt.Errorf("compact: begin flip: %w", err)
	}

	var kept []TimelineEntry
	for _, entry := range newestToOldest {
		decision := stack.Decide(ctx, Candidate{Header: entry.Header, Meta: entry.Meta, Data: entry.Data})
		if !Keeps(decision) {
			continue
		}
		if _, err := flip.AsLog().Write(ctx, redo.LogEntry{Header: entry.Header, Meta: entry.Meta, Data: entry.Data}); err != nil {
			return nil, fmt.Errorf("compact: copy kept entry: %w", err)
		}
		kept = append(kept, entry)
	}

	var deferredEntries []redo.LogEntry
	err = log.FinishFlip(ctx, flip, func(entries []redo.LogEntry) error {
		deferredEntries = append(deferredEntries, entries...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("compact: finish flip: %w", err)
	}

	// Entries written to the primary log during the flip were not
	// voted on and must be retained unconditionally (§4.9 step 5: "so
	// compaction is non-blocking").
	for _, e := range deferredEntries {
		kept = append([]TimelineEntry{{Header: e.Header, Meta: e.Meta, Data: e.Data}}, kept...)
	}

	return kept, nil
}
