package redo

import (
	"context"
	"errors"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// LogLookup locates a record within the segmented log.
type LogLookup struct {
	SegmentIndex int
	Offset       int64
	Length       int
}

// Loader receives events recovered during Open's replay, in on-disk
// order, so the caller can rebuild its timeline and indexes.
type Loader interface {
	LoadRecovered(header eventmodel.EventHeaderRaw, meta eventmodel.Metadata, data []byte, lookup LogLookup) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(header eventmodel.EventHeaderRaw, meta eventmodel.Metadata, data []byte, lookup LogLookup) error

func (f LoaderFunc) LoadRecovered(header eventmodel.EventHeaderRaw, meta eventmodel.Metadata, data []byte, lookup LogLookup) error {
	return f(header, meta, data, lookup)
}

// Flags controls how Open behaves.
type Flags struct {
	Create     bool
	ReadOnly   bool
	RestoreDir string // if set and it holds larger segments, copy them in before replay
}

var (
	// ErrHashNotFound is returned by Load when the digest is unknown.
	ErrHashNotFound = errors.New("redo: hash not found")
	// ErrClosed is returned by any operation on a closed log.
	ErrClosed = errors.New("redo: log is closed")
)

// PrimeRecord supplies payload bytes for a record whose data had been
// stored lazily (a remote-origin event that arrived header-first).
type PrimeRecord struct {
	Hash eventmodel.Hash
	Data []byte
}

// DeferredReplay is invoked by FinishFlip with every entry appended to
// the primary log while a flip was in progress, so the caller can
// replay them into the rebuilt indexes before the flip is swapped in.
type DeferredReplay func(entries []LogEntry) error

// Log is the append-only record store contract implemented by both the
// on-disk (FileLog) and in-memory (MemLog) variants.
type Log interface {
	// Write appends entry and returns its location.
	Write(ctx context.Context, entry LogEntry) (LogLookup, error)

	// Load resolves hash to its header, metadata and payload, cache-first.
	Load(ctx context.Context, hash eventmodel.Hash) (eventmodel.EventHeaderRaw, eventmodel.Metadata, []byte, error)

	// Prime injects payload bytes for records stored lazily.
	Prime(ctx context.Context, records []PrimeRecord) error

	// Rotate closes the current appender and opens the next segment index.
	Rotate(ctx context.Context, header SegmentHeader) error

	// BeginFlip opens a side file compaction writes go to.
	BeginFlip(ctx context.Context) (*FlippedLog, error)

	// FinishFlip replays entries written to the primary during the flip,
	// then atomically swaps the flip's segments in for the primary's.
	FinishFlip(ctx context.Context, flip *FlippedLog, deferred DeferredReplay) error

	// Backup copies segments to the configured backup directory.
	Backup(ctx context.Context, includeActive bool) error

	// Count returns the number of live (non-superseded tracking aside)
	// records known to the hash index.
	Count() int

	// Close releases all resources held by the log.
	Close() error
}
