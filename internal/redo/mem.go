package redo

import (
	"context"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// MemLog is the in-memory Log implementation: no files, segment index
// is always 0, records are keyed directly by hash. Used by tests and by
// chains configured with no durability.
type MemLog struct {
	mu      sync.RWMutex
	entries map[eventmodel.Hash]LogEntry
	order   []eventmodel.Hash
	header  SegmentHeader
	closed  bool
}

// NewMemLog constructs an empty in-memory log.
func NewMemLog(header SegmentHeader) *MemLog {
	return &MemLog{
		entries: make(map[eventmodel.Hash]LogEntry),
		header:  header,
	}
}

func (m *MemLog) Write(ctx context.Context, entry LogEntry) (LogLookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return LogLookup{}, ErrClosed
	}
	hash := entry.Header.EventHash()
	if _, exists := m.entries[hash]; !exists {
		m.order = append(m.order, hash)
	}
	m.entries[hash] = entry
	return LogLookup{SegmentIndex: 0, Offset: int64(len(m.order) - 1)}, nil
}

func (m *MemLog) Load(ctx context.Context, hash eventmodel.Hash) (eventmodel.EventHeaderRaw, eventmodel.Metadata, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return eventmodel.EventHeaderRaw{}, nil, nil, ErrClosed
	}
	e, ok := m.entries[hash]
	if !ok {
		return eventmodel.EventHeaderRaw{}, nil, nil, ErrHashNotFound
	}
	return e.Header, e.Meta, e.Data, nil
}

func (m *MemLog) Prime(ctx context.Context, records []PrimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		e, ok := m.entries[rec.Hash]
		if !ok {
			continue
		}
		e.Data = rec.Data
		e.Header.DataLen = uint32(len(rec.Data))
		e.Header.DataHash = eventmodel.Sum(rec.Data)
		m.entries[rec.Hash] = e
	}
	return nil
}

func (m *MemLog) Rotate(ctx context.Context, header SegmentHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = header
	return nil
}

func (m *MemLog) BeginFlip(ctx context.Context) (*FlippedLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	side := NewMemLog(m.header)
	return &FlippedLog{mem: side}, nil
}

func (m *MemLog) FinishFlip(ctx context.Context, flip *FlippedLog, deferred DeferredReplay) error {
	if flip.mem == nil {
		return wrapErr("finish_flip", -1, 0, errFlipKindMismatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if deferred != nil {
		var pending []LogEntry
		for _, h := range m.order {
			if _, already := flip.mem.entries[h]; !already {
				pending = append(pending, m.entries[h])
			}
		}
		if len(pending) > 0 {
			if err := deferred(pending); err != nil {
				return err
			}
		}
	}

	m.entries = flip.mem.entries
	m.order = flip.mem.order
	return nil
}

func (m *MemLog) Backup(ctx context.Context, includeActive bool) error {
	// No filesystem state to copy for the in-memory variant.
	return nil
}

func (m *MemLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
