package dio

import (
	"context"
	"fmt"

	"github.com/chainvault/chainvault/internal/chain"
	"github.com/chainvault/chainvault/internal/eventmodel"
)

// stagedRow is one row queued for commit: its metadata so far and its
// payload bytes.
type stagedRow struct {
	primaryKey string
	meta       eventmodel.Metadata
	data       []byte
}

// DioMut wraps a Dio with the staged-mutation state spec.md §4.6
// describes: ordered staged rows, a deleted-key set, a pending-unlock
// set, and an auto-cancel flag governing the drop policy.
type DioMut struct {
	*Dio

	Scope      chain.TransactionScope
	AutoCancel bool
	Format     eventmodel.Format

	conversation string

	staged  []stagedRow
	byKey   map[string]int // primaryKey -> index into staged
	deleted map[string]struct{}
	locked  map[string]struct{}
	pendingUnlock map[string]struct{}
}

// Mutate opens a mutable view over dio's chain handle.
func Mutate(d *Dio, scope chain.TransactionScope, format eventmodel.Format) *DioMut {
	return &DioMut{
		Dio:           d,
		Scope:         scope,
		Format:        format,
		byKey:         make(map[string]int),
		deleted:       make(map[string]struct{}),
		locked:        make(map[string]struct{}),
		pendingUnlock: make(map[string]struct{}),
	}
}

// ErrLocked is returned when Store/Load touches a key this view has
// locked for exclusive access.
var ErrLocked = fmt.Errorf("dio: key is locked")

// ErrDeleted is returned when Store/Load touches a key already staged
// for deletion in this view.
var ErrDeleted = fmt.Errorf("dio: key is staged for deletion")

// Store stages meta/data for primaryKey (generated if empty),
// overwriting any previously staged row for the same key.
func (m *DioMut) Store(primaryKey string, meta eventmodel.Metadata, data []byte) (string, error) {
	if primaryKey == "" {
		generated, err := GeneratePrimaryKey()
		if err != nil {
			return "", err
		}
		primaryKey = generated
	}
	if _, locked := m.locked[primaryKey]; locked {
		return "", ErrLocked
	}
	if _, del := m.deleted[primaryKey]; del {
		return "", ErrDeleted
	}

	row := stagedRow{primaryKey: primaryKey, meta: meta, data: data}
	if idx, exists := m.byKey[primaryKey]; exists {
		m.staged[idx] = row
	} else {
		m.byKey[primaryKey] = len(m.staged)
		m.staged = append(m.staged, row)
	}
	return primaryKey, nil
}

// Load resolves primaryKey against staged state first (locked is an
// error, deleted is an error, staged-present returns the staged
// value), falling back to the read-view cache/pipe otherwise.
func (m *DioMut) Load(ctx context.Context, primaryKey string) (Row, error) {
	if _, locked := m.locked[primaryKey]; locked {
		return Row{}, ErrLocked
	}
	if _, del := m.deleted[primaryKey]; del {
		return Row{}, ErrDeleted
	}
	if idx, exists := m.byKey[primaryKey]; exists {
		s := m.staged[idx]
		return Row{PrimaryKey: primaryKey, Event: eventmodel.StrongEvent{Meta: s.meta, Data: s.data, Format: m.Format}}, nil
	}
	return m.Dio.Load(ctx, primaryKey)
}

// Delete stages primaryKey for deletion: takes a local lock, marks the
// key deleted, and drops any staged write for it.
func (m *DioMut) Delete(primaryKey string) {
	m.locked[primaryKey] = struct{}{}
	m.deleted[primaryKey] = struct{}{}
	if idx, exists := m.byKey[primaryKey]; exists {
		m.staged = append(m.staged[:idx], m.staged[idx+1:]...)
		delete(m.byKey, primaryKey)
		for k, i := range m.byKey {
			if i > idx {
				m.byKey[k] = i - 1
			}
		}
	}
	m.pendingUnlock[primaryKey] = struct{}{}
}

// SetConversation tags the transaction submitted by Commit with a
// conversation id, used by the mesh layer to correlate request/reply.
func (m *DioMut) SetConversation(id string) { m.conversation = id }

// hasPending reports whether there is anything to commit.
func (m *DioMut) hasPending() bool {
	return len(m.staged) > 0 || len(m.deleted) > 0
}

// Commit assembles staged rows and deletions into events, runs them
// through the chain's pipe, and clears staged state. It prepends no
// cross-event metadata-only event and adds no Signature records: each
// event carries its staged metadata plus whatever the plugin stack's
// Transform stage appends (trust.TimestampEnforcer stamps a missing
// Timestamp). DESIGN.md's open-question ledger records this choice.
func (m *DioMut) Commit(ctx context.Context) ([]eventmodel.StrongEvent, error) {
	if !m.hasPending() {
		return nil, nil
	}

	events := make([]eventmodel.WeakEvent, 0, len(m.staged)+len(m.deleted))
	for _, row := range m.staged {
		meta := make(eventmodel.Metadata, 0, len(row.meta)+1)
		hasKey := false
		for _, r := range row.meta {
			if r.Kind() == eventmodel.KindDataKey {
				hasKey = true
			}
		}
		if !hasKey {
			meta = append(meta, eventmodel.DataKey{PrimaryKey: row.primaryKey})
		}
		meta = append(meta, row.meta...)
		events = append(events, eventmodel.WeakEvent{
			Meta:   meta,
			Data:   eventmodel.SomeData(row.data),
			Format: m.Format,
		})
	}
	for key := range m.deleted {
		meta := eventmodel.Metadata{
			eventmodel.DataKey{PrimaryKey: key},
			eventmodel.Tombstone{PrimaryKey: key},
			eventmodel.Authorization{
				Read:  eventmodel.AuthOption{Mode: eventmodel.AuthEveryone},
				Write: eventmodel.AuthOption{Mode: eventmodel.AuthNobody},
			},
		}
		events = append(events, eventmodel.WeakEvent{Meta: meta, Data: eventmodel.NoData(), Format: m.Format})
	}

	pendingUnlock := m.pendingUnlock
	m.staged = nil
	m.byKey = make(map[string]int)
	m.deleted = make(map[string]struct{})
	m.pendingUnlock = make(map[string]struct{})

	committed, err := m.handle.Pipe.Feed(ctx, chain.Transaction{
		Scope:        m.Scope,
		Transmit:     true,
		Events:       events,
		Conversation: m.conversation,
	})

	for key := range pendingUnlock {
		go func(k string) { _ = m.handle.Pipe.Unlock(context.Background(), k) }(key)
	}
	for _, ev := range committed {
		if dk, ok := ev.Meta.DataKey(); ok {
			m.handle.broadcast.publish(dk.PrimaryKey)
		}
	}

	return committed, err
}

// Drop discards any uncommitted mutations. If AutoCancel is not set
// and uncommitted state remains, Drop panics — the Go analogue of the
// teacher's debug-assertion-on-drop policy (spec.md §4.6): a silent
// drop of unsynced mutations is reserved for call sites that opt in.
func (m *DioMut) Drop() {
	if !m.hasPending() {
		return
	}
	if !m.AutoCancel {
		panic("dio: DioMut dropped with uncommitted mutations and AutoCancel unset")
	}
	m.staged = nil
	m.byKey = make(map[string]int)
	m.deleted = make(map[string]struct{})
	m.pendingUnlock = make(map[string]struct{})
}
