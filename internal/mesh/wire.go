// Package mesh implements the replication protocol between chain
// engines: a libp2p transport carrying a small framed message set, a
// client-side session pipe that can survive disconnects, and a server
// that routes subscriptions, replays history and feeds received events
// into the local engine. The server does not rebroadcast received
// events to other peers.
package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// MessageKind discriminates the wire protocol's message variants.
// Grounded on this stack's eventmodel.Metadata envelope pattern:
// a {kind, data} wrapper keeps the concrete Go type round-tripping
// through JSON without a reflection-based union.
type MessageKind string

const (
	KindSubscribe       MessageKind = "subscribe"
	KindEvents          MessageKind = "events"
	KindLock            MessageKind = "lock"
	KindUnlock          MessageKind = "unlock"
	KindStartOfHistory  MessageKind = "start_of_history"
	KindEndOfHistory    MessageKind = "end_of_history"
	KindConfirmed       MessageKind = "confirmed"
	KindCommitError     MessageKind = "commit_error"
	KindLockResult      MessageKind = "lock_result"
	KindSecuredWith     MessageKind = "secured_with"
	KindFatalTerminate  MessageKind = "fatal_terminate"
)

// WireEvent is one event as it travels the wire: metadata plus a
// payload that may be a full copy or a lazy descriptor the receiver
// must separately fetch (spec.md §4.8: "the server may send
// MessageData::LazySome and defer the bytes").
type WireEvent struct {
	Meta        eventmodel.Metadata       `json:"meta"`
	Format      eventmodel.Format         `json:"format"`
	Data        []byte                    `json:"data,omitempty"`
	LazyPayload *eventmodel.LazyDescriptor `json:"lazy_payload,omitempty"`
}

// Subscribe opens a session against chainKey, asking the server to
// stream history from the given timestamp forward.
type Subscribe struct {
	ChainKey string `json:"chain_key"`
	FromMs   int64  `json:"from_ms"`
}

// Events carries a batch of events, optionally tagged with a commit id
// the sender expects a Confirmed/CommitError reply for.
type Events struct {
	Commit *string     `json:"commit,omitempty"`
	Evts   []WireEvent `json:"evts"`
}

// Lock requests an exclusive lock on key.
type Lock struct {
	Key string `json:"key"`
}

// Unlock releases a previously granted lock on key.
type Unlock struct {
	Key string `json:"key"`
}

// StartOfHistory announces a catch-up stream about to begin.
type StartOfHistory struct {
	Size      int64    `json:"size"`
	FromMs    int64    `json:"from_ms"`
	ToMs      int64    `json:"to_ms"`
	RootKeys  []string `json:"root_keys"`
	Integrity int      `json:"integrity"`
}

// EndOfHistory marks the end of a catch-up stream.
type EndOfHistory struct{}

// Confirmed acknowledges a committed transaction by id.
type Confirmed struct {
	ID string `json:"id"`
}

// CommitError reports a rejected transaction by id.
type CommitError struct {
	ID  string `json:"id"`
	Err string `json:"err"`
}

// LockResult reports whether key is now locked, in reply to Lock.
type LockResult struct {
	Key      string `json:"key"`
	IsLocked bool   `json:"is_locked"`
}

// SecuredWith announces the session id the server has assigned.
type SecuredWith struct {
	Session string `json:"session"`
}

// RootRedirectReason names the replica the client should have talked to.
type RootRedirectReason struct {
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// FatalTerminate ends the session; Reason is one of a small set of
// string tags ("root_redirect", "protocol_error", ...), Redirect is
// populated for "root_redirect".
type FatalTerminate struct {
	Reason   string              `json:"reason"`
	Redirect *RootRedirectReason `json:"redirect,omitempty"`
	Detail   string              `json:"detail,omitempty"`
}

// Message is the outer envelope every wire frame is sent as.
type Message struct {
	Kind MessageKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps payload in a Message envelope and marshals it.
func Encode(kind MessageKind, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mesh: marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Message{Kind: kind, Data: data})
}

// Decode unwraps a Message envelope into its concrete payload type.
func Decode(raw []byte) (MessageKind, json.RawMessage, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, fmt.Errorf("mesh: unmarshal envelope: %w", err)
	}
	return m.Kind, m.Data, nil
}

// ProtocolID is the libp2p stream protocol every mesh connection speaks.
const ProtocolID = "/chainvault/mesh/1.0.0"

// ToWireEvent converts a StrongEvent for transmission. Full payload
// copies are always sent; lazy transmission (spec.md §4.8, "the server
// may send a descriptor instead of bytes") is an optimization the
// sender opts into explicitly via ToWireEventLazy.
func ToWireEvent(ev eventmodel.StrongEvent) WireEvent {
	return WireEvent{Meta: ev.Meta, Format: ev.Format, Data: ev.Data}
}

// ToWireEventLazy converts a StrongEvent into a wire event that
// references its payload by descriptor instead of copying the bytes.
func ToWireEventLazy(ev eventmodel.StrongEvent) (WireEvent, error) {
	header, err := eventmodel.BuildHeader(ev)
	if err != nil {
		return WireEvent{}, err
	}
	if ev.Data == nil {
		return WireEvent{Meta: ev.Meta, Format: ev.Format}, nil
	}
	return WireEvent{
		Meta:   ev.Meta,
		Format: ev.Format,
		LazyPayload: &eventmodel.LazyDescriptor{
			RecordHash:  header.Raw.MetaHash,
			PayloadHash: header.Raw.DataHash,
			Len:         int64(header.Raw.DataLen),
		},
	}, nil
}

// FromWireEvent converts a received wire event into a WeakEvent, ready
// for Strengthen or lazy hydration via DataRef.Materialize.
func FromWireEvent(we WireEvent) eventmodel.WeakEvent {
	if we.LazyPayload != nil {
		return eventmodel.WeakEvent{Meta: we.Meta, Format: we.Format, Data: eventmodel.LazyData(*we.LazyPayload)}
	}
	if we.Data != nil {
		return eventmodel.WeakEvent{Meta: we.Meta, Format: we.Format, Data: eventmodel.SomeData(we.Data)}
	}
	return eventmodel.WeakEvent{Meta: we.Meta, Format: we.Format, Data: eventmodel.NoData()}
}
