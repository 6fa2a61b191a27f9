package eventmodel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Format identifies the serializer used for an event's metadata and
// payload, independently of one another (spec §3: "Format tag").
type Format uint8

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

var ErrUnknownFormat = errors.New("eventmodel: unknown format tag")

// EncodeMetadata serializes m according to format.
func EncodeMetadata(format Format, m Metadata) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(m)
	case FormatBinary:
		return binaryCodec{}.Encode(m)
	default:
		return nil, ErrUnknownFormat
	}
}

// DecodeMetadata deserializes bytes previously produced by EncodeMetadata.
func DecodeMetadata(format Format, data []byte) (Metadata, error) {
	switch format {
	case FormatJSON:
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case FormatBinary:
		return binaryCodec{}.Decode(data)
	default:
		return nil, ErrUnknownFormat
	}
}

// DataRef is the payload reference half of a Weak event: present,
// lazily-materialized (remote origin, bytes not yet downloaded), or
// absent.
type DataRef struct {
	state dataState
	bytes []byte
	desc  LazyDescriptor
}

type dataState uint8

const (
	dataNone dataState = iota
	dataSome
	dataLazySome
)

// LazyDescriptor names a remote event's payload before it has been
// downloaded: enough information for a later fetch to retrieve it.
type LazyDescriptor struct {
	RecordHash  Hash
	PayloadHash Hash
	Len         int64
}

// NoData is the empty DataRef.
func NoData() DataRef { return DataRef{state: dataNone} }

// SomeData wraps payload bytes already in hand.
func SomeData(b []byte) DataRef { return DataRef{state: dataSome, bytes: b} }

// LazyData wraps a descriptor for payload not yet downloaded.
func LazyData(d LazyDescriptor) DataRef { return DataRef{state: dataLazySome, desc: d} }

func (d DataRef) IsNone() bool     { return d.state == dataNone }
func (d DataRef) IsSome() bool     { return d.state == dataSome }
func (d DataRef) IsLazySome() bool { return d.state == dataLazySome }

// Bytes returns the payload bytes, if present.
func (d DataRef) Bytes() ([]byte, bool) {
	if d.state != dataSome {
		return nil, false
	}
	return d.bytes, true
}

// Descriptor returns the lazy descriptor, if this ref is LazySome.
func (d DataRef) Descriptor() (LazyDescriptor, bool) {
	if d.state != dataLazySome {
		return LazyDescriptor{}, false
	}
	return d.desc, true
}

// ErrMissingData is returned when materializing a DataRef that has no
// bytes in hand (LazySome not yet hydrated).
var ErrMissingData = errors.New("eventmodel: payload bytes not available (lazy and not hydrated)")

// Materialize returns the payload bytes, hydrating a LazySome with the
// caller-supplied fetch result. Conversion from LazySome is the only
// lossy path in this model: the descriptor is discarded once real bytes
// are in hand.
func (d DataRef) Materialize(fetched []byte) (DataRef, []byte, error) {
	switch d.state {
	case dataNone:
		return d, nil, nil
	case dataSome:
		return d, d.bytes, nil
	case dataLazySome:
		if fetched == nil {
			return d, nil, ErrMissingData
		}
		return SomeData(fetched), fetched, nil
	default:
		return d, nil, ErrMissingData
	}
}

// WeakEvent is an event whose payload may still be a remote reference.
// This is the form used while streaming mesh history or before a local
// write has been durably staged.
type WeakEvent struct {
	Meta   Metadata
	Data   DataRef
	Format Format
}

// StrongEvent is an event whose payload, if any, is fully in hand
// alongside its derived header. This is the form persisted to the redo
// log and returned from reads.
type StrongEvent struct {
	Meta   Metadata
	Data   []byte // nil if no payload
	Format Format
}

// ErrLazyNotHydrated is returned by Strengthen when the event still
// carries an unhydrated LazySome payload.
var ErrLazyNotHydrated = errors.New("eventmodel: cannot strengthen an event with an unhydrated lazy payload")

// Strengthen converts a WeakEvent into a StrongEvent. It fails if the
// payload is still LazySome.
func (w WeakEvent) Strengthen() (StrongEvent, error) {
	switch w.Data.state {
	case dataNone:
		return StrongEvent{Meta: w.Meta, Data: nil, Format: w.Format}, nil
	case dataSome:
		return StrongEvent{Meta: w.Meta, Data: w.Data.bytes, Format: w.Format}, nil
	default:
		return StrongEvent{}, ErrLazyNotHydrated
	}
}

// Weaken converts a StrongEvent into a WeakEvent (never lossy).
func (s StrongEvent) Weaken() WeakEvent {
	if s.Data == nil {
		return WeakEvent{Meta: s.Meta, Data: NoData(), Format: s.Format}
	}
	return WeakEvent{Meta: s.Meta, Data: SomeData(s.Data), Format: s.Format}
}

// EventHeaderRaw is the persisted header: the hashes and sizes needed to
// address and frame an event without decoding its full metadata.
type EventHeaderRaw struct {
	MetaHash Hash
	MetaLen  uint32
	DataHash Hash // zero if DataLen == 0
	DataLen  uint32
	Format   Format
}

// EventHash computes the canonical event_hash: meta_hash alone when
// there is no payload, hash(meta_hash || data_hash) otherwise.
func (h EventHeaderRaw) EventHash() Hash {
	if h.DataLen == 0 {
		return h.MetaHash
	}
	return SumConcat(h.MetaHash[:], h.DataHash[:])
}

// EventHeader pairs the raw header with its decoded metadata, the form
// most of the chain engine operates on.
type EventHeader struct {
	Raw  EventHeaderRaw
	Meta Metadata
}

// BuildHeader computes an EventHeaderRaw (and therefore event_hash) for
// a StrongEvent's metadata and payload bytes.
func BuildHeader(ev StrongEvent) (EventHeader, error) {
	metaBytes, err := EncodeMetadata(ev.Format, ev.Meta)
	if err != nil {
		return EventHeader{}, fmt.Errorf("eventmodel: encode metadata: %w", err)
	}
	raw := EventHeaderRaw{
		MetaHash: Sum(metaBytes),
		MetaLen:  uint32(len(metaBytes)),
		Format:   ev.Format,
	}
	if len(ev.Data) > 0 {
		raw.DataHash = Sum(ev.Data)
		raw.DataLen = uint32(len(ev.Data))
	}
	return EventHeader{Raw: raw, Meta: ev.Meta}, nil
}
