package eventmodel

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the metadata record variants that make up an
// event's metadata list.
type Kind string

const (
	KindDataKey       Kind = "data_key"
	KindParent        Kind = "parent"
	KindTombstone     Kind = "tombstone"
	KindAuthorization Kind = "authorization"
	KindPublicKey     Kind = "public_key"
	KindSignature     Kind = "signature"
	KindSignWith      Kind = "sign_with"
	KindTimestamp     Kind = "timestamp"
	KindType          Kind = "type"
	KindReply         Kind = "reply"
	KindAuthor        Kind = "author"
)

// Record is implemented by every metadata variant.
type Record interface {
	Kind() Kind
}

// DataKey identifies the logical row an event mutates.
type DataKey struct {
	PrimaryKey string `json:"primary_key"`
}

func (DataKey) Kind() Kind { return KindDataKey }

// Parent declares membership in a parent's secondary index.
type Parent struct {
	CollectionID string `json:"collection_id"`
	ParentKey    string `json:"parent_key"`
}

func (Parent) Kind() Kind { return KindParent }

// Tombstone logically deletes the named row.
type Tombstone struct {
	PrimaryKey string `json:"primary_key"`
}

func (Tombstone) Kind() Kind { return KindTombstone }

// AuthMode enumerates the terminal and non-terminal authorization options.
type AuthMode string

const (
	AuthInherit  AuthMode = "inherit"
	AuthEveryone AuthMode = "everyone"
	AuthSpecific AuthMode = "specific"
	AuthAny      AuthMode = "any"
	AuthNobody   AuthMode = "nobody"
)

// AuthOption is one half (read or write) of an Authorization record.
type AuthOption struct {
	Mode      AuthMode `json:"mode"`
	KeyHash   string   `json:"key_hash,omitempty"`   // AuthSpecific
	KeyHashes []string `json:"key_hashes,omitempty"` // AuthAny
	Threshold int      `json:"threshold,omitempty"`  // AuthAny with a committee threshold
}

// Everyone reports whether this option is the terminal Everyone value.
func (o AuthOption) Everyone() bool { return o.Mode == AuthEveryone }

// Nobody reports whether this option is the terminal Nobody value.
func (o AuthOption) Nobody() bool { return o.Mode == AuthNobody }

// Allows reports whether keyHash satisfies this (already-resolved,
// non-Inherit) authorization option.
func (o AuthOption) Allows(keyHash string) bool {
	switch o.Mode {
	case AuthEveryone:
		return true
	case AuthSpecific:
		return o.KeyHash == keyHash
	case AuthAny:
		for _, h := range o.KeyHashes {
			if h == keyHash {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Authorization declares read/write access rules for an event.
type Authorization struct {
	Read  AuthOption `json:"read"`
	Write AuthOption `json:"write"`
}

func (Authorization) Kind() Kind { return KindAuthorization }

// PublicKey introduces a signing key into the chain.
type PublicKey struct {
	KeyHash string `json:"key_hash"`
	Key     string `json:"key"` // base64 ed25519 public key
}

func (PublicKey) Kind() Kind { return KindPublicKey }

// Signature proves the holder of PublicKeyHash signed the concatenation
// of SignedHashes.
type Signature struct {
	PublicKeyHash  string   `json:"public_key_hash"`
	SignedHashes   []string `json:"signed_hashes"`
	SignatureBytes string   `json:"signature"` // base64
}

func (Signature) Kind() Kind { return KindSignature }

// SignWith is a lint directive: this event must be signed by these keys.
type SignWith struct {
	KeyHashes []string `json:"key_hashes"`
}

func (SignWith) Kind() Kind { return KindSignWith }

// Timestamp records ms-since-epoch.
type Timestamp struct {
	MsSinceEpoch int64 `json:"ms_since_epoch"`
}

func (Timestamp) Kind() Kind { return KindTimestamp }

// Type is free-form routing metadata.
type Type struct {
	Name string `json:"name"`
}

func (Type) Kind() Kind { return KindType }

// Reply points at the primary key this event replies to.
type Reply struct {
	PrimaryKey string `json:"primary_key"`
}

func (Reply) Kind() Kind { return KindReply }

// Author is free-form routing metadata naming the event's originator.
type Author struct {
	Identity string `json:"identity"`
}

func (Author) Kind() Kind { return KindAuthor }

// Metadata is the ordered list of typed records attached to an event.
// Ordering is preserved across encode/decode: linters append, and later
// records can refer to earlier ones within the same event.
type Metadata []Record

type wireRecord struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes Metadata as an ordered list of {kind, data}
// envelopes so the concrete Go type of each record round-trips.
func (m Metadata) MarshalJSON() ([]byte, error) {
	items := make([]wireRecord, 0, len(m))
	for _, r := range m {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("eventmodel: marshal %s record: %w", r.Kind(), err)
		}
		items = append(items, wireRecord{Kind: r.Kind(), Data: data})
	}
	return json.Marshal(items)
}

// UnmarshalJSON decodes a {kind, data} envelope list back into concrete
// Record values.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var items []wireRecord
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(Metadata, 0, len(items))
	for _, it := range items {
		rec, err := decodeRecord(it.Kind, it.Data)
		if err != nil {
			return err
		}
		out = append(out, rec)
	}
	*m = out
	return nil
}

func decodeRecord(kind Kind, data []byte) (Record, error) {
	var err error
	switch kind {
	case KindDataKey:
		var r DataKey
		err = json.Unmarshal(data, &r)
		return r, err
	case KindParent:
		var r Parent
		err = json.Unmarshal(data, &r)
		return r, err
	case KindTombstone:
		var r Tombstone
		err = json.Unmarshal(data, &r)
		return r, err
	case KindAuthorization:
		var r Authorization
		err = json.Unmarshal(data, &r)
		return r, err
	case KindPublicKey:
		var r PublicKey
		err = json.Unmarshal(data, &r)
		return r, err
	case KindSignature:
		var r Signature
		err = json.Unmarshal(data, &r)
		return r, err
	case KindSignWith:
		var r SignWith
		err = json.Unmarshal(data, &r)
		return r, err
	case KindTimestamp:
		var r Timestamp
		err = json.Unmarshal(data, &r)
		return r, err
	case KindType:
		var r Type
		err = json.Unmarshal(data, &r)
		return r, err
	case KindReply:
		var r Reply
		err = json.Unmarshal(data, &r)
		return r, err
	case KindAuthor:
		var r Author
		err = json.Unmarshal(data, &r)
		return r, err
	default:
		return nil, fmt.Errorf("eventmodel: unknown metadata kind %q", kind)
	}
}

// DataKey returns the event's DataKey record, if present.
func (m Metadata) DataKey() (DataKey, bool) {
	for _, r := range m {
		if dk, ok := r.(DataKey); ok {
			return dk, true
		}
	}
	return DataKey{}, false
}

// Parent returns the event's Parent record, if present.
func (m Metadata) Parent() (Parent, bool) {
	for _, r := range m {
		if p, ok := r.(Parent); ok {
			return p, true
		}
	}
	return Parent{}, false
}

// Tombstone returns the event's Tombstone record, if present.
func (m Metadata) Tombstone() (Tombstone, bool) {
	for _, r := range m {
		if t, ok := r.(Tombstone); ok {
			return t, true
		}
	}
	return Tombstone{}, false
}

// Authorization returns the event's own Authorization record, if present.
func (m Metadata) Authorization() (Authorization, bool) {
	for _, r := range m {
		if a, ok := r.(Authorization); ok {
			return a, true
		}
	}
	return Authorization{}, false
}

// Timestamp returns the event's Timestamp record, if present.
func (m Metadata) Timestamp() (Timestamp, bool) {
	for _, r := range m {
		if t, ok := r.(Timestamp); ok {
			return t, true
		}
	}
	return Timestamp{}, false
}

// SignWith returns the event's SignWith record, if present.
func (m Metadata) SignWith() (SignWith, bool) {
	for _, r := range m {
		if s, ok := r.(SignWith); ok {
			return s, true
		}
	}
	return SignWith{}, false
}

// Signatures returns every Signature record attached to the event.
func (m Metadata) Signatures() []Signature {
	var out []Signature
	for _, r := range m {
		if s, ok := r.(Signature); ok {
			out = append(out, s)
		}
	}
	return out
}

// PublicKeys returns every PublicKey record attached to the event.
func (m Metadata) PublicKeys() []PublicKey {
	var out []PublicKey
	for _, r := range m {
		if p, ok := r.(PublicKey); ok {
			out = append(out, p)
		}
	}
	return out
}

// WithoutSignatures returns a copy of m with Signature and PublicKey
// records stripped — used by the chain engine's centralized-server
// persistence reduction.
func (m Metadata) WithoutSignatures() Metadata {
	out := make(Metadata, 0, len(m))
	for _, r := range m {
		switch r.Kind() {
		case KindSignature, KindPublicKey:
			continue
		default:
			out = append(out, r)
		}
	}
	return out
}
