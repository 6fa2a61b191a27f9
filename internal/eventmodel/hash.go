// Package eventmodel defines the canonical event representation: metadata
// records, the weak/strong event forms, and the hashing and serialization
// rules that make an event_hash reproducible across processes.
package eventmodel

import (
	"encoding/hex"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// Hash is a fixed-width cryptographic digest (BLAKE3-256).
type Hash [32]byte

// HashSize is the digest length in bytes.
const HashSize = 32

// ZeroHash is the all-zero sentinel used where "no payload" needs a
// comparable placeholder distinct from a real digest.
var ZeroHash Hash

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// String renders the hash as lowercase hex.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns a copy of the underlying digest bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

// HashFromBytes builds a Hash from a 32-byte slice.
func HashFromBytes(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != len(h) {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// Sum hashes data with BLAKE3-256.
func Sum(data []byte) Hash {
	var h Hash
	sum := blake3.Sum256(data)
	copy(h[:], sum[:])
	return h
}

// SumConcat hashes the concatenation of parts, used for
// hash(meta_hash || data_hash) per the event_hash rule.
func SumConcat(parts ...[]byte) Hash {
	hasher := blake3.New(32, nil)
	for _, p := range parts {
		hasher.Write(p)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// CID renders a hash as a CIDv1 using the blake3 multihash code, so redo
// log records and mesh-transmitted events can be named the same way
// libp2p/IPFS content is addressed elsewhere in this stack. The payload
// bytes behind the hash remain opaque to this package (spec non-goal:
// no payload schema) — only the digest is ever encoded.
func (h Hash) CID() cid.Cid {
	digest, err := mh.Encode(h.Bytes(), mh.BLAKE3)
	if err != nil {
		// mh.Encode only fails on bad length/code; our inputs are fixed.
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, digest)
}
