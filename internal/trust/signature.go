// Package trust implements the plugins that establish and enforce a
// chain's web of authorization: signature verification, anti-replay,
// timestamp enforcement, and authorization-tree inheritance.
package trust

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
)

// ErrNoPrivateKey is returned by Signer.Sign when constructed without
// a private key (verification-only use).
var ErrNoPrivateKey = fmt.Errorf("trust: signer has no private key")

// Signer wraps an Ed25519 key pair for producing Signature records.
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSigner wraps an existing Ed25519 key pair.
func NewSigner(public ed25519.PublicKey, private ed25519.PrivateKey) *Signer {
	return &Signer{public: public, private: private}
}

// KeyHash returns the key's canonical hash as used in PublicKey/Signature records.
func (s *Signer) KeyHash() string {
	return base64.StdEncoding.EncodeToString(eventmodel.Sum(s.public).Bytes())
}

// Sign produces a raw signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	if s.private == nil {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(s.private, data), nil
}

// SignRecord builds a Signature record over the concatenation of hashes.
func (s *Signer) SignRecord(hashes ...eventmodel.Hash) (eventmodel.Signature, error) {
	msg := make([]byte, 0, len(hashes)*eventmodel.HashSize)
	hexHashes := make([]string, len(hashes))
	for i, h := range hashes {
		msg = append(msg, h[:]...)
		hexHashes[i] = base64.StdEncoding.EncodeToString(h.Bytes())
	}
	sig, err := s.Sign(msg)
	if err != nil {
		return eventmodel.Signature{}, err
	}
	return eventmodel.Signature{
		PublicKeyHash:  s.KeyHash(),
		SignedHashes:   hexHashes,
		SignatureBytes: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// PublicKeyRecord builds the PublicKey metadata record introducing this
// signer's key.
func (s *Signer) PublicKeyRecord() eventmodel.PublicKey {
	return eventmodel.PublicKey{
		KeyHash: s.KeyHash(),
		Key:     base64.StdEncoding.EncodeToString(s.public),
	}
}

// KeyDirectory resolves a key hash to the Ed25519 public key introduced
// by some earlier PublicKey record on the chain. Populated by the
// indexing half of SignaturePlugin as PublicKey records are admitted.
type KeyDirectory struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyDirectory builds an empty directory.
func NewKeyDirectory() *KeyDirectory {
	return &KeyDirectory{keys: make(map[string]ed25519.PublicKey)}
}

func (d *KeyDirectory) put(hash string, key ed25519.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[hash] = key
}

// Lookup resolves a base64 key hash to its Ed25519 public key.
func (d *KeyDirectory) Lookup(hash string) (ed25519.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k, ok := d.keys[hash]
	return k, ok
}

func (d *KeyDirectory) clone() *KeyDirectory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ed25519.PublicKey, len(d.keys))
	for k, v := range d.keys {
		out[k] = v
	}
	return &KeyDirectory{keys: out}
}

var (
	// ErrUnknownSigner is returned when a Signature references a key
	// hash with no matching PublicKey record on the chain.
	ErrUnknownSigner = fmt.Errorf("trust: signature references unknown public key")
	// ErrBadSignature is returned when a Signature record fails to
	// verify against its claimed key and hashes.
	ErrBadSignature = fmt.Errorf("trust: signature verification failed")
	// ErrMissingRequiredSignature is returned when a SignWith record
	// names a key that never produced a matching Signature.
	ErrMissingRequiredSignature = fmt.Errorf("trust: event missing a signature required by sign_with")
)

// SignaturePlugin validates Signature records against the chain's
// known public keys, indexes newly-introduced PublicKey records, and
// enforces SignWith requirements. Grounded on the key/signature split
// this stack's crypto package keeps between Ed25519Signer (producing
// signatures) and Ed25519Verifier (checking them): this plugin plays
// the verifier role against metadata already on the wire, plus the
// directory bookkeeping an isolated verifier doesn't need.
type SignaturePlugin struct {
	plugin.Base
	dir *KeyDirectory
}

// NewSignaturePlugin builds a SignaturePlugin backed by dir. Pass a
// shared KeyDirectory so signatures can reference keys introduced by
// earlier events on the same chain.
func NewSignaturePlugin(dir *KeyDirectory) *SignaturePlugin {
	return &SignaturePlugin{dir: dir}
}

// Validate only ever Denies (an unknown signer, a bad signature, a
// missing required signature) or Abstains: it checks that whatever
// signatures are present are well-formed, but leaves the decision of
// whether a write is authorized at all to TrustTree. In centralized
// mode, a signature that verifies marks its key as proven in the
// conversation session (spec.md §4.4), so TrustTree can admit later
// unsigned events from the same key in the same conversation.
func (p *SignaturePlugin) Validate(ctx context.Context, ev eventmodel.StrongEvent, header eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	meta := ev.Meta
	mode := plugin.IntegrityModeFrom(ctx)
	conv, hasConv := plugin.ConversationFrom(ctx)
	for _, sig := range meta.Signatures() {
		key, ok := p.dir.Lookup(sig.PublicKeyHash)
		if !ok {
			for _, pk := range meta.PublicKeys() {
				if pk.KeyHash == sig.PublicKeyHash {
					decoded, err := base64.StdEncoding.DecodeString(pk.Key)
					if err == nil && len(decoded) == ed25519.PublicKeySize {
						key = ed25519.PublicKey(decoded)
						ok = true
					}
					break
				}
			}
		}
		if !ok {
			return plugin.Deny, ErrUnknownSigner
		}

		msg := make([]byte, 0, len(sig.SignedHashes)*eventmodel.HashSize)
		for _, h := range sig.SignedHashes {
			decoded, err := base64.StdEncoding.DecodeString(h)
			if err != nil {
				return plugin.Deny, fmt.Errorf("trust: decode signed hash: %w", err)
			}
			msg = append(msg, decoded...)
		}
		sigBytes, err := base64.StdEncoding.DecodeString(sig.SignatureBytes)
		if err != nil {
			return plugin.Deny, fmt.Errorf("trust: decode signature: %w", err)
		}
		if !ed25519.Verify(key, msg, sigBytes) {
			return plugin.Deny, ErrBadSignature
		}
		if hasConv && mode.IsCentralized() {
			conv.MarkProven(sig.PublicKeyHash)
		}
	}

	if req, ok := meta.SignWith(); ok {
		for _, wantHash := range req.KeyHashes {
			found := false
			for _, sig := range meta.Signatures() {
				if sig.PublicKeyHash == wantHash {
					found = true
					break
				}
			}
			if !found {
				return plugin.Deny, ErrMissingRequiredSignature
			}
		}
	}

	_ = header
	return plugin.Abstain, nil
}

func (p *SignaturePlugin) Index(_ context.Context, ev eventmodel.StrongEvent, _ eventmodel.EventHeaderRaw) error {
	for _, pk := range ev.Meta.PublicKeys() {
		decoded, err := base64.StdEncoding.DecodeString(pk.Key)
		if err != nil || len(decoded) != ed25519.PublicKeySize {
			continue
		}
		p.dir.put(pk.KeyHash, ed25519.PublicKey(decoded))
	}
	return nil
}

func (p *SignaturePlugin) Clone() plugin.Plugin {
	return &SignaturePlugin{dir: p.dir.clone()}
}

var _ plugin.Plugin = (*SignaturePlugin)(nil)
var _ plugin.Clonable = (*SignaturePlugin)(nil)
