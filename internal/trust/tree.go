package trust

import (
	"context"
	"fmt"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
)

// ErrUnauthorizedWrite is returned when no signature on the event
// satisfies the resolved write authorization.
var ErrUnauthorizedWrite = fmt.Errorf("trust: no signature satisfies write authorization")

// AuthResolver resolves the effective (non-Inherit) Authorization for
// a primary key by walking its Parent chain. Implemented by the chain
// engine, which has access to the timeline's ParentIndex and the
// metadata needed to answer this without trust importing the index
// packages directly.
type AuthResolver interface {
	AuthorizationFor(ctx context.Context, primaryKey string) (eventmodel.Authorization, bool)
}

// defaultAuth is applied when neither the event nor any ancestor
// declares an authorization: nobody may write and nobody may read,
// the conservative default for a new, undeclared data key.
var defaultAuth = eventmodel.Authorization{
	Read:  eventmodel.AuthOption{Mode: eventmodel.AuthNobody},
	Write: eventmodel.AuthOption{Mode: eventmodel.AuthNobody},
}

// TrustTree enforces write authorization by resolving each event's
// effective Authorization — its own, if not Inherit, otherwise the
// nearest ancestor's — and checking that one of the event's
// signatures satisfies the Write option. Grounded on this stack's
// did.DocumentValidator / did.Registry split: resolution (Registry)
// and enforcement (Validate) are kept as separate concerns here too,
// with AuthResolver standing in for the registry half.
type TrustTree struct {
	plugin.Base
	Resolver AuthResolver
}

// NewTrustTree builds a TrustTree backed by resolver.
func NewTrustTree(resolver AuthResolver) *TrustTree {
	return &TrustTree{Resolver: resolver}
}

func (t *TrustTree) resolve(ctx context.Context, ev eventmodel.StrongEvent) eventmodel.Authorization {
	if auth, ok := ev.Meta.Authorization(); ok && auth.Write.Mode != eventmodel.AuthInherit {
		return auth
	}
	if parent, ok := ev.Meta.Parent(); ok {
		if auth, ok := t.Resolver.AuthorizationFor(ctx, parent.ParentKey); ok {
			return auth
		}
	}
	if dk, ok := ev.Meta.DataKey(); ok {
		if auth, ok := t.Resolver.AuthorizationFor(ctx, dk.PrimaryKey); ok {
			return auth
		}
	}
	return defaultAuth
}

// Validate is the write-authorization decision: TrustTree is the one
// validator in the stack that explicitly Allows or Denies, rather than
// abstaining, since resolving auth is exactly its job. Besides a
// matching signature, spec.md §4.4 admits an event unsigned under any
// of three exceptions, checked here: the conversation has
// weaken_validation set, the node is in centralized-client mode (the
// server is the trust root; clients don't sign), or the node is in
// centralized-server mode and the effective signer has already proven
// that key earlier in this same conversation (invariant 7).
func (t *TrustTree) Validate(ctx context.Context, ev eventmodel.StrongEvent, _ eventmodel.EventHeaderRaw) (plugin.ValidationVote, error) {
	auth := t.resolve(ctx, ev)
	if auth.Write.Everyone() {
		return plugin.Allow, nil
	}
	if auth.Write.Nobody() {
		return plugin.Deny, ErrUnauthorizedWrite
	}

	mode := plugin.IntegrityModeFrom(ctx)
	conv, hasConv := plugin.ConversationFrom(ctx)

	if mode == plugin.IntegrityCentralizedClient {
		return plugin.Allow, nil
	}
	if hasConv && conv.WeakenValidation() {
		return plugin.Allow, nil
	}

	for _, sig := range ev.Meta.Signatures() {
		if auth.Write.Allows(sig.PublicKeyHash) {
			return plugin.Allow, nil
		}
	}

	if mode == plugin.IntegrityCentralizedServer && hasConv {
		for _, proven := range conv.ProvenKeys() {
			if auth.Write.Allows(proven) {
				return plugin.Allow, nil
			}
		}
	}

	return plugin.Deny, ErrUnauthorizedWrite
}

// CanRead reports whether keyHash may read the event given its
// resolved Authorization. Unlike Write, this is consulted by the DIO
// read layer rather than run as a plugin-stack validation, since
// reads never go through the write-time feed pipeline.
func (t *TrustTree) CanRead(ctx context.Context, ev eventmodel.StrongEvent, keyHash string) bool {
	auth := t.resolve(ctx, ev)
	if auth.Read.Everyone() {
		return true
	}
	if auth.Read.Nobody() {
		return false
	}
	return auth.Read.Allows(keyHash)
}

var _ plugin.Plugin = (*TrustTree)(nil)
