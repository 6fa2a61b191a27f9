package plugin

import (
	"context"
	"sync"
)

// IntegrityMode mirrors a chain's trust mode (spec.md §3: "a trust mode
// {Centralized(Server|Client), Distributed}") into the validate stage,
// carried through context rather than added as a parameter to every
// Validator so existing signatures don't shift again for this. Only
// TrustTree and SignaturePlugin read it; every other validator ignores
// it.
type IntegrityMode int

const (
	IntegrityDistributed IntegrityMode = iota
	IntegrityCentralizedServer
	IntegrityCentralizedClient
)

// IsCentralized reports either centralized variant.
func (m IntegrityMode) IsCentralized() bool {
	return m == IntegrityCentralizedServer || m == IntegrityCentralizedClient
}

type integrityCtxKey struct{}

// WithIntegrityMode attaches the chain's current trust mode to ctx for
// the duration of one Stack.Feed call.
func WithIntegrityMode(ctx context.Context, m IntegrityMode) context.Context {
	return context.WithValue(ctx, integrityCtxKey{}, m)
}

// IntegrityModeFrom retrieves the mode attached by WithIntegrityMode,
// defaulting to IntegrityDistributed (the strictest mode) if none was
// attached.
func IntegrityModeFrom(ctx context.Context) IntegrityMode {
	m, _ := ctx.Value(integrityCtxKey{}).(IntegrityMode)
	return m
}

// Conversation is per-connection session state memoizing which signing
// keys have already proven ownership, and whether validation has been
// administratively weakened for this session. Grounded on spec.md
// §4.4's signature exceptions (b)/(d) and invariant 7: "once a peer has
// demonstrated ownership of a key within a conversation, subsequent
// events in that same conversation signed by that key may omit the
// signature metadata."
type Conversation struct {
	mu               sync.Mutex
	weakenValidation bool
	proven           map[string]bool
}

// NewConversation builds an empty conversation session.
func NewConversation(weakenValidation bool) *Conversation {
	return &Conversation{weakenValidation: weakenValidation, proven: make(map[string]bool)}
}

// SetWeakenValidation toggles whether this conversation is exempt from
// signature requirements.
func (c *Conversation) SetWeakenValidation(weaken bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weakenValidation = weaken
}

// WeakenValidation reports whether this conversation is currently
// exempt from signature requirements.
func (c *Conversation) WeakenValidation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weakenValidation
}

// MarkProven records that keyHash has produced a verified signature in
// this conversation.
func (c *Conversation) MarkProven(keyHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proven[keyHash] = true
}

// ProvenKeys returns a snapshot of every key hash proven so far.
func (c *Conversation) ProvenKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.proven))
	for k := range c.proven {
		out = append(out, k)
	}
	return out
}

type conversationCtxKey struct{}

// WithConversation attaches conv to ctx for the duration of one
// Stack.Feed call. A nil conv leaves ctx unchanged.
func WithConversation(ctx context.Context, conv *Conversation) context.Context {
	if conv == nil {
		return ctx
	}
	return context.WithValue(ctx, conversationCtxKey{}, conv)
}

// ConversationFrom retrieves the Conversation attached by
// WithConversation, if any.
func ConversationFrom(ctx context.Context) (*Conversation, bool) {
	conv, ok := ctx.Value(conversationCtxKey{}).(*Conversation)
	return conv, ok
}
